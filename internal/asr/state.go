package asr

import (
	"errors"
	"fmt"
)

// State is the connection lifecycle state of a Session
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateFinalizing // Final frame sent, waiting for the last result
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var (
	// ErrNotConnected is returned when sending on a session with no live connection
	ErrNotConnected = errors.New("asr session is not connected")

	// ErrInvalidState is returned when an operation is not allowed in the current state
	ErrInvalidState = errors.New("invalid asr session state")

	// ErrConnectAborted is returned by Connect when Disconnect was called while connecting
	ErrConnectAborted = errors.New("asr connect aborted")
)

func stateError(op string, state State) error {
	if state == StateDisconnected {
		return fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	return fmt.Errorf("%s: %w (state %s)", op, ErrInvalidState, state)
}
