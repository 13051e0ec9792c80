package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call while the breaker rejects requests
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Circuit is open, requests fail immediately
	StateHalfOpen                     // Testing if service has recovered
)

// String returns the state name
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// StateChangeFunc is called after every state transition, outside the breaker lock
type StateChangeFunc func(name string, from, to CircuitState)

// CircuitBreaker fails fast after repeated failures. It never retries on its own;
// the next caller after resetTimeout becomes the half-open trial.
type CircuitBreaker struct {
	name         string
	maxFailures  int           // Number of failures before opening circuit
	resetTimeout time.Duration // Time to wait before attempting half-open
	halfOpenMax  int           // Successful trials needed to close again

	mu                sync.RWMutex
	state             CircuitState
	failureCount      int
	lastFailTime      time.Time
	successCount      int
	probing           bool
	requestCount      int64
	failureCountTotal int64
	onStateChange     StateChangeFunc
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  1,
		state:        StateClosed,
	}
}

// OnStateChange registers a hook for state transitions
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	cb.onStateChange = fn
	cb.mu.Unlock()
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call executes fn with circuit breaker protection.
// Context cancellation is not counted as a failure.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn(ctx)

	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() != nil {
		cb.releaseTrial()
		return err
	}

	cb.RecordResult(err == nil)
	return err
}

// allowRequest checks if a request should be allowed
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()

	switch cb.state {
	case StateClosed:
		cb.mu.Unlock()
		return true

	case StateOpen:
		if time.Since(cb.lastFailTime) < cb.resetTimeout {
			cb.mu.Unlock()
			return false
		}
		cb.successCount = 0
		cb.probing = true
		notify := cb.setState(StateHalfOpen)
		cb.mu.Unlock()
		notify()
		return true

	case StateHalfOpen:
		// One trial at a time
		if cb.probing {
			cb.mu.Unlock()
			return false
		}
		cb.probing = true
		cb.mu.Unlock()
		return true
	}

	cb.mu.Unlock()
	return false
}

func (cb *CircuitBreaker) releaseTrial() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

// RecordResult records the result of a request made outside Call
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()

	cb.requestCount++
	cb.probing = false

	var notify func()
	if success {
		notify = cb.recordSuccess()
	} else {
		notify = cb.recordFailure()
	}
	cb.mu.Unlock()

	notify()
}

// recordSuccess records a successful request
func (cb *CircuitBreaker) recordSuccess() func() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMax {
			cb.failureCount = 0
			cb.successCount = 0
			return cb.setState(StateClosed)
		}
	}
	return func() {}
}

// recordFailure records a failed request
func (cb *CircuitBreaker) recordFailure() func() {
	cb.failureCountTotal++
	cb.lastFailTime = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.maxFailures {
			return cb.setState(StateOpen)
		}

	case StateHalfOpen:
		// Any failure in half-open immediately opens the circuit
		cb.successCount = 0
		return cb.setState(StateOpen)
	}
	return func() {}
}

// setState must be called with mu held; the returned func fires the hook and must run unlocked
func (cb *CircuitBreaker) setState(to CircuitState) func() {
	from := cb.state
	cb.state = to
	hook := cb.onStateChange
	if hook == nil || from == to {
		return func() {}
	}
	return func() { hook(cb.name, from, to) }
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() (state CircuitState, requestCount, failureCount int64, failureRate float64) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	state = cb.state
	requestCount = cb.requestCount
	failureCount = cb.failureCountTotal

	if requestCount > 0 {
		failureRate = float64(failureCount) / float64(requestCount) * 100.0
	}

	return
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.failureCount = 0
	cb.successCount = 0
	cb.probing = false
	notify := cb.setState(StateClosed)
	cb.mu.Unlock()

	notify()
}
