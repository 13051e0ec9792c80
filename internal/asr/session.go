package asr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/seedling/dictation-daemon/internal/observability"
	"github.com/seedling/dictation-daemon/internal/protocol"
)

// resultBufferSize is the capacity of the result stream of one connection
const resultBufferSize = 64

// closeGracePeriod bounds the write of the close frame on disconnect
const closeGracePeriod = time.Second

// link holds everything that belongs to a single connection
type link struct {
	conn      Conn
	requestID string
	results   chan *protocol.Response
	stop      chan struct{} // closed by Disconnect to unblock result emission
	done      chan struct{} // closed when the receive loop has exited
	final     chan struct{} // closed once a final result has been received

	stopOnce    sync.Once
	finalOnce   sync.Once
	finalResult *protocol.Response
}

func newLink(conn Conn, requestID string) *link {
	return &link{
		conn:      conn,
		requestID: requestID,
		results:   make(chan *protocol.Response, resultBufferSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		final:     make(chan struct{}),
	}
}

func (l *link) markFinal(resp *protocol.Response) {
	l.finalOnce.Do(func() {
		l.finalResult = resp
		close(l.final)
	})
}

func (l *link) halt() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Session is one streaming recognition connection and its state machine:
// disconnected -> connecting -> streaming -> finalizing -> disconnected.
// Sends are serialized so frames leave in sequence order. A session can be
// reconnected after Disconnect; there is no automatic reconnect.
type Session struct {
	cfg     SessionConfig
	dialer  Dialer
	logger  zerolog.Logger
	metrics *observability.SessionMetrics

	mu            sync.Mutex
	state         State
	seq           int32
	link          *link
	generation    uint64
	connectCancel context.CancelFunc
	disconnecting chan struct{}

	// writeMu is held across sequence assignment and the socket write
	writeMu sync.Mutex
}

// NewSession creates a disconnected session. A nil dialer selects a WebsocketDialer.
func NewSession(cfg SessionConfig, dialer Dialer, logger zerolog.Logger) *Session {
	cfg = cfg.clone()
	if dialer == nil {
		dialer = NewWebsocketDialer(cfg.ConnectTimeout)
	}
	return &Session{
		cfg:     cfg,
		dialer:  dialer,
		logger:  logger.With().Str("component", "asr_session").Logger(),
		metrics: observability.NewSessionMetrics(),
		state:   StateDisconnected,
		seq:     1,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RequestID returns the X-Api-Request-Id of the current or last connection
func (s *Session) RequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return ""
	}
	return s.link.requestID
}

// Results returns the result stream of the current or last connection.
// It is closed when that connection's receive loop ends. Partial results are
// dropped while the channel is full, so a slow reader only loses intermediate text.
func (s *Session) Results() <-chan *protocol.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		ch := make(chan *protocol.Response)
		close(ch)
		return ch
	}
	return s.link.results
}

// Connect dials the service, sends the full client request and starts the receive loop.
// It is only valid while disconnected. Cancelling ctx or calling Disconnect while
// connecting closes any socket that was opened.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	for s.disconnecting != nil {
		wait := s.disconnecting
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("connect: %w", ctx.Err())
		}
		s.mu.Lock()
	}

	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		return stateError("connect", state)
	}

	var dialCtx context.Context
	var cancel context.CancelFunc
	if s.cfg.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	} else {
		dialCtx, cancel = context.WithCancel(ctx)
	}
	s.generation++
	gen := s.generation
	s.state = StateConnecting
	s.connectCancel = cancel
	s.mu.Unlock()
	defer cancel()

	requestID := uuid.New().String()
	logger := s.logger.With().Str("request_id", requestID).Logger()

	fail := func(err error) error {
		s.mu.Lock()
		if s.generation == gen && s.state == StateConnecting {
			s.state = StateDisconnected
			s.connectCancel = nil
		}
		s.mu.Unlock()
		s.metrics.RecordConnect(false)
		observability.RecordError("connect", "asr")
		logger.Error().Err(err).Msg("ASR connect failed")
		return err
	}

	frame, err := protocol.EncodeFullRequest(s.cfg.Request, 1)
	if err != nil {
		return fail(fmt.Errorf("failed to encode full request: %w", err))
	}

	logger.Debug().Str("url", s.cfg.URL).Msg("Dialing ASR service")
	conn, err := s.dialer.DialContext(dialCtx, s.cfg.URL, s.cfg.headers(requestID))
	if err != nil {
		if dialCtx.Err() != nil && s.aborted(gen) {
			return fail(fmt.Errorf("connect: %w", ErrConnectAborted))
		}
		return fail(fmt.Errorf("failed to connect to ASR service: %w", err))
	}

	// Unblock the handshake write if the caller gives up or Disconnect runs
	stopWatch := context.AfterFunc(dialCtx, func() { conn.Close() })

	s.writeMu.Lock()
	err = s.write(conn, frame)
	s.writeMu.Unlock()

	if !stopWatch() {
		conn.Close()
		if s.aborted(gen) {
			return fail(fmt.Errorf("connect: %w", ErrConnectAborted))
		}
		return fail(fmt.Errorf("connect: %w", dialCtx.Err()))
	}
	if err != nil {
		conn.Close()
		return fail(fmt.Errorf("failed to send full request: %w", err))
	}

	s.mu.Lock()
	if s.generation != gen || s.state != StateConnecting {
		s.mu.Unlock()
		conn.Close()
		return fail(fmt.Errorf("connect: %w", ErrConnectAborted))
	}
	l := newLink(conn, requestID)
	s.link = l
	s.seq = 2
	s.state = StateStreaming
	s.connectCancel = nil
	s.mu.Unlock()

	s.metrics.RecordConnect(true)
	s.metrics.RecordFrameSent("full_request", 0)
	logger.Info().Msg("ASR session connected")

	go s.receiveLoop(l, logger)

	return nil
}

// aborted reports whether Disconnect superseded the connect attempt gen
func (s *Session) aborted(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation != gen || s.state != StateConnecting
}

// SendAudio sends one audio segment. Only valid while streaming.
func (s *Session) SendAudio(pcm []byte) error {
	return s.send("send audio", pcm, false)
}

// SendFinalFrame sends the empty end-of-stream frame carrying the negated sequence
// and moves the session to finalizing. Only valid while streaming.
func (s *Session) SendFinalFrame() error {
	if err := s.send("send final frame", nil, true); err != nil {
		return err
	}
	s.metrics.RecordFinalFrame()
	return nil
}

func (s *Session) send(op string, pcm []byte, final bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state != StateStreaming {
		state := s.state
		s.mu.Unlock()
		return stateError(op, state)
	}
	l := s.link
	seq := s.seq
	s.mu.Unlock()

	frame, err := protocol.EncodeAudioFrame(pcm, seq, final)
	if err != nil {
		return fmt.Errorf("%s: failed to encode audio frame: %w", op, err)
	}

	if err := s.write(l.conn, frame); err != nil {
		s.mu.Lock()
		lost := s.link != l || s.state == StateDisconnected
		s.mu.Unlock()
		if lost {
			return fmt.Errorf("%s: %w", op, ErrNotConnected)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	if s.link == l && s.state == StateStreaming {
		if final {
			s.state = StateFinalizing
		} else {
			s.seq++
		}
	}
	s.mu.Unlock()

	if final {
		s.metrics.RecordFrameSent("final", 0)
		s.logger.Debug().Int32("sequence", -seq).Msg("Sent final frame")
	} else {
		s.metrics.RecordFrameSent("audio", len(pcm))
	}
	return nil
}

func (s *Session) write(conn Conn, frame []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

// WaitForFinalResult blocks until the final result of the current connection arrives,
// timeout elapses, or ctx is done. A non-positive timeout selects DefaultFinalResultTimeout.
// A connection closed by the server before the final result is not reported; the wait
// simply times out.
func (s *Session) WaitForFinalResult(ctx context.Context, timeout time.Duration) (*protocol.Response, bool) {
	if timeout <= 0 {
		timeout = DefaultFinalResultTimeout
	}

	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return nil, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.final:
		s.metrics.RecordFinalResult(true)
		return l.finalResult, true
	case <-timer.C:
		s.metrics.RecordFinalResult(false)
		s.logger.Warn().Dur("timeout", timeout).Msg("Timed out waiting for final ASR result")
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Disconnect closes the connection from any state. It is idempotent, cancels an
// in-flight Connect, and returns once the receive loop has exited.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	for s.disconnecting != nil {
		wait := s.disconnecting
		s.mu.Unlock()
		<-wait
		s.mu.Lock()
	}

	switch s.state {
	case StateDisconnected:
		s.mu.Unlock()
		return nil

	case StateConnecting:
		cancel := s.connectCancel
		s.generation++
		s.state = StateDisconnected
		s.connectCancel = nil
		s.seq = 1
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.logger.Info().Msg("ASR connect cancelled")
		return nil
	}

	l := s.link
	done := make(chan struct{})
	s.disconnecting = done
	s.state = StateDisconnected
	s.seq = 1
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.disconnecting = nil
		s.mu.Unlock()
		close(done)
	}()

	l.halt()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send close frame")
	}
	err := l.conn.Close()

	<-l.done
	s.metrics.RecordDisconnect()
	s.logger.Info().Str("request_id", l.requestID).Msg("ASR session disconnected")

	if err != nil {
		s.logger.Debug().Err(err).Msg("Error closing ASR socket")
	}
	return nil
}

// receiveLoop decodes server frames until the socket fails or is closed
func (s *Session) receiveLoop(l *link, logger zerolog.Logger) {
	defer close(l.done)
	defer close(l.results)

	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			s.connectionLost(l, logger, err)
			return
		}

		if messageType != websocket.BinaryMessage {
			logger.Debug().Int("message_type", messageType).Msg("Ignoring non-binary message")
			continue
		}

		resp, err := protocol.DecodeResponse(data)
		if err != nil {
			s.metrics.RecordDecodeError()
			logger.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping undecodable server frame")
			continue
		}

		s.metrics.RecordResult(resp.IsSuccess())
		if !resp.IsSuccess() {
			logger.Error().Int32("code", resp.Code).Str("message", resp.Message).Msg("ASR service returned error")
		} else {
			logger.Debug().
				Int32("sequence", resp.Sequence).
				Bool("final", resp.IsFinal).
				Str("text", resp.Text).
				Msg("ASR result")
		}

		if resp.IsFinal {
			l.markFinal(resp)
		}
		s.emit(l, resp, logger)
	}
}

// emit delivers resp to the results stream. Partial results are dropped when
// the consumer falls behind; final and error results wait for room.
func (s *Session) emit(l *link, resp *protocol.Response, logger zerolog.Logger) {
	if resp.IsSuccess() && !resp.IsFinal {
		select {
		case l.results <- resp:
		default:
			logger.Warn().Int32("sequence", resp.Sequence).Msg("Results channel full, dropping partial result")
			observability.RecordError("result_dropped", "asr")
		}
		return
	}

	select {
	case l.results <- resp:
	case <-l.stop:
	}
}

// connectionLost handles a read failure. If the connection is still current it was lost
// rather than closed by Disconnect, so the session drops back to disconnected.
func (s *Session) connectionLost(l *link, logger zerolog.Logger, err error) {
	s.mu.Lock()
	current := s.link == l && s.state != StateDisconnected
	if current {
		s.state = StateDisconnected
		s.seq = 1
	}
	s.mu.Unlock()

	if !current {
		logger.Debug().Err(err).Msg("Receive loop stopped")
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		logger.Info().Msg("ASR service closed the connection")
	} else {
		logger.Warn().Err(err).Msg("ASR connection lost")
		observability.RecordError("connection_lost", "asr")
	}
	l.conn.Close()
	s.metrics.RecordDisconnect()
}
