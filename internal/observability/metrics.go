package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "seedling_asr_active_sessions",
		Help: "Number of open ASR sessions",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seedling_asr_sessions_total",
		Help: "Total number of ASR connection attempts",
	}, []string{"status"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "seedling_asr_session_duration_seconds",
		Help:    "Duration of ASR sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Protocol metrics
	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seedling_asr_frames_sent_total",
		Help: "Total frames sent to the ASR service",
	}, []string{"type"}) // type: "full_request", "audio", "final"

	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seedling_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "captured" or "sent"

	decodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seedling_asr_decode_errors_total",
		Help: "Total server frames that failed to decode",
	})

	results = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seedling_asr_results_total",
		Help: "Total recognition results received",
	}, []string{"status"}) // status: "success" or "error"

	finalResultLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "seedling_asr_final_result_latency_seconds",
		Help:    "Time from final frame to final result in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0},
	})

	finalResultTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seedling_asr_final_result_timeouts_total",
		Help: "Total waits for a final result that timed out",
	})

	// Capture metrics
	droppedBuffers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seedling_audio_dropped_buffers_total",
		Help: "Capture buffers dropped because the queue was full",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seedling_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "seedling_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seedling_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single ASR session
type SessionMetrics struct {
	startTime      time.Time
	finalFrameTime time.Time
	open           bool
	mu             sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics() *SessionMetrics {
	return &SessionMetrics{}
}

// RecordConnect records a connection attempt
func (m *SessionMetrics) RecordConnect(success bool) {
	if !success {
		sessionsTotal.WithLabelValues("error").Inc()
		return
	}
	sessionsTotal.WithLabelValues("success").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	// A new connection starts a new final-result measurement
	m.finalFrameTime = time.Time{}
	if !m.open {
		m.open = true
		m.startTime = time.Now()
		activeSessions.Inc()
	}
}

// RecordDisconnect records the end of a session; only the first call after a connect counts
func (m *SessionMetrics) RecordDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return
	}
	m.open = false
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordFrameSent records a frame written to the socket
func (m *SessionMetrics) RecordFrameSent(frameType string, pcmBytes int) {
	framesSent.WithLabelValues(frameType).Inc()
	if pcmBytes > 0 {
		audioBytes.WithLabelValues("sent").Add(float64(pcmBytes))
	}
}

// RecordFinalFrame marks the moment the final frame went out
func (m *SessionMetrics) RecordFinalFrame() {
	m.mu.Lock()
	m.finalFrameTime = time.Now()
	m.mu.Unlock()
}

// RecordFinalResult records how the wait for the final result ended
func (m *SessionMetrics) RecordFinalResult(received bool) {
	if !received {
		finalResultTimeouts.Inc()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.finalFrameTime.IsZero() {
		finalResultLatency.Observe(time.Since(m.finalFrameTime).Seconds())
		m.finalFrameTime = time.Time{}
	}
}

// RecordResult records a decoded server result
func (m *SessionMetrics) RecordResult(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	results.WithLabelValues(status).Inc()
}

// RecordDecodeError records a server frame that could not be decoded
func (m *SessionMetrics) RecordDecodeError() {
	decodeErrors.Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordCapturedBytes records audio bytes delivered by the capture source
func RecordCapturedBytes(n int) {
	audioBytes.WithLabelValues("captured").Add(float64(n))
}

// RecordDroppedBuffer records a capture buffer dropped on queue overflow
func RecordDroppedBuffer() {
	droppedBuffers.Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
