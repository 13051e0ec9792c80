package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/seedling/dictation-daemon/internal/observability"
	"github.com/seedling/dictation-daemon/internal/recorder"
	"github.com/seedling/dictation-daemon/internal/resilience"
)

// Recorder is the recording controller the API drives
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (recorder.Summary, error)
	Cancel() (recorder.Summary, error)
	Toggle(ctx context.Context) (started bool, summary recorder.Summary, err error)
	Status() recorder.Status
	IsRecording() bool
	Ready(ctx context.Context) (bool, error)
}

// Options configures the router
type Options struct {
	Port           int
	MetricsEnabled bool
}

type handler struct {
	rec    Recorder
	logger zerolog.Logger
}

// NewRouter builds the control API. Action endpoints accept GET and POST so they
// can be bound to hotkeys with a plain curl.
func NewRouter(rec Recorder, opts Options, logger zerolog.Logger) http.Handler {
	h := &handler{rec: rec, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	for path, fn := range map[string]http.HandlerFunc{
		"/start":  h.handleStart,
		"/stop":   h.handleStop,
		"/cancel": h.handleCancel,
		"/toggle": h.handleToggle,
	} {
		r.Get(path, fn)
		r.Post(path, fn)
	}

	r.Get("/status", h.handleStatus)
	r.Get("/health", observability.HealthCheckHandler(opts.Port, rec.IsRecording))
	r.Get("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"asr": rec.Ready,
	}))

	if opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// NewServer wraps the router in an http.Server bound to addr
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: handler,
		// Stop waits for the final recognition result
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (h *handler) handleStart(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Msg("HTTP: /start received")

	err := h.rec.Start(r.Context())
	if errors.Is(err, recorder.ErrAlreadyRecording) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"status":  "already_recording",
			"message": "Recording is already in progress",
		})
		return
	}
	if err != nil {
		h.writeStartError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "started",
		"message": "Recording started",
	})
}

func (h *handler) handleStop(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Msg("HTTP: /stop received")

	summary, err := h.rec.Stop(r.Context())
	if errors.Is(err, recorder.ErrNotRecording) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "not_recording",
			"text":     summary.Text,
			"duration": seconds(summary.Duration),
			"message":  "No recording in progress",
		})
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "stopped",
		"text":     summary.Text,
		"duration": seconds(summary.Duration),
		"chars":    summary.Chars,
	})
}

func (h *handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Msg("HTTP: /cancel received")

	summary, err := h.rec.Cancel()
	if errors.Is(err, recorder.ErrNotRecording) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "not_recording",
			"message": "No recording in progress",
		})
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "cancelled",
		"duration": seconds(summary.Duration),
		"message":  "Recording cancelled",
	})
}

func (h *handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Msg("HTTP: /toggle received")

	started, summary, err := h.rec.Toggle(r.Context())
	if err != nil {
		h.writeStartError(w, err)
		return
	}

	if started {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "started",
			"action":  "start",
			"message": "Recording started",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "stopped",
		"action":   "stop",
		"text":     summary.Text,
		"duration": seconds(summary.Duration),
		"chars":    summary.Chars,
	})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := h.rec.Status()

	resp := map[string]interface{}{
		"recording": st.Recording,
		"text":      st.Text,
	}
	if st.Recording {
		resp["duration"] = seconds(st.Duration)
		resp["session_id"] = st.SessionID
		resp["level"] = st.Level
		resp["speaking"] = st.Speaking
	} else {
		resp["last_text"] = st.LastText
		resp["last_duration"] = seconds(st.LastDuration)
	}
	if st.LastError != "" {
		resp["error"] = st.LastError
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeStartError maps connection failures; an open breaker means fail fast
func (h *handler) writeStartError(w http.ResponseWriter, err error) {
	code := http.StatusBadGateway
	if errors.Is(err, resilience.ErrCircuitOpen) {
		code = http.StatusServiceUnavailable
	}
	h.writeError(w, code, err)
}

func (h *handler) writeError(w http.ResponseWriter, code int, err error) {
	h.logger.Error().Err(err).Int("code", code).Msg("Request failed")
	observability.RecordError("request_failed", "api")
	writeJSON(w, code, map[string]interface{}{
		"status":  "error",
		"message": err.Error(),
	})
}

// seconds rounds to two decimals for the JSON bodies
func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request through zerolog
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}
