package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler(18888, func() bool { return true })(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Status != "ok" || status.Port != 18888 {
		t.Errorf("Expected ok on port 18888, got %s on %d", status.Status, status.Port)
	}
	if status.Recording == nil || !*status.Recording {
		t.Error("Expected recording=true")
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthCheckFunc
		wantCode   int
		wantStatus string
	}{
		{
			name: "all healthy",
			checks: map[string]HealthCheckFunc{
				"asr": func(ctx context.Context) (bool, error) { return true, nil },
			},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name: "one failing",
			checks: map[string]HealthCheckFunc{
				"asr":     func(ctx context.Context) (bool, error) { return true, nil },
				"capture": func(ctx context.Context) (bool, error) { return false, errors.New("no capture command") },
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
		},
		{
			name:       "no checks",
			checks:     nil,
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}
			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("Failed to decode body: %v", err)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, status.Status)
			}
			if len(status.Dependencies) != len(tt.checks) {
				t.Errorf("Expected %d dependencies, got %d", len(tt.checks), len(status.Dependencies))
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestSessionMetrics_DisconnectWithoutConnect(t *testing.T) {
	m := NewSessionMetrics()
	// Must not underflow the active-session gauge
	m.RecordDisconnect()
	m.RecordConnect(true)
	m.RecordDisconnect()
	m.RecordDisconnect()
	if m.open {
		t.Error("Expected session to be closed")
	}
}
