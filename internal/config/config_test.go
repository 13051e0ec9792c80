package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequired() func() {
	os.Setenv("DOUBAO_APP_KEY", "test-app-key")
	os.Setenv("DOUBAO_ACCESS_KEY", "test-access-key")
	return func() {
		os.Unsetenv("DOUBAO_APP_KEY")
		os.Unsetenv("DOUBAO_ACCESS_KEY")
	}
}

func TestLoad(t *testing.T) {
	defer setRequired()()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.AppKey != "test-app-key" {
		t.Errorf("Expected AppKey 'test-app-key', got '%s'", cfg.AppKey)
	}

	if cfg.AccessKey != "test-access-key" {
		t.Errorf("Expected AccessKey 'test-access-key', got '%s'", cfg.AccessKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("DOUBAO_APP_KEY")
	os.Unsetenv("DOUBAO_ACCESS_KEY")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	defer setRequired()()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != 18888 {
		t.Errorf("Expected default Port 18888, got %d", cfg.Port)
	}

	if cfg.ASRURL != "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async" {
		t.Errorf("Unexpected default ASRURL '%s'", cfg.ASRURL)
	}

	if cfg.ResourceID != "volc.seedasr.sauc.duration" {
		t.Errorf("Expected default ResourceID 'volc.seedasr.sauc.duration', got '%s'", cfg.ResourceID)
	}

	if cfg.ModelName != "bigmodel" {
		t.Errorf("Expected default ModelName 'bigmodel', got '%s'", cfg.ModelName)
	}

	if cfg.EndWindowMs != 3000 {
		t.Errorf("Expected default EndWindowMs 3000, got %d", cfg.EndWindowMs)
	}

	if cfg.FinalResultTimeout != 3*time.Second {
		t.Errorf("Expected default FinalResultTimeout 3s, got %v", cfg.FinalResultTimeout)
	}

	if cfg.AudioQueueCapacity != 5 {
		t.Errorf("Expected default AudioQueueCapacity 5, got %d", cfg.AudioQueueCapacity)
	}

	if cfg.CaptureSampleRate != 16000 {
		t.Errorf("Expected default CaptureSampleRate 16000, got %d", cfg.CaptureSampleRate)
	}

	if cfg.CircuitBreakerResetTimeout != 30*time.Second {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30s, got %v", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected metrics to be enabled by default")
	}

	if len(cfg.Context) != 0 {
		t.Errorf("Expected no default context, got %v", cfg.Context)
	}
}

func TestLoad_Overrides(t *testing.T) {
	defer setRequired()()
	os.Setenv("SEEDLING_DAEMON_PORT", "19999")
	os.Setenv("ASR_CONTEXT", "Kubernetes,Seedling")
	os.Setenv("ASR_FINAL_RESULT_TIMEOUT", "1500ms")
	os.Setenv("ASR_ENABLE_DDC", "false")
	defer os.Unsetenv("SEEDLING_DAEMON_PORT")
	defer os.Unsetenv("ASR_CONTEXT")
	defer os.Unsetenv("ASR_FINAL_RESULT_TIMEOUT")
	defer os.Unsetenv("ASR_ENABLE_DDC")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != 19999 {
		t.Errorf("Expected Port 19999, got %d", cfg.Port)
	}
	if cfg.Addr() != "127.0.0.1:19999" {
		t.Errorf("Expected loopback address, got %s", cfg.Addr())
	}
	if len(cfg.Context) != 2 || cfg.Context[0] != "Kubernetes" || cfg.Context[1] != "Seedling" {
		t.Errorf("Expected context [Kubernetes Seedling], got %v", cfg.Context)
	}
	if cfg.FinalResultTimeout != 1500*time.Millisecond {
		t.Errorf("Expected FinalResultTimeout 1.5s, got %v", cfg.FinalResultTimeout)
	}
	if cfg.EnableDDC {
		t.Error("Expected EnableDDC false")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"port zero", func(c *Config) { c.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Port = 70000 }, true},
		{"zero queue", func(c *Config) { c.AudioQueueCapacity = 0 }, true},
		{"zero sample rate", func(c *Config) { c.CaptureSampleRate = 0 }, true},
		{"missing access key", func(c *Config) { c.AccessKey = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Port:               18888,
				AppKey:             "a",
				AccessKey:          "b",
				CaptureSampleRate:  16000,
				AudioQueueCapacity: 5,
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := &Config{
		ASRURL:         "wss://example.test/asr",
		AppKey:         "app",
		AccessKey:      "access",
		ResourceID:     "res",
		UserID:         "user-1",
		Language:       "en-US",
		ModelName:      "bigmodel",
		EndWindowMs:    800,
		EnableITN:      true,
		EnablePunc:     false,
		EnableDDC:      true,
		EnableTwoPass:  false,
		Context:        []string{"hot word"},
		ConnectTimeout: 2 * time.Second,
		WriteTimeout:   time.Second,
	}

	sc := cfg.SessionConfig()

	if sc.URL != "wss://example.test/asr" || sc.AppKey != "app" || sc.AccessKey != "access" || sc.ResourceID != "res" {
		t.Errorf("Unexpected connection settings: %+v", sc)
	}
	if sc.ConnectTimeout != 2*time.Second || sc.WriteTimeout != time.Second {
		t.Errorf("Unexpected timeouts: %v %v", sc.ConnectTimeout, sc.WriteTimeout)
	}
	req := sc.Request
	if req.UserID != "user-1" || req.Language != "en-US" || req.EndWindowMs != 800 {
		t.Errorf("Unexpected request config: %+v", req)
	}
	if req.EnablePunc || req.EnableNonstream || !req.EnableITN || !req.EnableDDC {
		t.Errorf("Unexpected feature flags: %+v", req)
	}
	if req.SampleRate != 16000 || req.Bits != 16 || req.Channels != 1 {
		t.Errorf("Expected 16kHz 16-bit mono, got %d/%d/%d", req.SampleRate, req.Bits, req.Channels)
	}

	cfg.Context[0] = "mutated"
	if req.Context[0] != "hot word" {
		t.Error("Expected session config context to be a copy")
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("Expected valid session config, got %v", err)
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("SEEDLING_TEST_VALUE", "set")
	defer os.Unsetenv("SEEDLING_TEST_VALUE")

	if v := GetEnv("SEEDLING_TEST_VALUE", "default"); v != "set" {
		t.Errorf("Expected 'set', got '%s'", v)
	}
	if v := GetEnv("SEEDLING_TEST_MISSING", "default"); v != "default" {
		t.Errorf("Expected 'default', got '%s'", v)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seedling.env")
	content := "DOUBAO_APP_KEY=file-app-key\nDOUBAO_ACCESS_KEY=file-access-key\nSEEDLING_DAEMON_PORT=19999\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	os.Setenv("SEEDLING_ENV_FILE", path)
	defer func() {
		for _, key := range []string{"SEEDLING_ENV_FILE", "DOUBAO_APP_KEY", "DOUBAO_ACCESS_KEY", "SEEDLING_DAEMON_PORT"} {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.AppKey != "file-app-key" {
		t.Errorf("Expected AppKey from env file, got '%s'", cfg.AppKey)
	}
	if cfg.Port != 19999 {
		t.Errorf("Expected port 19999 from env file, got %d", cfg.Port)
	}
}
