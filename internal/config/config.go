package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/seedling/dictation-daemon/internal/asr"
	"github.com/seedling/dictation-daemon/internal/protocol"
)

// Config holds all configuration for the dictation daemon
type Config struct {
	// Control API
	Port int `envconfig:"SEEDLING_DAEMON_PORT" default:"18888"`

	// ASR service connection
	ASRURL        string `envconfig:"ASR_URL" default:"wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"`
	AppKey        string `envconfig:"DOUBAO_APP_KEY" required:"true"`
	AccessKey     string `envconfig:"DOUBAO_ACCESS_KEY" required:"true"`
	ResourceID    string `envconfig:"ASR_RESOURCE_ID" default:"volc.seedasr.sauc.duration"`
	UserID        string `envconfig:"ASR_USER_ID" default:"seedling_user"`
	Language      string `envconfig:"ASR_LANGUAGE" default:""` // Empty lets the service detect the language
	ModelName     string `envconfig:"ASR_MODEL_NAME" default:"bigmodel"`
	EndWindowMs   int    `envconfig:"ASR_END_WINDOW_MS" default:"3000"`
	EnableITN     bool   `envconfig:"ASR_ENABLE_ITN" default:"true"`
	EnablePunc    bool   `envconfig:"ASR_ENABLE_PUNC" default:"true"`
	EnableDDC     bool   `envconfig:"ASR_ENABLE_DDC" default:"true"`
	EnableTwoPass bool   `envconfig:"ASR_ENABLE_NONSTREAM" default:"true"`
	// Hot words / recent dialog sent as recognition context (comma separated)
	Context []string `envconfig:"ASR_CONTEXT"`

	ConnectTimeout     time.Duration `envconfig:"ASR_CONNECT_TIMEOUT" default:"10s"`
	WriteTimeout       time.Duration `envconfig:"ASR_WRITE_TIMEOUT" default:"5s"`
	FinalResultTimeout time.Duration `envconfig:"ASR_FINAL_RESULT_TIMEOUT" default:"3s"`

	// Audio capture
	CaptureCommand     string `envconfig:"CAPTURE_COMMAND" default:"sox -q -d -t raw -r 16000 -e signed -b 16 -c 1 -"`
	CaptureSampleRate  int    `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"`
	AudioQueueCapacity int    `envconfig:"AUDIO_QUEUE_CAPACITY" default:"5"` // Buffers held before dropping the oldest
	RecordingDir       string `envconfig:"RECORDING_DIR" default:""`         // Save each recording as WAV when set

	// Resilience configuration
	CircuitBreakerMaxFailures  int           `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`    // Failed connects before failing fast
	CircuitBreakerResetTimeout time.Duration `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30s"` // Wait before the next attempt

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load the env file (SEEDLING_ENV_FILE, default .env), then from environment
func Load() (*Config, error) {
	// Try to load the env file (ignore error if it doesn't exist)
	_ = godotenv.Load(GetEnv("SEEDLING_ENV_FILE", ".env"))

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express
func (c *Config) Validate() error {
	if c.AppKey == "" {
		return fmt.Errorf("DOUBAO_APP_KEY is required")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("DOUBAO_ACCESS_KEY is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("SEEDLING_DAEMON_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.CaptureSampleRate <= 0 {
		return fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive, got %d", c.CaptureSampleRate)
	}
	if c.AudioQueueCapacity <= 0 {
		return fmt.Errorf("AUDIO_QUEUE_CAPACITY must be positive, got %d", c.AudioQueueCapacity)
	}
	return nil
}

// Addr returns the control API listen address (loopback only)
func (c *Config) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Port)
}

// SessionConfig builds the immutable ASR session configuration
func (c *Config) SessionConfig() asr.SessionConfig {
	req := protocol.DefaultRequestConfig()
	req.UserID = c.UserID
	req.Language = c.Language
	req.ModelName = c.ModelName
	req.EndWindowMs = c.EndWindowMs
	req.EnableITN = c.EnableITN
	req.EnablePunc = c.EnablePunc
	req.EnableDDC = c.EnableDDC
	req.EnableNonstream = c.EnableTwoPass
	req.Context = append([]string(nil), c.Context...)

	return asr.SessionConfig{
		URL:            c.ASRURL,
		AppKey:         c.AppKey,
		AccessKey:      c.AccessKey,
		ResourceID:     c.ResourceID,
		ConnectTimeout: c.ConnectTimeout,
		WriteTimeout:   c.WriteTimeout,
		Request:        req,
	}
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
