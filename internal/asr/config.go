package asr

import (
	"fmt"
	"net/http"
	"time"

	"github.com/seedling/dictation-daemon/internal/protocol"
)

// Service defaults
const (
	DefaultURL                = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"
	DefaultResourceID         = "volc.seedasr.sauc.duration"
	DefaultConnectTimeout     = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultFinalResultTimeout = 3 * time.Second
)

// SessionConfig is everything a Session needs. It is copied when the session is created.
type SessionConfig struct {
	URL            string
	AppKey         string
	AccessKey      string
	ResourceID     string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	Request        protocol.RequestConfig
}

// DefaultSessionConfig returns a config for the public endpoint without credentials
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		URL:            DefaultURL,
		ResourceID:     DefaultResourceID,
		ConnectTimeout: DefaultConnectTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		Request:        protocol.DefaultRequestConfig(),
	}
}

// Validate checks the fields required to open a connection
func (c SessionConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("asr url is required")
	}
	if c.AppKey == "" {
		return fmt.Errorf("asr app key is required")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("asr access key is required")
	}
	return nil
}

// clone returns a deep copy so later changes by the caller cannot leak into a session
func (c SessionConfig) clone() SessionConfig {
	out := c
	if c.Request.Context != nil {
		out.Request.Context = append([]string(nil), c.Request.Context...)
	}
	if out.ResourceID == "" {
		out.ResourceID = DefaultResourceID
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = DefaultWriteTimeout
	}
	return out
}

// headers builds the handshake headers for one connection
func (c SessionConfig) headers(requestID string) http.Header {
	h := http.Header{}
	h.Set("X-Api-Resource-Id", c.ResourceID)
	h.Set("X-Api-Request-Id", requestID)
	h.Set("X-Api-Access-Key", c.AccessKey)
	h.Set("X-Api-App-Key", c.AppKey)
	return h
}
