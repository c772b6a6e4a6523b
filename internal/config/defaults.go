package config

import (
	"net/url"
	"time"

	"github.com/rickgao/meshlink/internal/auth"
	"github.com/rickgao/meshlink/internal/connection"
)

// Default values for optional configuration fields.
const (
	DefaultBinaryType       = string(connection.BinaryArrayBuffer)
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultAPITimeout       = 10 * time.Second
	DefaultMaxAttempts      = 5
	DefaultProbeTimeout     = 10 * time.Second
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
	DefaultBatchSize        = 100
	DefaultFlushInterval    = 1 * time.Second
	DefaultBufferSize       = 10000
	DefaultHealthPort       = 8081
)

func (c *Config) applyDefaults() {
	// Session defaults
	if c.Session.TokenParam == "" {
		c.Session.TokenParam = auth.DefaultTokenParam
	}
	if c.Session.BinaryType == "" {
		c.Session.BinaryType = DefaultBinaryType
	}
	if c.Session.HandshakeTimeout == 0 {
		c.Session.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Session.PingInterval == 0 {
		c.Session.PingInterval = DefaultPingInterval
	}
	if c.Session.PingTimeout == 0 {
		c.Session.PingTimeout = DefaultPingTimeout
	}
	if c.Session.WriteTimeout == 0 {
		c.Session.WriteTimeout = DefaultWriteTimeout
	}

	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = deriveBaseURL(c.Session.URL)
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.RateLimit > 0 && c.API.RateBurst == 0 {
		c.API.RateBurst = 1
	}

	// Reconnect defaults
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}
	if len(c.Reconnect.Backoff) == 0 {
		c.Reconnect.Backoff = append([]time.Duration(nil), connection.DefaultBackoff...)
	}
	if c.Reconnect.RefreshBeforeReconnect == nil {
		c.Reconnect.RefreshBeforeReconnect = boolPtr(true)
	}
	if c.Reconnect.ProbeTimeout == 0 {
		c.Reconnect.ProbeTimeout = DefaultProbeTimeout
	}

	// Queue defaults
	if c.Queue.Enabled == nil {
		c.Queue.Enabled = boolPtr(true)
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}
	applyDBDefaults(&c.Journal.Database)

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// deriveBaseURL maps a ws/wss session URL to the http/https origin of the
// same host. Returns "" when the URL cannot be mapped.
func deriveBaseURL(sessionURL string) string {
	u, err := url.Parse(sessionURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return ""
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}

func boolPtr(b bool) *bool {
	return &b
}
