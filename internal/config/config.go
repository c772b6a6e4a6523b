package config

import "time"

// Config is the root configuration for a meshlink instance.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	API       APIConfig       `yaml:"api"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Queue     QueueConfig     `yaml:"queue"`
	Journal   JournalConfig   `yaml:"journal"`
	Health    HealthConfig    `yaml:"health"`
}

// SessionConfig describes the control channel endpoint.
type SessionConfig struct {
	URL              string        `yaml:"url"`
	TokenFile        string        `yaml:"token_file"`  // Re-read on every connect attempt
	TokenParam       string        `yaml:"token_param"` // Query parameter carrying the token
	Protocols        []string      `yaml:"protocols"`
	BinaryType       string        `yaml:"binary_type"` // "arraybuffer" or "text"
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// APIConfig holds backend REST settings used for the session probe.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"` // Derived from session.url when empty
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // Requests per second; 0 = unlimited
	RateBurst int           `yaml:"rate_burst"`
}

// ReconnectConfig holds retry policy.
type ReconnectConfig struct {
	MaxAttempts            int             `yaml:"max_attempts"`
	Backoff                []time.Duration `yaml:"backoff"`
	RefreshBeforeReconnect *bool           `yaml:"refresh_before_reconnect"`
	ProbeTimeout           time.Duration   `yaml:"probe_timeout"`
}

// QueueConfig holds outbound buffering settings.
type QueueConfig struct {
	Enabled  *bool `yaml:"enabled"`
	Capacity int   `yaml:"capacity"` // 0 = unbounded
}

// JournalConfig holds session event journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
