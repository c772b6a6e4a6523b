package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/rickgao/meshlink/internal/connection"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Session.URL == "" {
		return errors.New("session.url is required")
	}
	u, err := url.Parse(c.Session.URL)
	if err != nil {
		return fmt.Errorf("session.url is invalid: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("session.url must use ws or wss, got %q", u.Scheme)
	}
	switch connection.BinaryType(c.Session.BinaryType) {
	case connection.BinaryArrayBuffer, connection.BinaryText:
	default:
		return fmt.Errorf("session.binary_type must be arraybuffer or text, got %q", c.Session.BinaryType)
	}

	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit must be >= 0")
	}
	if c.Reconnect.RefreshBeforeReconnect != nil && *c.Reconnect.RefreshBeforeReconnect && c.API.BaseURL == "" {
		return errors.New("api.base_url is required when reconnect.refresh_before_reconnect is set")
	}

	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must be >= 0")
	}
	if len(c.Reconnect.Backoff) == 0 {
		return errors.New("reconnect.backoff must not be empty")
	}
	for i, d := range c.Reconnect.Backoff {
		if d <= 0 {
			return fmt.Errorf("reconnect.backoff[%d] must be > 0", i)
		}
	}

	if c.Queue.Capacity < 0 {
		return errors.New("queue.capacity must be >= 0")
	}

	if c.Journal.Enabled {
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
