package config

import (
	"github.com/rickgao/meshlink/internal/auth"
	"github.com/rickgao/meshlink/internal/connection"
)

// TokenSource returns the file-backed session token, or nil when no token
// file is configured.
func (c *Config) TokenSource() auth.TokenSource {
	if c.Session.TokenFile == "" {
		return nil
	}
	return auth.NewFileToken(c.Session.TokenFile)
}

// ManagerConfig maps the file to connection manager settings. Callbacks are
// left unset for the caller to fill in.
func (c *Config) ManagerConfig() connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()

	mc.URL = c.Session.URL
	if src := c.TokenSource(); src != nil {
		mc.URLFunc = auth.EndpointURL(c.Session.URL, c.Session.TokenParam, src)
	}
	mc.Protocols = c.Session.Protocols
	if c.Session.BinaryType != "" {
		mc.BinaryType = connection.BinaryType(c.Session.BinaryType)
	}

	if c.Reconnect.MaxAttempts != 0 {
		mc.MaxReconnectAttempts = c.Reconnect.MaxAttempts
	}
	if len(c.Reconnect.Backoff) > 0 {
		mc.ReconnectBackoff = append(mc.ReconnectBackoff[:0:0], c.Reconnect.Backoff...)
	}
	if c.Reconnect.RefreshBeforeReconnect != nil {
		mc.RefreshTokenBeforeReconnect = *c.Reconnect.RefreshBeforeReconnect
	}
	if c.Reconnect.ProbeTimeout > 0 {
		mc.ProbeTimeout = c.Reconnect.ProbeTimeout
	}

	if c.Queue.Enabled != nil {
		mc.EnableMessageQueue = *c.Queue.Enabled
	}
	mc.QueueCapacity = c.Queue.Capacity

	return mc
}

// TransportConfig maps the session timeouts to transport settings.
func (c *Config) TransportConfig() connection.TransportConfig {
	return connection.TransportConfig{
		HandshakeTimeout: c.Session.HandshakeTimeout,
		PingInterval:     c.Session.PingInterval,
		PingTimeout:      c.Session.PingTimeout,
		WriteTimeout:     c.Session.WriteTimeout,
	}
}
