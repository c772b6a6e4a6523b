package api

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/meshlink/internal/auth"
)

// Client provides access to the mesh backend REST API.
type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTokenSource sends a bearer token from src on every request.
func WithTokenSource(src auth.TokenSource) ClientOption {
	return func(c *Client) {
		c.tokens = src
	}
}

// WithRateLimit caps outgoing requests. A non-positive limit disables limiting.
func WithRateLimit(limit rate.Limit, burst int) ClientOption {
	return func(c *Client) {
		if limit <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(limit, burst)
	}
}
