package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/rickgao/meshlink/internal/connection"
)

// SessionPath is the endpoint used to check whether the session is still valid.
const SessionPath = "/api/me"

// CheckSession asks the backend whether the current session is authenticated.
// A 401 or 403 means the session is gone and is reported as (false, nil).
// Any other failure is returned as an error.
func (c *Client) CheckSession(ctx context.Context) (bool, error) {
	status, err := c.doRequest(ctx, http.MethodGet, SessionPath)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsUnauthorized() {
			c.logger.Debug("session rejected", "status", status)
			return false, nil
		}
		return false, err
	}

	c.logger.Debug("session valid", "status", status)
	return true, nil
}

// SessionProber adapts c to the credential probe used before reconnects.
func SessionProber(c *Client) connection.Prober {
	return connection.ProberFunc(c.CheckSession)
}
