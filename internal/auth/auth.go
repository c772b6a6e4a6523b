// Package auth provides session tokens for the mesh backend and builds
// connection endpoints that carry them.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// DefaultTokenParam is the query parameter the backend reads the session token from.
const DefaultTokenParam = "auth"

// ErrEmptyToken is returned when a token source has nothing to offer.
var ErrEmptyToken = errors.New("empty session token")

// TokenSource yields the current session token.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

// Token returns the token, or ErrEmptyToken when it is blank.
func (s StaticToken) Token() (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", ErrEmptyToken
	}
	return tok, nil
}

// FileToken reads the token from a file on every call. An external agent
// rotates the file, so the value is never cached.
type FileToken struct {
	Path string
}

// NewFileToken returns a FileToken for path.
func NewFileToken(path string) *FileToken {
	return &FileToken{Path: path}
}

// Token reads and trims the token file.
func (f *FileToken) Token() (string, error) {
	if f.Path == "" {
		return "", fmt.Errorf("token file path is required")
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("%s: %w", f.Path, ErrEmptyToken)
	}
	return tok, nil
}

// EndpointURL returns a resolver that embeds a fresh token from src in query
// parameter param of base. An empty param means DefaultTokenParam. A nil src
// resolves to base with no token.
func EndpointURL(base, param string, src TokenSource) func() (string, error) {
	if param == "" {
		param = DefaultTokenParam
	}

	return func() (string, error) {
		u, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse endpoint: %w", err)
		}
		if src == nil {
			return u.String(), nil
		}

		tok, err := src.Token()
		if err != nil {
			return "", fmt.Errorf("session token: %w", err)
		}

		q := u.Query()
		q.Set(param, tok)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
}

// BearerHeader returns an Authorization header carrying the current token.
func BearerHeader(src TokenSource) (http.Header, error) {
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("session token: %w", err)
	}

	h := make(http.Header)
	h.Set("Authorization", "Bearer "+tok)
	return h, nil
}
