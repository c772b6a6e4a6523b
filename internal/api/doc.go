// Package api provides the REST client for the mesh backend.
//
// Endpoints:
//   - GET /api/me: 2xx when the session is authenticated, 401/403 when not
//
// The client is shared by every session in a process, so requests can be
// rate limited with WithRateLimit.
package api
