// Package database provides connection pool management for PostgreSQL.
//
// The pool backs the session event journal:
//   - session_events: one row per connection lifecycle event, keyed by (session_id, seq)
package database
