// Package journal persists connection lifecycle events to PostgreSQL.
//
// Attach wires a Writer onto a connection.ManagerConfig. Every manager callback
// becomes one session_events row with a per-session sequence number. Writes
// are batched and never block the manager.
package journal
