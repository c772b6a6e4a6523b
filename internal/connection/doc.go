// Package connection implements the session Connection Manager.
//
// The Connection Manager:
//   - Owns at most one WebSocket transport and one pending reconnect timer
//   - Reconnects with a table-driven backoff, up to a fixed attempt budget
//   - Probes the backend session before retrying after auth-looking closes
//   - Buffers outbound frames while disconnected and flushes them in order on open
//   - Hands inbound frames to the caller untouched
//
// State machine:
//
//	disconnected -> connecting -> connected -> disconnected -> reconnecting -> connecting ...
//	                                                        \-> failed (until Reconnect)
package connection
