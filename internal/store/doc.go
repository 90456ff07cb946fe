// Package store provides an SQLite journal of collaborative editing sessions.
//
// The journal is append-only:
//   - Sessions: initial document text and its checksum
//   - Requests: every operation the server applied, in apply order
//   - Lifecycle: proxies joining, leaving and being reset
//
// # Ordering
//
// Rows are keyed by (session_id, seq), where seq comes from the server's
// logical clock. Reads order by seq only, so a replay applies operations in
// exactly the order the server did. Writes use ON CONFLICT DO NOTHING, so
// recording the same event twice is harmless.
//
// # Verification
//
// Each request row stores the document checksum after it was applied.
// Replay rebuilds the document from the initial text and fails at the first
// row whose checksum does not match.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: rows must reference a recorded session
//
// The journal sits beside the server, never inside it: a Recorder drains a
// server event subscription, so no request waits on disk I/O.
package store
