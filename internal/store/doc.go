// Package store provides SQLite-backed diagnostics for a bridge session.
//
// Each bridge instance opens a session (a UUIDv7 id stamped with the
// runtime capability) and appends:
//   - Calls: one row per native module call that reached a terminal state
//   - Transactions: one row per mounting transaction with its timings
//
// Rows are keyed and ordered by the logical seq the bridge and shadow
// tree assign, so two runs of the same scenario read back identically
// regardless of wall time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The pragmas are passed as go-sqlite3 DSN parameters so every pooled
// connection gets them. WithReadOnly opens an existing log in mode=ro for
// inspection; it never creates or migrates the schema.
package store
