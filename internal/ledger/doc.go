// Package ledger persists per-component activity records.
//
// Each component keeps only its most recent records (DefaultMaxRecords unless
// configured). Three drivers are available:
//   - "file": one append-only JSON Lines file per component, compacted atomically
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo)
//   - "memory": process-local, for tests and dry runs
//
// Appends for a component are serialized; readers never observe a torn file.
package ledger
