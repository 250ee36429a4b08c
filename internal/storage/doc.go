// Package storage provides the ledger backends.
//
// Drivers:
//   - "memory" (default): records live in process memory only
//   - "file": JSON Lines journal plus periodic snapshot, no cgo or database
//   - "sqlite": a SQLite database file (modernc.org/sqlite, pure Go)
//
// Every backend also keeps the operator audit log.
package storage
