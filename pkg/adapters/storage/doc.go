// Package storage provides ResultStore implementations for finished batch
// reports.
//
// Implementations:
//   - memory: in-process map, the default
//   - redis: Redis with JSON serialization and TTL
//   - sqlite: SQLite table via modernc.org/sqlite
package storage
