// Package sqlite provides a unified SQLite-based implementation of driven port interfaces.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. It implements multiple store interfaces
// through a single database connection:
//
//   - KVStore: session records, leases, flags and watermarks
//   - HistoryStore: the sync history ledger
//   - TaskQueue: delayed tick and stock tasks
//   - ProductStore: imported products and categories
//   - SchedulerStore: recurring sync tasks and their results
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.catalogsync/data/catalogsync.db
//
// # Thread Safety
//
// All operations are thread-safe. Read-modify-write operations run in
// IMMEDIATE transactions so concurrent workers serialise on the write lock.
package sqlite
