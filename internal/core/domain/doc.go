// Package domain defines the core business entities for catalog sync.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Session: One sync run for a scope, with its cursor and counters
//   - Lease: The per-scope mutual-exclusion claim
//   - HistoryRecord: The ledger row kept for each session
//   - Step: The next unit of work decided by a batch tick
//   - Task: A queued tick or stock-phase invocation
//   - RawRecord: Opaque catalog payload handed to the transformer
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
