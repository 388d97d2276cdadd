// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - CatalogClient: Fetches product pages, the category tree and stock levels
//   - Transformer: Maps raw records to products and writes them
//   - ProductIndex: Bulk key reads used to warm the lookup cache
//   - ProductStore: Local product and category persistence
//   - KVStore: Live session status, lease and cooperative flags
//   - TaskQueue: Durable delayed scheduling of the next tick
//   - ProfileStore: Scope settings
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - HistoryStore: Without it the ledger is unprovisioned and syncs run without history.
//   - Notifier: Without it failed sessions are only logged.
//   - SchedulerStore: Only needed by the recurring scheduler.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
