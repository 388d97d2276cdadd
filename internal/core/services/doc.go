// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// The batch tick state machine lives in BatchProcessor. Launcher starts and
// controls sessions, HistoryLedger keeps the per-session history, and
// QueueWorker and Scheduler drive the processor from the task queue and the
// recurring schedule respectively.
//
// Services are pure Go with no CGO.
package services
