package domain

import "time"

// TaskKind selects the entry point a queued task invokes.
type TaskKind string

const (
	// TaskTick invokes the product phase.
	TaskTick TaskKind = "tick"
	// TaskStock invokes the stock reconciliation phase.
	TaskStock TaskKind = "stock"
)

// Task carries the arguments of one queued invocation.
type Task struct {
	Kind      TaskKind  `json:"kind"`
	SessionID string    `json:"session_id"`
	Scope     string    `json:"scope,omitempty"`
	Page      int       `json:"page"`
	Offset    int       `json:"offset"`
	Since     time.Time `json:"since,omitempty"`
}

// QueuedTask is a task held by the queue.
type QueuedTask struct {
	ID        string
	Task      Task
	NotBefore time.Time

	// Attempts counts claims, including the current one.
	Attempts int
}
