package domain

import "time"

// Step is the decision a tick returns about the next unit of work.
// A dispatcher turns it into at most one queue submission.
type Step interface {
	isStep()
}

// ScheduleTick runs another product tick at the given cursor after Delay.
type ScheduleTick struct {
	Page   int
	Offset int
	Delay  time.Duration
}

// ScheduleStock ends the product phase and runs the stock phase after Delay.
type ScheduleStock struct {
	Delay  time.Duration
	Reason string
}

// Finalize reports that the session reached a terminal status.
type Finalize struct {
	Outcome SessionStatus
	Reason  string
}

// Suspend reports that the session was paused. Nothing is scheduled until resume.
type Suspend struct {
	Page int
}

// NoOp reports that the tick changed nothing, for example because it was stale.
type NoOp struct {
	Reason string
}

func (ScheduleTick) isStep()  {}
func (ScheduleStock) isStep() {}
func (Finalize) isStep()      {}
func (Suspend) isStep()       {}
func (NoOp) isStep()          {}

// StepName returns a short label for logs and metrics.
func StepName(s Step) string {
	switch s.(type) {
	case ScheduleTick:
		return "tick"
	case ScheduleStock:
		return "stock"
	case Finalize:
		return "finalize"
	case Suspend:
		return "suspend"
	case NoOp:
		return "noop"
	default:
		return "unknown"
	}
}
