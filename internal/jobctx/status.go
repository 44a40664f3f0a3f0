package jobctx

import "fmt"

// Status is a job's position in the lifecycle DAG:
// pending -> running -> (paused <-> running)* -> {completed | failed | cancelled}.
// Terminal states are absorbing: once set, no further transition succeeds.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// allowedTransitions enumerates every legal edge in the status DAG.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusRunning: {
		StatusPaused:    true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusPaused: {
		StatusRunning:   true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// CanTransition reports whether moving from `from` to `to` is legal. A
// terminal `from` never permits a transition, matching status monotonicity.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if from == to {
		return true
	}
	return allowedTransitions[from][to]
}

// ErrInvalidTransition is returned by JobContext.SetStatus when the
// requested move violates the status DAG.
type ErrInvalidTransition struct {
	From Status
	To   Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("jobctx: invalid status transition %s -> %s", e.From, e.To)
}
