package scheduler

import "time"

// Priority orders task dispatch. Lower values dispatch first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow

	numPriorities = 3
)

// String implements fmt.Stringer.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Status is a task's position in its lifecycle.
type Status string

// Task statuses. Completed and Failed are terminal; Retry means a deferred
// re-enqueue is pending.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetry     Status = "retry"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one unit of crawl work. A task lives in exactly one place at a
// time: a priority queue, the running set, or terminal history.
type Task struct {
	ID          string
	Platform    string
	URL         string
	Priority    Priority
	Status      Status
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
}
