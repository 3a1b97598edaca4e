// Package task provides the task entity and its state machine for orchard.
package task

// Status represents the current state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusReview     Status = "review"
	StatusTesting    Status = "testing"
	StatusDone       Status = "done"      // Terminal
	StatusCancelled  Status = "cancelled" // Terminal
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{
		StatusTodo, StatusInProgress, StatusBlocked, StatusReview,
		StatusTesting, StatusDone, StatusCancelled,
	}
}

// IsValidStatus returns true if the status is a valid status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusBlocked, StatusReview,
		StatusTesting, StatusDone, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for statuses that allow no further transitions.
func IsTerminal(s Status) bool {
	return s == StatusDone || s == StatusCancelled
}

// IsDone returns true if the status satisfies dependencies on the task.
func IsDone(s Status) bool {
	return s == StatusDone
}

// IsActionable returns true for statuses the scheduler may hand out.
func IsActionable(s Status) bool {
	return s == StatusTodo || s == StatusInProgress
}

// transitions is the explicit allow-list of legal status transitions.
// Any edge not listed here is rejected.
var transitions = map[Status][]Status{
	StatusTodo:       {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusDone, StatusBlocked, StatusReview, StatusTesting, StatusCancelled},
	StatusBlocked:    {StatusInProgress, StatusDone, StatusCancelled},
	StatusReview:     {StatusInProgress, StatusDone, StatusCancelled},
	StatusTesting:    {StatusInProgress, StatusDone, StatusCancelled},
	StatusDone:       {},
	StatusCancelled:  {},
}

// CanTransition reports whether the from → to edge is in the allow-list.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StatusOrder returns a numeric value for scheduler sorting
// (lower = scheduled first). Only actionable statuses are meaningful here.
func StatusOrder(s Status) int {
	switch s {
	case StatusTodo:
		return 0
	case StatusInProgress:
		return 1
	default:
		return 2
	}
}

// Priority represents the urgency/importance of a task.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityUrgent   Priority = "urgent"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ValidPriorities returns all valid priority values.
func ValidPriorities() []Priority {
	return []Priority{PriorityCritical, PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}
}

// IsValidPriority returns true if the priority is a valid priority value.
func IsValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// PriorityOrder returns a numeric value for sorting (lower = higher priority).
// Unknown priorities sort last.
func PriorityOrder(p Priority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 4
	default:
		return 5
	}
}
