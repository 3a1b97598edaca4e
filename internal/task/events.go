package task

import "time"

// Change records a single field mutation on a task. Changes accumulate in an
// in-memory outbox on the task and are delivered at most once per drain.
type Change struct {
	Field     string    `json:"field"`
	Old       string    `json:"old,omitempty"`
	New       string    `json:"new,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Well-known change fields beyond plain attribute names.
const (
	FieldCreated   = "created"
	FieldDeleted   = "deleted"
	FieldCompleted = "completed"
	FieldSubtask   = "subtask"
)

// recordChange appends a change event to the task's outbox.
func (t *Task) recordChange(field, oldVal, newVal string) {
	t.events = append(t.events, Change{
		Field:     field,
		Old:       oldVal,
		New:       newVal,
		Timestamp: time.Now().UTC(),
	})
}

// DrainEvents returns the accumulated change events and clears the outbox.
// Events are ordered by mutation order; each drain delivers each event at
// most once.
func (t *Task) DrainEvents() []Change {
	events := t.events
	t.events = nil
	return events
}

// PendingEvents returns the number of undrained events.
func (t *Task) PendingEvents() int {
	return len(t.events)
}
