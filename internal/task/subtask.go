package task

import (
	"fmt"
	"strconv"

	"github.com/rcalvert/orchard/internal/errors"
	"github.com/rcalvert/orchard/internal/taskid"
)

// Subtask is an embedded, lighter-weight unit of work owned by exactly one
// task. Subtasks carry hierarchical ids (parent id + ".NNN") but remain
// addressable by their historical 1-based position for older callers.
type Subtask struct {
	ID          string   `yaml:"id" json:"id"`
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Completed   bool     `yaml:"completed" json:"completed"`
	Assignees   []string `yaml:"assignees,omitempty" json:"assignees,omitempty"`
}

// SubtaskRef addresses a subtask either by hierarchical id or by historical
// positional index. Exactly one addressing mode is set; ByID and ByIndex are
// the only constructors.
type SubtaskRef struct {
	id    string
	index int
	byID  bool
}

// ByID references a subtask by its hierarchical id.
func ByID(id string) SubtaskRef {
	return SubtaskRef{id: id, byID: true}
}

// ByIndex references a subtask by its 1-based position.
func ByIndex(index int) SubtaskRef {
	return SubtaskRef{index: index}
}

func (r SubtaskRef) String() string {
	if r.byID {
		return r.id
	}
	return strconv.Itoa(r.index)
}

// matchSubtask resolves a reference against the subtask list. Both addressing
// modes are canonical: an id reference matches on equal id, an index
// reference matches the subtask at that position or the one whose id sequence
// equals the index. Returns -1 when nothing matches.
func matchSubtask(subtasks []Subtask, ref SubtaskRef) int {
	if ref.byID {
		for i, st := range subtasks {
			if st.ID == ref.id {
				return i
			}
		}
		return -1
	}

	if ref.index >= 1 && ref.index <= len(subtasks) {
		return ref.index - 1
	}
	// Positions shift as subtasks are removed; fall back to the id sequence,
	// which is stable for the subtask's lifetime.
	for i, st := range subtasks {
		if taskid.ID(st.ID).Sequence() == ref.index {
			return i
		}
	}
	return -1
}

// AddSubtask appends a new subtask, allocating the next hierarchical id under
// this task. Fails once 999 subtasks have been allocated.
func (t *Task) AddSubtask(title, description string) (*Subtask, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}

	existing := make([]string, len(t.Subtasks))
	for i, st := range t.Subtasks {
		existing[i] = st.ID
	}
	id, err := taskid.NextSubtaskID(t.ID, existing)
	if err != nil {
		if _, ok := err.(*taskid.CapacityError); ok {
			return nil, errors.ErrCapacityExceeded(string(t.ID)).WithCause(err)
		}
		return nil, err
	}

	t.Subtasks = append(t.Subtasks, Subtask{
		ID:          string(id),
		Title:       title,
		Description: description,
	})
	t.invalidateContext()
	t.touch()
	t.recordChange(FieldSubtask, "", string(id))
	return &t.Subtasks[len(t.Subtasks)-1], nil
}

// GetSubtask resolves a subtask reference.
func (t *Task) GetSubtask(ref SubtaskRef) (*Subtask, error) {
	i := matchSubtask(t.Subtasks, ref)
	if i < 0 {
		return nil, errors.ErrTaskNotFound(subtaskRefID(t, ref))
	}
	return &t.Subtasks[i], nil
}

// RemoveSubtask deletes a subtask.
func (t *Task) RemoveSubtask(ref SubtaskRef) error {
	i := matchSubtask(t.Subtasks, ref)
	if i < 0 {
		return errors.ErrTaskNotFound(subtaskRefID(t, ref))
	}

	id := t.Subtasks[i].ID
	t.Subtasks = append(t.Subtasks[:i], t.Subtasks[i+1:]...)
	t.invalidateContext()
	t.touch()
	t.recordChange(FieldSubtask, id, "")
	return nil
}

// UpdateSubtask changes a subtask's title and/or description. Empty arguments
// leave the corresponding field untouched.
func (t *Task) UpdateSubtask(ref SubtaskRef, title, description string) error {
	i := matchSubtask(t.Subtasks, ref)
	if i < 0 {
		return errors.ErrTaskNotFound(subtaskRefID(t, ref))
	}

	st := &t.Subtasks[i]
	if title != "" {
		if err := validateTitle(title); err != nil {
			return err
		}
		st.Title = title
	}
	if description != "" {
		st.Description = description
	}
	t.invalidateContext()
	t.touch()
	t.recordChange(FieldSubtask, st.ID, st.ID)
	return nil
}

// CompleteSubtask marks a subtask completed.
func (t *Task) CompleteSubtask(ref SubtaskRef) error {
	i := matchSubtask(t.Subtasks, ref)
	if i < 0 {
		return errors.ErrTaskNotFound(subtaskRefID(t, ref))
	}

	st := &t.Subtasks[i]
	if st.Completed {
		return nil
	}
	st.Completed = true
	t.touch()
	t.recordChange(FieldSubtask, st.ID, "completed")
	return nil
}

// FirstIncompleteSubtask returns the first subtask not yet completed, or nil.
func (t *Task) FirstIncompleteSubtask() *Subtask {
	for i := range t.Subtasks {
		if !t.Subtasks[i].Completed {
			return &t.Subtasks[i]
		}
	}
	return nil
}

// HasCompletedSubtasks reports whether any subtask is completed.
func (t *Task) HasCompletedSubtasks() bool {
	for _, st := range t.Subtasks {
		if st.Completed {
			return true
		}
	}
	return false
}

// subtaskRefID renders a reference for error messages.
func subtaskRefID(t *Task, ref SubtaskRef) string {
	if ref.byID {
		return ref.id
	}
	return fmt.Sprintf("%s subtask #%d", t.ID, ref.index)
}
