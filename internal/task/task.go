package task

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/rcalvert/orchard/internal/errors"
	"github.com/rcalvert/orchard/internal/taskid"
)

const (
	// MaxTitleLen is the maximum title length in characters.
	MaxTitleLen = 200
	// MaxDescriptionLen is the maximum description length in characters.
	MaxDescriptionLen = 1000
)

// Task represents a unit of work. A task instance is owned exclusively by the
// use case operating on it during a single request; it is never deep-copied.
type Task struct {
	// ID is the unique identifier (e.g., 20250128001)
	ID taskid.ID `yaml:"id" json:"id"`

	// Title is a short description of the task
	Title string `yaml:"title" json:"title"`

	// Description is the full task description
	Description string `yaml:"description" json:"description"`

	// Status is the current lifecycle state
	Status Status `yaml:"status" json:"status"`

	// Priority indicates the urgency/importance of the task
	Priority Priority `yaml:"priority" json:"priority"`

	// ProjectID is the owning project
	ProjectID string `yaml:"project_id,omitempty" json:"project_id,omitempty"`

	// Details holds free-text working notes
	Details string `yaml:"details,omitempty" json:"details,omitempty"`

	// EstimatedEffort is a free-form effort estimate (e.g., "2h", "3d")
	EstimatedEffort string `yaml:"estimated_effort,omitempty" json:"estimated_effort,omitempty"`

	// Assignees lists agent references working the task
	Assignees []string `yaml:"assignees,omitempty" json:"assignees,omitempty"`

	// Labels lists free-form labels
	Labels []string `yaml:"labels,omitempty" json:"labels,omitempty"`

	// Dependencies lists task ids that must be done before this task,
	// in the order they were added
	Dependencies []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`

	// Subtasks holds embedded subtask records
	Subtasks []Subtask `yaml:"subtasks,omitempty" json:"subtasks,omitempty"`

	// DueDate is an optional deadline
	DueDate *time.Time `yaml:"due_date,omitempty" json:"due_date,omitempty"`

	// ContextID references the external work-context artifact generated for
	// the task's current state. Empty means no current context; completion
	// requires a non-empty marker. Field mutations clear it.
	ContextID string `yaml:"context_id,omitempty" json:"context_id,omitempty"`

	// Deleted marks the task as soft-deleted
	Deleted bool `yaml:"deleted,omitempty" json:"deleted,omitempty"`

	// CreatedAt is when the task was created (UTC)
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`

	// UpdatedAt is when the task was last updated (UTC)
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`

	// events is the in-memory change outbox, drained via DrainEvents
	events []Change
}

// New creates a task with the given identifier, title and description.
// Status defaults to todo and priority to medium.
func New(id taskid.ID, title, description string) (*Task, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if err := validateDescription(description); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &Task{
		ID:          id,
		Title:       title,
		Description: description,
		Status:      StatusTodo,
		Priority:    PriorityMedium,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.recordChange(FieldCreated, "", string(id))
	return t, nil
}

func validateTitle(title string) error {
	if title == "" {
		return errors.ErrEmptyField("title")
	}
	if len([]rune(title)) > MaxTitleLen {
		return errors.ErrFieldTooLong("title", MaxTitleLen)
	}
	return nil
}

func validateDescription(description string) error {
	if description == "" {
		return errors.ErrEmptyField("description")
	}
	if len([]rune(description)) > MaxDescriptionLen {
		return errors.ErrFieldTooLong("description", MaxDescriptionLen)
	}
	return nil
}

// Validate checks the task's invariants. Used when loading records that may
// have been edited externally.
func (t *Task) Validate() error {
	if _, err := taskid.Parse(string(t.ID)); err != nil {
		return errors.ErrInvalidID(string(t.ID)).WithCause(err)
	}
	if err := validateTitle(t.Title); err != nil {
		return err
	}
	if err := validateDescription(t.Description); err != nil {
		return err
	}
	if !IsValidStatus(t.Status) {
		return errors.ErrValidation(fmt.Sprintf("unknown status %q", t.Status), "")
	}
	if slices.Contains(t.Dependencies, string(t.ID)) {
		return errors.ErrValidation(fmt.Sprintf("task %s depends on itself", t.ID), "")
	}
	return nil
}

// touch stamps the task as updated. Every mutation goes through here.
func (t *Task) touch() {
	t.UpdatedAt = time.Now().UTC()
}

// invalidateContext clears the context marker so completion requires a fresh
// context artifact. Called by field mutations; assignment and label shortcuts
// deliberately skip it.
func (t *Task) invalidateContext() {
	t.ContextID = ""
}

// UpdateStatus transitions the task to the given status. Only edges in the
// explicit allow-list are legal.
func (t *Task) UpdateStatus(to Status) error {
	if !IsValidStatus(to) {
		return errors.ErrValidation(fmt.Sprintf("unknown status %q", to), "")
	}
	if to == t.Status {
		return nil
	}
	if !CanTransition(t.Status, to) {
		return errors.ErrInvalidTransition(string(t.Status), string(to))
	}

	old := t.Status
	t.Status = to
	t.invalidateContext()
	t.touch()
	t.recordChange("status", string(old), string(to))
	return nil
}

// UpdatePriority changes the task's priority.
func (t *Task) UpdatePriority(p Priority) error {
	if !IsValidPriority(p) {
		return errors.ErrValidation(fmt.Sprintf("unknown priority %q", p), "")
	}
	if p == t.Priority {
		return nil
	}

	old := t.Priority
	t.Priority = p
	t.invalidateContext()
	t.touch()
	t.recordChange("priority", string(old), string(p))
	return nil
}

// UpdateTitle changes the task's title.
func (t *Task) UpdateTitle(title string) error {
	if err := validateTitle(title); err != nil {
		return err
	}
	if title == t.Title {
		return nil
	}

	old := t.Title
	t.Title = title
	t.invalidateContext()
	t.touch()
	t.recordChange("title", old, title)
	return nil
}

// UpdateDescription changes the task's description.
func (t *Task) UpdateDescription(description string) error {
	if err := validateDescription(description); err != nil {
		return err
	}
	if description == t.Description {
		return nil
	}

	old := t.Description
	t.Description = description
	t.invalidateContext()
	t.touch()
	t.recordChange("description", old, description)
	return nil
}

// UpdateDetails changes the task's free-text details.
func (t *Task) UpdateDetails(details string) {
	if details == t.Details {
		return
	}
	old := t.Details
	t.Details = details
	t.invalidateContext()
	t.touch()
	t.recordChange("details", old, details)
}

// UpdateEstimatedEffort changes the task's effort estimate.
func (t *Task) UpdateEstimatedEffort(effort string) {
	if effort == t.EstimatedEffort {
		return
	}
	old := t.EstimatedEffort
	t.EstimatedEffort = effort
	t.invalidateContext()
	t.touch()
	t.recordChange("estimated_effort", old, effort)
}

// dueDateLayouts are the accepted due date formats at the boundary.
var dueDateLayouts = []string{time.RFC3339, "2006-01-02"}

// ParseDueDate parses a due date supplied by the caller.
func ParseDueDate(value string) (time.Time, error) {
	for _, layout := range dueDateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, errors.ErrValidation(
		fmt.Sprintf("malformed due date %q", value),
		"want YYYY-MM-DD or RFC 3339",
	)
}

// UpdateDueDate changes or clears the task's due date.
func (t *Task) UpdateDueDate(due *time.Time) {
	old := ""
	if t.DueDate != nil {
		old = t.DueDate.Format(time.RFC3339)
	}
	next := ""
	if due != nil {
		utc := due.UTC()
		due = &utc
		next = utc.Format(time.RFC3339)
	}
	if old == next {
		return
	}

	t.DueDate = due
	t.invalidateContext()
	t.touch()
	t.recordChange("due_date", old, next)
}

// SetAssignees replaces the assignee list.
func (t *Task) SetAssignees(assignees []string) {
	if slices.Equal(assignees, t.Assignees) {
		return
	}
	old := fmt.Sprintf("%v", t.Assignees)
	t.Assignees = slices.Clone(assignees)
	t.invalidateContext()
	t.touch()
	t.recordChange("assignees", old, fmt.Sprintf("%v", assignees))
}

// AddAssignee adds an assignee. This is a shortcut mutation: it stamps the
// task and records a change but keeps the context marker.
func (t *Task) AddAssignee(assignee string) {
	if assignee == "" || slices.Contains(t.Assignees, assignee) {
		return
	}
	t.Assignees = append(t.Assignees, assignee)
	t.touch()
	t.recordChange("assignees", "", assignee)
}

// RemoveAssignee removes an assignee. Shortcut mutation, keeps the context
// marker.
func (t *Task) RemoveAssignee(assignee string) {
	i := slices.Index(t.Assignees, assignee)
	if i < 0 {
		return
	}
	t.Assignees = slices.Delete(t.Assignees, i, i+1)
	t.touch()
	t.recordChange("assignees", assignee, "")
}

// SetLabels replaces the label list.
func (t *Task) SetLabels(labels []string) {
	if slices.Equal(labels, t.Labels) {
		return
	}
	old := fmt.Sprintf("%v", t.Labels)
	t.Labels = slices.Clone(labels)
	t.invalidateContext()
	t.touch()
	t.recordChange("labels", old, fmt.Sprintf("%v", labels))
}

// AddLabel adds a label. Shortcut mutation, keeps the context marker.
func (t *Task) AddLabel(label string) {
	if label == "" || slices.Contains(t.Labels, label) {
		return
	}
	t.Labels = append(t.Labels, label)
	t.touch()
	t.recordChange("labels", "", label)
}

// RemoveLabel removes a label. Shortcut mutation, keeps the context marker.
func (t *Task) RemoveLabel(label string) {
	i := slices.Index(t.Labels, label)
	if i < 0 {
		return
	}
	t.Labels = slices.Delete(t.Labels, i, i+1)
	t.touch()
	t.recordChange("labels", label, "")
}

// AddDependency appends a prerequisite task id. A task cannot depend on
// itself, and duplicates are rejected.
func (t *Task) AddDependency(depID string) error {
	if depID == string(t.ID) {
		return errors.ErrValidation(
			fmt.Sprintf("task %s cannot depend on itself", t.ID), "")
	}
	if _, err := taskid.Parse(depID); err != nil {
		return errors.ErrInvalidID(depID).WithCause(err)
	}
	if slices.Contains(t.Dependencies, depID) {
		return errors.ErrValidation(
			fmt.Sprintf("task %s already depends on %s", t.ID, depID), "")
	}

	t.Dependencies = append(t.Dependencies, depID)
	t.touch()
	t.recordChange("dependencies", "", depID)
	return nil
}

// RemoveDependency drops a prerequisite task id. Removing an absent
// dependency is a no-op.
func (t *Task) RemoveDependency(depID string) {
	i := slices.Index(t.Dependencies, depID)
	if i < 0 {
		return
	}
	t.Dependencies = slices.Delete(t.Dependencies, i, i+1)
	t.touch()
	t.recordChange("dependencies", depID, "")
}

// SetContextID records that an external work-context artifact is current for
// the task's present state. A non-empty marker is required for completion.
func (t *Task) SetContextID(contextID string) {
	if contextID == t.ContextID {
		return
	}
	old := t.ContextID
	t.ContextID = contextID
	t.touch()
	t.recordChange("context_id", old, contextID)
}

// Complete marks the task done. All subtasks are forced complete. Fails with
// ContextNotReady when the context marker is empty: the work context must be
// regenerated before completion can be claimed, so stale-context completions
// cannot hide unreflected work.
func (t *Task) Complete() error {
	if IsTerminal(t.Status) {
		return errors.ErrInvalidTransition(string(t.Status), string(StatusDone))
	}
	if t.ContextID == "" {
		return errors.ErrContextNotReady(string(t.ID))
	}

	for i := range t.Subtasks {
		t.Subtasks[i].Completed = true
	}
	old := t.Status
	t.Status = StatusDone
	t.touch()
	t.recordChange(FieldCompleted, string(old), string(StatusDone))
	return nil
}

// MarkDeleted soft-deletes the task. The repository removes the record; the
// flag survives on the entity for callers still holding it.
func (t *Task) MarkDeleted() {
	if t.Deleted {
		return
	}
	t.Deleted = true
	t.touch()
	t.recordChange(FieldDeleted, "", string(t.ID))
}

// Progress returns the percentage of completed subtasks rounded to one
// decimal, or 0 when the task has no subtasks.
func (t *Task) Progress() float64 {
	if len(t.Subtasks) == 0 {
		return 0
	}
	completed := 0
	for _, st := range t.Subtasks {
		if st.Completed {
			completed++
		}
	}
	return math.Round(float64(completed)/float64(len(t.Subtasks))*1000) / 10
}

// HasCircularDependency reports whether adding candidateID as a dependency
// would reference the task itself.
func (t *Task) HasCircularDependency(candidateID string) bool {
	return candidateID == string(t.ID)
}

// HasUnmetDependencies returns true if any prerequisite is missing or not done.
func (t *Task) HasUnmetDependencies(tasks map[string]*Task) bool {
	return len(t.UnmetDependencies(tasks)) > 0
}

// UnmetDependencies returns prerequisite ids that are missing or not done,
// in dependency order.
func (t *Task) UnmetDependencies(tasks map[string]*Task) []string {
	var unmet []string
	for _, depID := range t.Dependencies {
		dep, ok := tasks[depID]
		if !ok || !IsDone(dep.Status) {
			unmet = append(unmet, depID)
		}
	}
	return unmet
}

// DetectCircularDependency checks whether adding newDep as a dependency of
// taskID would create a cycle in the dependency graph. Returns the cycle path
// if one would be created, nil otherwise.
func DetectCircularDependency(taskID, newDep string, tasks map[string]*Task) []string {
	deps := make(map[string][]string, len(tasks))
	for id, t := range tasks {
		deps[id] = slices.Clone(t.Dependencies)
	}
	deps[taskID] = append(deps[taskID], newDep)

	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		if onPath[id] {
			cycle = append(cycle, id)
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		onPath[id] = true
		for _, dep := range deps[id] {
			if dfs(dep) {
				cycle = append(cycle, id)
				return true
			}
		}
		onPath[id] = false
		return false
	}

	if dfs(taskID) {
		slices.Reverse(cycle)
		return cycle
	}
	return nil
}

// ComputeDependents returns the ids of tasks that list taskID as a
// prerequisite, sorted.
func ComputeDependents(taskID string, all []*Task) []string {
	var dependents []string
	for _, t := range all {
		if slices.Contains(t.Dependencies, taskID) {
			dependents = append(dependents, string(t.ID))
		}
	}
	sort.Strings(dependents)
	return dependents
}
