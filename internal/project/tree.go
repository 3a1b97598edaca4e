package project

import (
	"math"
	"sort"
	"time"

	"github.com/rcalvert/orchard/internal/errors"
	"github.com/rcalvert/orchard/internal/task"
)

// TreeStatus is the lifecycle state of a task tree.
type TreeStatus string

const (
	TreeActive    TreeStatus = "active"
	TreePaused    TreeStatus = "paused"
	TreeCompleted TreeStatus = "completed"
	TreeArchived  TreeStatus = "archived"
)

// TaskTree is an independently addressable hierarchy of tasks within a
// project. Roots indexes entry-point tasks; Tasks is the flattened index of
// everything reachable from a root, both keyed by task identifier for O(1)
// lookup.
type TaskTree struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description"`
	ProjectID   string        `yaml:"project_id" json:"project_id"`
	Status      TreeStatus    `yaml:"status" json:"status"`
	Priority    task.Priority `yaml:"priority" json:"priority"`

	// AssignedAgent is the id of the agent bound to this tree, empty when
	// unassigned. Assignment is managed by the Project aggregate.
	AssignedAgent string `yaml:"assigned_agent,omitempty" json:"assigned_agent,omitempty"`

	Roots map[string]*task.Task `yaml:"roots" json:"roots"`
	Tasks map[string]*task.Task `yaml:"tasks" json:"tasks"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

func newTaskTree(id, name, description, projectID string) *TaskTree {
	now := time.Now().UTC()
	return &TaskTree{
		ID:          id,
		Name:        name,
		Description: description,
		ProjectID:   projectID,
		Status:      TreeActive,
		Priority:    task.PriorityMedium,
		Roots:       make(map[string]*task.Task),
		Tasks:       make(map[string]*task.Task),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AddTask places a task in the tree. Root tasks are additionally indexed as
// entry points. Fails if the id is already present.
func (tr *TaskTree) AddTask(t *task.Task, root bool) error {
	id := string(t.ID)
	if _, exists := tr.Tasks[id]; exists {
		return errors.ErrValidation(
			"task "+id+" already in tree "+tr.ID,
			"task ids are unique within a tree",
		)
	}
	tr.Tasks[id] = t
	if root {
		tr.Roots[id] = t
	}
	tr.UpdatedAt = time.Now().UTC()
	return nil
}

// Task looks up a task in the flattened index.
func (tr *TaskTree) Task(id string) (*task.Task, bool) {
	t, ok := tr.Tasks[id]
	return t, ok
}

// AvailableTasks returns tasks that are open and whose in-tree dependencies
// are all done, sorted by id for deterministic output.
func (tr *TaskTree) AvailableTasks() []*task.Task {
	var available []*task.Task
	for _, t := range tr.Tasks {
		if task.IsDone(t.Status) || task.IsTerminal(t.Status) {
			continue
		}
		if tr.dependenciesDone(t) {
			available = append(available, t)
		}
	}
	sort.Slice(available, func(i, j int) bool { return available[i].ID < available[j].ID })
	return available
}

// dependenciesDone reports whether every in-tree dependency is done.
// Dependencies pointing outside the tree are cross-tree edges and are judged
// by the Project aggregate, not here.
func (tr *TaskTree) dependenciesDone(t *task.Task) bool {
	for _, dep := range t.Dependencies {
		if prereq, ok := tr.Tasks[dep]; ok && !task.IsDone(prereq.Status) {
			return false
		}
	}
	return true
}

// Progress is the percentage of done tasks in the tree, one decimal.
func (tr *TaskTree) Progress() float64 {
	if len(tr.Tasks) == 0 {
		return 0
	}
	done := 0
	for _, t := range tr.Tasks {
		if task.IsDone(t.Status) {
			done++
		}
	}
	return math.Round(float64(done)/float64(len(tr.Tasks))*1000) / 10
}
