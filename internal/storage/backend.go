// Package storage provides scoped task persistence for orchard.
// Two backends implement the same contract: a yaml file store with rolling
// backups (one record collection per scope) and a SQLite store.
package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/rcalvert/orchard/internal/errors"
	"github.com/rcalvert/orchard/internal/task"
	"github.com/rcalvert/orchard/internal/taskid"
)

// Scope identifies one (user, project, tree) record collection. All task
// operations are scoped; independent scopes never share state.
type Scope struct {
	UserID    string
	ProjectID string
	TreeID    string
}

// Validate rejects scopes with empty or path-hostile components.
func (s Scope) Validate() error {
	for _, part := range []struct{ name, value string }{
		{"user id", s.UserID},
		{"project id", s.ProjectID},
		{"tree id", s.TreeID},
	} {
		if part.value == "" {
			return errors.ErrEmptyField(part.name)
		}
		if strings.ContainsAny(part.value, "/\\") || part.value == "." || part.value == ".." {
			return errors.ErrValidation(
				fmt.Sprintf("invalid %s %q", part.name, part.value),
				"scope components must not contain path separators",
			)
		}
	}
	return nil
}

func (s Scope) String() string {
	return s.UserID + "/" + s.ProjectID + "/" + s.TreeID
}

// Criteria filters FindByCriteria results. Zero-valued fields do not filter.
type Criteria struct {
	Status   task.Status
	Priority task.Priority
	Assignee string
	Labels   []string
}

// matches reports whether the task satisfies every set filter.
func (c Criteria) matches(t *task.Task) bool {
	if c.Status != "" && t.Status != c.Status {
		return false
	}
	if c.Priority != "" && t.Priority != c.Priority {
		return false
	}
	if c.Assignee != "" && !contains(t.Assignees, c.Assignee) {
		return false
	}
	for _, label := range c.Labels {
		if !contains(t.Labels, label) {
			return false
		}
	}
	return true
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// Statistics summarizes a scope's collection.
type Statistics struct {
	Total      int                   `json:"total"`
	ByStatus   map[task.Status]int   `json:"by_status"`
	ByPriority map[task.Priority]int `json:"by_priority"`
	Done       int                   `json:"done"`
	Overdue    int                   `json:"overdue"`
}

// Repository is the persistence contract for one scope's task collection.
//
// Implementations guarantee read-modify-write atomicity per scope but assume
// a single logical writer per scope; cross-scope operations are independent.
type Repository interface {
	FindByID(id taskid.ID) (*task.Task, error)
	FindAll() ([]*task.Task, error)
	FindByCriteria(c Criteria, limit int) ([]*task.Task, error)
	Search(text string, limit int) ([]*task.Task, error)

	// Save upserts the task by identifier.
	Save(t *task.Task) error
	// Delete removes the task. Returns false without error when absent.
	Delete(id taskid.ID) (bool, error)

	// NextID allocates the next top-level task id from the authoritative
	// stored id set, under the scope's write lock.
	NextID() (taskid.ID, error)

	Exists(id taskid.ID) (bool, error)
	Count() (int, error)
	Statistics() (*Statistics, error)
}

// statisticsOf computes collection statistics from a loaded task list.
func statisticsOf(tasks []*task.Task) *Statistics {
	stats := &Statistics{
		Total:      len(tasks),
		ByStatus:   make(map[task.Status]int),
		ByPriority: make(map[task.Priority]int),
	}
	now := time.Now().UTC()
	for _, t := range tasks {
		stats.ByStatus[t.Status]++
		stats.ByPriority[t.Priority]++
		if task.IsDone(t.Status) {
			stats.Done++
		} else if t.DueDate != nil && t.DueDate.Before(now) {
			stats.Overdue++
		}
	}
	return stats
}
