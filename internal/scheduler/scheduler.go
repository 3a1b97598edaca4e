// Package scheduler decides which unit of work an actor should perform next.
//
// The decision walks the caller's scope: filter, verify context bookkeeping,
// narrow to actionable statuses, order by priority, then pick the first task
// whose prerequisites are all done. Expected steady states (nothing to do,
// everything blocked, inconsistent bookkeeping) are diagnostic results, not
// errors.
package scheduler

import (
	"io"
	"log/slog"
	"sort"

	"github.com/rcalvert/orchard/internal/storage"
	"github.com/rcalvert/orchard/internal/task"
	"github.com/rcalvert/orchard/internal/taskid"
)

// ContextInfo describes the externally managed work-context artifact for a
// task. Status mirrors the task status recorded when the context was last
// generated.
type ContextInfo struct {
	ID     string
	Status string
}

// ContextManager is the external work-context collaborator.
type ContextManager interface {
	// ShouldCreateContext reports whether the task warrants a fresh context.
	ShouldCreateContext(t *task.Task) bool
	// CreateContext generates a context artifact for the task's current state.
	CreateContext(t *task.Task) (ContextInfo, error)
	// GetContext returns the recorded context for a task in a scope, or nil
	// when none exists.
	GetContext(id taskid.ID, scope storage.Scope) (*ContextInfo, error)
}

// RuleGenerator regenerates rule files for a selected task. Best effort.
type RuleGenerator interface {
	GenerateRules(t *task.Task, forceFull bool) error
}

// DocGenerator refreshes per-assignee documentation. Best effort.
type DocGenerator interface {
	GenerateAssigneeDocs(assignees []string) error
}

// Filter narrows the candidate set. Zero-valued fields do not filter.
type Filter struct {
	Assignee  string
	ProjectID string
	Labels    []string
}

func (f Filter) matches(t *task.Task) bool {
	if f.Assignee != "" && !containsString(t.Assignees, f.Assignee) {
		return false
	}
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	for _, label := range f.Labels {
		if !containsString(t.Labels, label) {
			return false
		}
	}
	return true
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// Outcome classifies a scheduling decision.
type Outcome string

const (
	// OutcomeNext carries a selected next item.
	OutcomeNext Outcome = "next"
	// OutcomeAllDone means every task in the filtered set is done.
	OutcomeAllDone Outcome = "all_done"
	// OutcomeNoActionable means nothing is in todo or in_progress, but not
	// everything is done.
	OutcomeNoActionable Outcome = "no_actionable"
	// OutcomeBlocked means every actionable task has unmet prerequisites.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeStatusMismatch means context bookkeeping disagrees with task
	// state; no item is selected until it is reconciled.
	OutcomeStatusMismatch Outcome = "status_mismatch"
)

// BlockedTask names one blocked task and the prerequisites holding it.
type BlockedTask struct {
	ID                taskid.ID `json:"id"`
	UnmetDependencies []string  `json:"unmet_dependencies"`
}

// Mismatch records a task whose stored context status disagrees with the
// task's own status.
type Mismatch struct {
	ID            taskid.ID   `json:"id"`
	TaskStatus    task.Status `json:"task_status"`
	ContextStatus string      `json:"context_status"`
}

// Result is the outcome of one DoNext call. Exactly the fields relevant to
// the outcome are populated.
type Result struct {
	Outcome Outcome `json:"outcome"`

	// Task is the selected task. When Subtask is set, Task is its parent,
	// returned alongside for context.
	Task    *task.Task    `json:"task,omitempty"`
	Subtask *task.Subtask `json:"subtask,omitempty"`

	Blocked    []BlockedTask `json:"blocked,omitempty"`
	Mismatches []Mismatch    `json:"mismatches,omitempty"`
}

// Scheduler selects the next actionable item within one scope.
type Scheduler struct {
	repo   storage.Repository
	scope  storage.Scope
	logger *slog.Logger

	contexts ContextManager
	rules    RuleGenerator
	docs     DocGenerator
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithContextManager wires the work-context collaborator.
func WithContextManager(cm ContextManager) Option {
	return func(s *Scheduler) { s.contexts = cm }
}

// WithRuleGenerator wires the auto-rule collaborator.
func WithRuleGenerator(rg RuleGenerator) Option {
	return func(s *Scheduler) { s.rules = rg }
}

// WithDocGenerator wires the per-assignee documentation collaborator.
func WithDocGenerator(dg DocGenerator) Option {
	return func(s *Scheduler) { s.docs = dg }
}

// WithLogger sets the logger for collaborator failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New creates a scheduler over one scope's repository. Collaborators are
// optional; absent ones are skipped.
func New(repo storage.Repository, scope storage.Scope, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:   repo,
		scope:  scope,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DoNext selects the next actionable item for the filter.
func (s *Scheduler) DoNext(f Filter) (*Result, error) {
	all, err := s.repo.FindAll()
	if err != nil {
		return nil, err
	}

	// Dependency resolution sees the whole scope; filters narrow candidates
	// only.
	index := make(map[string]*task.Task, len(all))
	var candidates []*task.Task
	for _, t := range all {
		if t.Deleted {
			continue
		}
		index[string(t.ID)] = t
		if f.matches(t) {
			candidates = append(candidates, t)
		}
	}

	if mismatches := s.validateContextAlignment(candidates); len(mismatches) > 0 {
		return &Result{Outcome: OutcomeStatusMismatch, Mismatches: mismatches}, nil
	}

	var actionable []*task.Task
	allDone := len(candidates) > 0
	for _, t := range candidates {
		if task.IsActionable(t.Status) {
			actionable = append(actionable, t)
		}
		if !task.IsDone(t.Status) {
			allDone = false
		}
	}
	if len(actionable) == 0 {
		if allDone {
			return &Result{Outcome: OutcomeAllDone}, nil
		}
		return &Result{Outcome: OutcomeNoActionable}, nil
	}

	sort.SliceStable(actionable, func(i, j int) bool {
		pi, pj := task.PriorityOrder(actionable[i].Priority), task.PriorityOrder(actionable[j].Priority)
		if pi != pj {
			return pi < pj
		}
		return task.StatusOrder(actionable[i].Status) < task.StatusOrder(actionable[j].Status)
	})

	for _, t := range actionable {
		if t.HasUnmetDependencies(index) {
			continue
		}
		return s.selectTask(t)
	}

	blocked := make([]BlockedTask, 0, len(actionable))
	for _, t := range actionable {
		blocked = append(blocked, BlockedTask{
			ID:                t.ID,
			UnmetDependencies: t.UnmetDependencies(index),
		})
	}
	return &Result{Outcome: OutcomeBlocked, Blocked: blocked}, nil
}

// validateContextAlignment cross-checks each candidate's stored context
// status against the task's own status. The check is scoped to this
// scheduler's (user, project, tree) arguments.
func (s *Scheduler) validateContextAlignment(candidates []*task.Task) []Mismatch {
	if s.contexts == nil {
		return nil
	}
	var mismatches []Mismatch
	for _, t := range candidates {
		info, err := s.contexts.GetContext(t.ID, s.scope)
		if err != nil {
			s.logger.Warn("context lookup failed",
				"task", t.ID, "scope", s.scope.String(), "error", err)
			continue
		}
		if info == nil || info.Status == "" {
			continue
		}
		if info.Status != string(t.Status) {
			mismatches = append(mismatches, Mismatch{
				ID:            t.ID,
				TaskStatus:    t.Status,
				ContextStatus: info.Status,
			})
		}
	}
	return mismatches
}

// selectTask finalizes the chosen task: picks the subtask-or-task next item,
// lazily provisions a work context, and fires best-effort collaborators.
func (s *Scheduler) selectTask(t *task.Task) (*Result, error) {
	result := &Result{Outcome: OutcomeNext, Task: t}

	if st := t.FirstIncompleteSubtask(); st != nil {
		result.Subtask = st
	} else if t.Status == task.StatusTodo && !t.HasCompletedSubtasks() {
		s.ensureContext(t)
	}

	if s.rules != nil {
		if err := s.rules.GenerateRules(t, false); err != nil {
			s.logger.Warn("rule generation failed", "task", t.ID, "error", err)
		}
	}
	if s.docs != nil && len(t.Assignees) > 0 {
		if err := s.docs.GenerateAssigneeDocs(t.Assignees); err != nil {
			s.logger.Warn("assignee doc generation failed", "task", t.ID, "error", err)
		}
	}
	return result, nil
}

// ensureContext creates-or-fetches a work context for a fresh task. Failures
// never abort scheduling.
func (s *Scheduler) ensureContext(t *task.Task) {
	if s.contexts == nil || t.ContextID != "" {
		return
	}
	if !s.contexts.ShouldCreateContext(t) {
		return
	}
	info, err := s.contexts.CreateContext(t)
	if err != nil {
		s.logger.Warn("context creation failed", "task", t.ID, "error", err)
		return
	}
	t.SetContextID(info.ID)
	if err := s.repo.Save(t); err != nil {
		s.logger.Warn("context persist failed", "task", t.ID, "error", err)
	}
}
