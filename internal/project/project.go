// Package project holds the aggregate that coordinates multiple task trees:
// agent registration, one-agent-per-tree assignment, cross-tree dependency
// edges, work sessions, and the resource lock table.
package project

import (
	"sort"
	"time"

	"github.com/rcalvert/orchard/internal/errors"
	"github.com/rcalvert/orchard/internal/task"
)

// Agent describes a registered autonomous worker.
type Agent struct {
	ID           string   `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name"`
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// Project is the aggregate root. All maps are kept mutually consistent by
// the aggregate methods; every structural change bumps UpdatedAt. The
// aggregate is not safe for concurrent use; one logical writer per project.
type Project struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`

	Trees  map[string]*TaskTree `yaml:"trees" json:"trees"`
	Agents map[string]*Agent    `yaml:"agents" json:"agents"`

	// Assignments maps tree id to the single assigned agent id.
	Assignments map[string]string `yaml:"assignments" json:"assignments"`

	// CrossTreeDeps maps a dependent task id to prerequisite task ids that
	// live in a different tree.
	CrossTreeDeps map[string][]string `yaml:"cross_tree_deps" json:"cross_tree_deps"`

	Sessions map[string]*WorkSession `yaml:"sessions" json:"sessions"`

	// ResourceLocks maps a resource key to the holding agent id.
	ResourceLocks map[string]string `yaml:"resource_locks" json:"resource_locks"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// New creates an empty project aggregate.
func New(id, name string) (*Project, error) {
	if id == "" {
		return nil, errors.ErrEmptyField("project id")
	}
	if name == "" {
		return nil, errors.ErrEmptyField("project name")
	}
	now := time.Now().UTC()
	return &Project{
		ID:            id,
		Name:          name,
		Trees:         make(map[string]*TaskTree),
		Agents:        make(map[string]*Agent),
		Assignments:   make(map[string]string),
		CrossTreeDeps: make(map[string][]string),
		Sessions:      make(map[string]*WorkSession),
		ResourceLocks: make(map[string]string),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (p *Project) touch() {
	p.UpdatedAt = time.Now().UTC()
}

// CreateTree adds a new task tree. Fails if the id already exists.
func (p *Project) CreateTree(id, name, description string) (*TaskTree, error) {
	if id == "" {
		return nil, errors.ErrEmptyField("tree id")
	}
	if _, exists := p.Trees[id]; exists {
		return nil, errors.ErrValidation(
			"tree "+id+" already exists",
			"tree ids are unique within a project",
		)
	}
	tree := newTaskTree(id, name, description, p.ID)
	p.Trees[id] = tree
	p.touch()
	return tree, nil
}

// Tree looks up a tree by id.
func (p *Project) Tree(id string) (*TaskTree, error) {
	tree, ok := p.Trees[id]
	if !ok {
		return nil, errors.ErrTreeNotFound(id)
	}
	return tree, nil
}

// RegisterAgent records an agent so it can be assigned work.
func (p *Project) RegisterAgent(a *Agent) error {
	if a == nil || a.ID == "" {
		return errors.ErrEmptyField("agent id")
	}
	p.Agents[a.ID] = a
	p.touch()
	return nil
}

// AssignAgentToTree binds an agent to a tree. A tree holds at most one
// agent: assigning a different agent is rejected, re-assigning the same
// agent is a no-op.
func (p *Project) AssignAgentToTree(agentID, treeID string) error {
	if _, ok := p.Agents[agentID]; !ok {
		return errors.ErrAgentNotFound(agentID)
	}
	tree, ok := p.Trees[treeID]
	if !ok {
		return errors.ErrTreeNotFound(treeID)
	}
	if current, assigned := p.Assignments[treeID]; assigned {
		if current == agentID {
			return nil
		}
		return errors.ErrTreeAssigned(treeID, current)
	}
	p.Assignments[treeID] = agentID
	tree.AssignedAgent = agentID
	p.touch()
	return nil
}

// findTask locates a task and its owning tree across all trees.
func (p *Project) findTask(taskID string) (*task.Task, *TaskTree, bool) {
	for _, tree := range p.Trees {
		if t, ok := tree.Task(taskID); ok {
			return t, tree, true
		}
	}
	return nil, nil, false
}

// AddCrossTreeDependency records that dependentID cannot start until
// prerequisiteID (in a different tree) is done. Same-tree pairs are
// rejected; they must use ordinary task dependencies.
func (p *Project) AddCrossTreeDependency(dependentID, prerequisiteID string) error {
	_, depTree, ok := p.findTask(dependentID)
	if !ok {
		return errors.ErrTaskNotFound(dependentID)
	}
	_, preTree, ok := p.findTask(prerequisiteID)
	if !ok {
		return errors.ErrTaskNotFound(prerequisiteID)
	}
	if depTree.ID == preTree.ID {
		return errors.ErrSameTree(dependentID, prerequisiteID)
	}
	for _, existing := range p.CrossTreeDeps[dependentID] {
		if existing == prerequisiteID {
			return nil
		}
	}
	p.CrossTreeDeps[dependentID] = append(p.CrossTreeDeps[dependentID], prerequisiteID)
	p.touch()
	return nil
}

// crossTreeReady reports whether every cross-tree prerequisite of taskID is
// done. Tasks with no cross-tree edges are trivially ready.
func (p *Project) crossTreeReady(taskID string) bool {
	for _, prereqID := range p.CrossTreeDeps[taskID] {
		prereq, _, ok := p.findTask(prereqID)
		if !ok || !task.IsDone(prereq.Status) {
			return false
		}
	}
	return true
}

// GetAvailableWorkForAgent returns tasks the agent may start: available
// within its assigned trees and cross-tree ready.
func (p *Project) GetAvailableWorkForAgent(agentID string) ([]*task.Task, error) {
	if _, ok := p.Agents[agentID]; !ok {
		return nil, errors.ErrAgentNotFound(agentID)
	}
	var work []*task.Task
	for treeID, assigned := range p.Assignments {
		if assigned != agentID {
			continue
		}
		tree := p.Trees[treeID]
		if tree == nil || tree.Status != TreeActive {
			continue
		}
		for _, t := range tree.AvailableTasks() {
			if p.crossTreeReady(string(t.ID)) {
				work = append(work, t)
			}
		}
	}
	sort.Slice(work, func(i, j int) bool {
		pi, pj := task.PriorityOrder(work[i].Priority), task.PriorityOrder(work[j].Priority)
		if pi != pj {
			return pi < pj
		}
		return work[i].ID < work[j].ID
	})
	return work, nil
}

// taskResource is the lock key guarding exclusive work on a task.
func taskResource(taskID string) string {
	return "task:" + taskID
}

// StartWorkSession opens a session for an agent on a task. The agent must be
// assigned to the task's tree, and the task's resource lock must be free or
// already held by the same agent.
func (p *Project) StartWorkSession(agentID, taskID string, maxDurationHours float64) (*WorkSession, error) {
	if _, ok := p.Agents[agentID]; !ok {
		return nil, errors.ErrAgentNotFound(agentID)
	}
	_, tree, ok := p.findTask(taskID)
	if !ok {
		return nil, errors.ErrTaskNotFound(taskID)
	}
	if p.Assignments[tree.ID] != agentID {
		return nil, errors.ErrValidation(
			"agent "+agentID+" is not assigned to tree "+tree.ID,
			"work sessions require a tree assignment",
		)
	}

	resource := taskResource(taskID)
	if holder, held := p.ResourceLocks[resource]; held && holder != agentID {
		return nil, errors.ErrLockDenied(resource, holder)
	}
	p.ResourceLocks[resource] = agentID

	session := newWorkSession(agentID, taskID, tree.ID, maxDurationHours)
	p.Sessions[session.ID] = session
	p.touch()
	return session, nil
}

// EndWorkSession closes a session and releases its resource lock.
func (p *Project) EndWorkSession(sessionID string) error {
	session, ok := p.Sessions[sessionID]
	if !ok {
		return errors.ErrValidation(
			"work session "+sessionID+" not found",
			"sessions are looked up by the id returned from StartWorkSession",
		)
	}
	resource := taskResource(session.TaskID)
	if p.ResourceLocks[resource] == session.AgentID {
		delete(p.ResourceLocks, resource)
	}
	delete(p.Sessions, sessionID)
	p.touch()
	return nil
}

// Session looks up an active work session.
func (p *Project) Session(id string) (*WorkSession, bool) {
	s, ok := p.Sessions[id]
	return s, ok
}

// DependencyState classifies one cross-tree edge audit entry.
type DependencyState string

const (
	DependencyReady   DependencyState = "ready"
	DependencyBlocked DependencyState = "blocked"
	// DependencyMissingPrerequisite means the dependent or a prerequisite
	// task can no longer be found in any tree.
	DependencyMissingPrerequisite DependencyState = "missing_prerequisite"
)

// DependencyAudit is the classification of one dependent task.
type DependencyAudit struct {
	TaskID        string          `json:"task_id"`
	State         DependencyState `json:"state"`
	Prerequisites []string        `json:"prerequisites"`

	// Open lists the prerequisites still holding a blocked task; Missing
	// lists ids that resolve to no task.
	Open    []string `json:"open,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// CoordinateCrossTreeDependencies audits every recorded cross-tree edge and
// classifies each dependent task as ready, blocked, or missing a
// prerequisite. Read-only.
func (p *Project) CoordinateCrossTreeDependencies() []DependencyAudit {
	dependents := make([]string, 0, len(p.CrossTreeDeps))
	for id := range p.CrossTreeDeps {
		dependents = append(dependents, id)
	}
	sort.Strings(dependents)

	audits := make([]DependencyAudit, 0, len(dependents))
	for _, dependentID := range dependents {
		prereqs := p.CrossTreeDeps[dependentID]
		audit := DependencyAudit{TaskID: dependentID, Prerequisites: prereqs}

		if _, _, ok := p.findTask(dependentID); !ok {
			audit.State = DependencyMissingPrerequisite
			audit.Missing = []string{dependentID}
			audits = append(audits, audit)
			continue
		}
		for _, prereqID := range prereqs {
			prereq, _, ok := p.findTask(prereqID)
			if !ok {
				audit.Missing = append(audit.Missing, prereqID)
			} else if !task.IsDone(prereq.Status) {
				audit.Open = append(audit.Open, prereqID)
			}
		}
		switch {
		case len(audit.Missing) > 0:
			audit.State = DependencyMissingPrerequisite
		case len(audit.Open) > 0:
			audit.State = DependencyBlocked
		default:
			audit.State = DependencyReady
		}
		audits = append(audits, audit)
	}
	return audits
}

// AgentStatus is one agent's slice of the orchestration snapshot.
type AgentStatus struct {
	AssignedTrees []string `json:"assigned_trees"`
	Sessions      []string `json:"sessions"`
}

// OrchestrationStatus is a read-only observability snapshot.
type OrchestrationStatus struct {
	ProjectID    string                 `json:"project_id"`
	TreeProgress map[string]float64     `json:"tree_progress"`
	Agents       map[string]AgentStatus `json:"agents"`
	LockCount    int                    `json:"lock_count"`
	SessionCount int                    `json:"session_count"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// GetOrchestrationStatus snapshots tree progress, per-agent assignments and
// sessions, and lock counts.
func (p *Project) GetOrchestrationStatus() *OrchestrationStatus {
	status := &OrchestrationStatus{
		ProjectID:    p.ID,
		TreeProgress: make(map[string]float64, len(p.Trees)),
		Agents:       make(map[string]AgentStatus, len(p.Agents)),
		LockCount:    len(p.ResourceLocks),
		SessionCount: len(p.Sessions),
		UpdatedAt:    p.UpdatedAt,
	}
	for id, tree := range p.Trees {
		status.TreeProgress[id] = tree.Progress()
	}
	for agentID := range p.Agents {
		var as AgentStatus
		for treeID, assigned := range p.Assignments {
			if assigned == agentID {
				as.AssignedTrees = append(as.AssignedTrees, treeID)
			}
		}
		sort.Strings(as.AssignedTrees)
		for sessionID, session := range p.Sessions {
			if session.AgentID == agentID {
				as.Sessions = append(as.Sessions, sessionID)
			}
		}
		sort.Strings(as.Sessions)
		status.Agents[agentID] = as
	}
	return status
}
