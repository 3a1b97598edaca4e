package project

import (
	"time"

	"github.com/google/uuid"
)

// WorkSession records an agent actively working a task within a tree. The
// duration bound is advisory bookkeeping, not an enforced deadline. Sessions
// are created by the Project aggregate, never directly.
type WorkSession struct {
	ID      string `yaml:"id" json:"id"`
	AgentID string `yaml:"agent_id" json:"agent_id"`
	TaskID  string `yaml:"task_id" json:"task_id"`
	TreeID  string `yaml:"tree_id" json:"tree_id"`

	StartedAt        time.Time `yaml:"started_at" json:"started_at"`
	MaxDurationHours float64   `yaml:"max_duration_hours,omitempty" json:"max_duration_hours,omitempty"`
}

func newWorkSession(agentID, taskID, treeID string, maxDurationHours float64) *WorkSession {
	return &WorkSession{
		ID:               "WS-" + uuid.New().String()[:8],
		AgentID:          agentID,
		TaskID:           taskID,
		TreeID:           treeID,
		StartedAt:        time.Now().UTC(),
		MaxDurationHours: maxDurationHours,
	}
}

// Expired reports whether the advisory duration bound has elapsed.
func (s *WorkSession) Expired(now time.Time) bool {
	if s.MaxDurationHours <= 0 {
		return false
	}
	return now.Sub(s.StartedAt) > time.Duration(s.MaxDurationHours*float64(time.Hour))
}
