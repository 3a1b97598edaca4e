package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcalvert/orchard/internal/task"
	"github.com/rcalvert/orchard/internal/taskid"
)

func newSQLiteRepo(t *testing.T) Repository {
	t.Helper()
	store, err := OpenSQLiteStoreInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	repo, err := store.Scope(testScope)
	require.NoError(t, err)
	return repo
}

func TestSQLiteRoundTrip(t *testing.T) {
	repo := newSQLiteRepo(t)

	due, err := task.ParseDueDate("2025-02-01")
	require.NoError(t, err)

	tk := mustTask(t, "20250128001", "Implement login")
	tk.AddAssignee("agent-1")
	tk.AddLabel("backend")
	require.NoError(t, tk.AddDependency("20250127003"))
	tk.UpdateDueDate(&due)
	_, err = tk.AddSubtask("write handler", "POST /login")
	require.NoError(t, err)
	tk.SetContextID("ctx-9")
	require.NoError(t, repo.Save(tk))

	got, err := repo.FindByID("20250128001")
	require.NoError(t, err)
	assert.Equal(t, tk.Title, got.Title)
	assert.Equal(t, tk.Assignees, got.Assignees)
	assert.Equal(t, tk.Labels, got.Labels)
	assert.Equal(t, tk.Dependencies, got.Dependencies)
	require.Len(t, got.Subtasks, 1)
	assert.Equal(t, "20250128001.001", got.Subtasks[0].ID)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(due))
	assert.Equal(t, "ctx-9", got.ContextID)
	assert.True(t, got.CreatedAt.Equal(tk.CreatedAt))
	assert.True(t, got.UpdatedAt.Equal(tk.UpdatedAt))
}

func TestSQLiteSaveUpserts(t *testing.T) {
	repo := newSQLiteRepo(t)

	tk := mustTask(t, "20250128001", "Original")
	require.NoError(t, repo.Save(tk))
	require.NoError(t, tk.UpdateTitle("Renamed"))
	require.NoError(t, repo.Save(tk))

	n, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.FindByID("20250128001")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
}

func TestSQLiteDeleteAndExists(t *testing.T) {
	repo := newSQLiteRepo(t)
	require.NoError(t, repo.Save(mustTask(t, "20250128001", "Task")))

	exists, err := repo.Exists("20250128001")
	require.NoError(t, err)
	assert.True(t, exists)

	removed, err := repo.Delete("20250128001")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.Delete("20250128001")
	require.NoError(t, err)
	assert.False(t, removed)

	exists, err = repo.Exists("20250128001")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLiteNextID(t *testing.T) {
	repo := newSQLiteRepo(t)

	first, err := repo.NextID()
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sequence())

	require.NoError(t, repo.Save(mustTask(t, string(first), "First")))

	second, err := repo.NextID()
	require.NoError(t, err)
	assert.Equal(t, 2, second.Sequence())
}

func TestSQLiteSearchAndCriteria(t *testing.T) {
	repo := newSQLiteRepo(t)

	login := mustTask(t, "20250128001", "Fix OAuth redirect")
	require.NoError(t, login.UpdatePriority(task.PriorityHigh))
	require.NoError(t, repo.Save(login))
	require.NoError(t, repo.Save(mustTask(t, "20250128002", "Write docs")))

	matched, err := repo.Search("oauth", 0)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, taskid.ID("20250128001"), matched[0].ID)

	matched, err = repo.FindByCriteria(Criteria{Priority: task.PriorityHigh}, 0)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, taskid.ID("20250128001"), matched[0].ID)
}

func TestSQLiteScopesAreIsolated(t *testing.T) {
	store, err := OpenSQLiteStoreInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	a, err := store.Scope(Scope{UserID: "alice", ProjectID: "api", TreeID: "auth"})
	require.NoError(t, err)
	b, err := store.Scope(Scope{UserID: "alice", ProjectID: "api", TreeID: "billing"})
	require.NoError(t, err)

	require.NoError(t, a.Save(mustTask(t, "20250128001", "Scoped")))

	_, err = b.FindByID("20250128001")
	assert.Error(t, err)

	scopes, err := store.Scopes()
	require.NoError(t, err)
	assert.Equal(t, []Scope{{UserID: "alice", ProjectID: "api", TreeID: "auth"}}, scopes)
}

func TestSQLiteStatistics(t *testing.T) {
	repo := newSQLiteRepo(t)

	done := mustTask(t, "20250128001", "Finished")
	done.SetContextID("ctx")
	require.NoError(t, done.Complete())
	require.NoError(t, repo.Save(done))

	overduePast := time.Now().UTC().Add(-48 * time.Hour)
	late := mustTask(t, "20250128002", "Late")
	late.UpdateDueDate(&overduePast)
	require.NoError(t, repo.Save(late))

	stats, err := repo.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Done)
	assert.Equal(t, 1, stats.Overdue)
	assert.Equal(t, 1, stats.ByStatus[task.StatusDone])
	assert.Equal(t, 1, stats.ByStatus[task.StatusTodo])
}
