package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcalvert/orchard/internal/task"
	"github.com/rcalvert/orchard/internal/taskid"
	"github.com/rcalvert/orchard/internal/util"
)

var testScope = Scope{UserID: "alice", ProjectID: "api", TreeID: "auth"}

func newFileRepo(t *testing.T, opts ...FileStoreOption) (*FileStore, Repository) {
	t.Helper()
	store := NewFileStore(t.TempDir(), opts...)
	repo, err := store.Scope(testScope)
	require.NoError(t, err)
	return store, repo
}

func mustTask(t *testing.T, id, title string) *task.Task {
	t.Helper()
	tk, err := task.New(taskid.ID(id), title, "description")
	require.NoError(t, err)
	return tk
}

func TestScopeValidate(t *testing.T) {
	assert.NoError(t, testScope.Validate())
	assert.Error(t, Scope{UserID: "", ProjectID: "p", TreeID: "t"}.Validate())
	assert.Error(t, Scope{UserID: "a/b", ProjectID: "p", TreeID: "t"}.Validate())
	assert.Error(t, Scope{UserID: "a", ProjectID: "..", TreeID: "t"}.Validate())
}

func TestFileRepositoryRoundTrip(t *testing.T) {
	_, repo := newFileRepo(t)

	tk := mustTask(t, "20250128001", "Implement login")
	tk.AddLabel("backend")
	tk.AddAssignee("agent-1")
	require.NoError(t, repo.Save(tk))

	got, err := repo.FindByID("20250128001")
	require.NoError(t, err)
	assert.Equal(t, tk.Title, got.Title)
	assert.Equal(t, tk.Status, got.Status)
	assert.Equal(t, tk.Labels, got.Labels)
	assert.Equal(t, tk.Assignees, got.Assignees)
	assert.True(t, got.CreatedAt.Equal(tk.CreatedAt))
	assert.True(t, got.UpdatedAt.Equal(tk.UpdatedAt))
}

func TestFileRepositorySaveUpserts(t *testing.T) {
	_, repo := newFileRepo(t)

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

func TestFileRepositoryDelete(t *testing.T) {
	_, repo := newFileRepo(t)
	require.NoError(t, repo.Save(mustTask(t, "20250128001", "Task")))

	removed, err := repo.Delete("20250128001")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.Delete("20250128001")
	require.NoError(t, err)
	assert.False(t, removed, "deleting an absent task reports false, not an error")
}

func TestFileRepositoryNextIDFromStoredSet(t *testing.T) {
	_, repo := newFileRepo(t)

	first, err := repo.NextID()
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sequence())

	require.NoError(t, repo.Save(mustTask(t, string(first), "First")))

	second, err := repo.NextID()
	require.NoError(t, err)
	assert.Equal(t, 2, second.Sequence())
	assert.Equal(t, first.Date(), second.Date())
}

func TestFileRepositoryFindByCriteria(t *testing.T) {
	_, repo := newFileRepo(t)

	urgent := mustTask(t, "20250128001", "Urgent work")
	require.NoError(t, urgent.UpdatePriority(task.PriorityUrgent))
	urgent.AddLabel("backend")
	require.NoError(t, repo.Save(urgent))

	other := mustTask(t, "20250128002", "Routine work")
	require.NoError(t, repo.Save(other))

	matched, err := repo.FindByCriteria(Criteria{Priority: task.PriorityUrgent}, 0)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, taskid.ID("20250128001"), matched[0].ID)

	matched, err = repo.FindByCriteria(Criteria{Labels: []string{"backend"}}, 0)
	require.NoError(t, err)
	require.Len(t, matched, 1)

	matched, err = repo.FindByCriteria(Criteria{}, 1)
	require.NoError(t, err)
	assert.Len(t, matched, 1, "limit caps results")
}

func TestFileRepositorySearch(t *testing.T) {
	_, repo := newFileRepo(t)
	require.NoError(t, repo.Save(mustTask(t, "20250128001", "Fix OAuth redirect")))
	require.NoError(t, repo.Save(mustTask(t, "20250128002", "Write docs")))

	matched, err := repo.Search("oauth", 0)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, taskid.ID("20250128001"), matched[0].ID)
}

func TestFileStoreBackupRotation(t *testing.T) {
	store, repo := newFileRepo(t, WithBackupRetention(3))

	tk := mustTask(t, "20250128001", "Task")
	for i := 0; i < 8; i++ {
		tk.UpdateDetails(fmt.Sprintf("revision %d", i))
		require.NoError(t, repo.Save(tk))
	}

	backups, err := util.ListBackups(store.collectionPath(testScope))
	require.NoError(t, err)
	assert.Len(t, backups, 3)
}

func TestFileRepositoryRestoresFromBackup(t *testing.T) {
	store, repo := newFileRepo(t)

	tk := mustTask(t, "20250128001", "Survivor")
	require.NoError(t, repo.Save(tk))
	tk.UpdateDetails("second revision")
	require.NoError(t, repo.Save(tk))

	path := store.collectionPath(testScope)
	require.NoError(t, os.WriteFile(path, []byte("tasks: [{{{"), 0o644))

	got, err := repo.FindByID("20250128001")
	require.NoError(t, err, "corrupt collection falls back to the newest backup")
	assert.Equal(t, "Survivor", got.Title)
}

func TestFileRepositoryCorruptWithoutBackupFails(t *testing.T) {
	store, repo := newFileRepo(t)

	path := store.collectionPath(testScope)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("tasks: [{{{"), 0o644))

	_, err := repo.FindAll()
	assert.Error(t, err)
}

func TestFileStoreScopesAndAggregateStatistics(t *testing.T) {
	store := NewFileStore(t.TempDir())

	scopes := []Scope{
		{UserID: "alice", ProjectID: "api", TreeID: "auth"},
		{UserID: "alice", ProjectID: "api", TreeID: "billing"},
		{UserID: "bob", ProjectID: "cli", TreeID: "main"},
	}
	for i, sc := range scopes {
		repo, err := store.Scope(sc)
		require.NoError(t, err)
		id := taskid.ID(fmt.Sprintf("2025012800%d", i+1))
		require.NoError(t, repo.Save(mustTask(t, string(id), "Task")))
	}

	found, err := store.Scopes()
	require.NoError(t, err)
	assert.Equal(t, scopes, found, "scopes are sorted by user/project/tree")

	stats, err := store.AggregateStatistics()
	require.NoError(t, err)
	require.Len(t, stats, 3)
	for _, sc := range scopes {
		require.Contains(t, stats, sc)
		assert.Equal(t, 1, stats[sc].Total)
		assert.Equal(t, 1, stats[sc].ByStatus[task.StatusTodo])
	}
}

func TestScopesAreIsolated(t *testing.T) {
	store := NewFileStore(t.TempDir())

	a, err := store.Scope(Scope{UserID: "alice", ProjectID: "api", TreeID: "auth"})
	require.NoError(t, err)
	b, err := store.Scope(Scope{UserID: "alice", ProjectID: "api", TreeID: "billing"})
	require.NoError(t, err)

	require.NoError(t, a.Save(mustTask(t, "20250128001", "Scoped")))

	_, err = b.FindByID("20250128001")
	assert.Error(t, err, "tasks must not leak across scopes")

	id, err := b.NextID()
	require.NoError(t, err)
	assert.Equal(t, 1, id.Sequence(), "id sequences are per scope")
}
