package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/rcalvert/orchard/internal/errors"
	"github.com/rcalvert/orchard/internal/task"
	"github.com/rcalvert/orchard/internal/taskid"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	user_id          TEXT NOT NULL,
	project_id       TEXT NOT NULL,
	tree_id          TEXT NOT NULL,
	id               TEXT NOT NULL,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL,
	status           TEXT NOT NULL,
	priority         TEXT NOT NULL,
	owning_project   TEXT NOT NULL DEFAULT '',
	details          TEXT NOT NULL DEFAULT '',
	estimated_effort TEXT NOT NULL DEFAULT '',
	assignees        TEXT NOT NULL DEFAULT '[]',
	labels           TEXT NOT NULL DEFAULT '[]',
	dependencies     TEXT NOT NULL DEFAULT '[]',
	subtasks         TEXT NOT NULL DEFAULT '[]',
	due_date         TEXT,
	context_id       TEXT NOT NULL DEFAULT '',
	deleted          INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	PRIMARY KEY (user_id, project_id, tree_id, id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_scope_status
	ON tasks (user_id, project_id, tree_id, status);
`

// SQLiteStore persists all scopes in one SQLite database. It implements the
// same contract as FileStore with atomic upserts instead of collection
// rewrites; the rolling-backup retention policy is a file-store concern.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	return openSQLite(path)
}

// OpenSQLiteStoreInMemory opens an isolated in-memory database, for tests.
func OpenSQLiteStoreInMemory() (*SQLiteStore, error) {
	return openSQLite(":memory:")
}

func openSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Serialized access keeps the single-writer model without driver-level
	// busy retries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Scope returns the repository for one scope.
func (s *SQLiteStore) Scope(sc Scope) (Repository, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sqliteRepository{store: s, scope: sc}, nil
}

// Scopes returns every scope with at least one task, sorted.
func (s *SQLiteStore) Scopes() ([]Scope, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT user_id, project_id, tree_id FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []Scope
	for rows.Next() {
		var sc Scope
		if err := rows.Scan(&sc.UserID, &sc.ProjectID, &sc.TreeID); err != nil {
			return nil, err
		}
		scopes = append(scopes, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].String() < scopes[j].String() })
	return scopes, nil
}

// sqliteRepository implements Repository for one scope.
type sqliteRepository struct {
	store *SQLiteStore
	scope Scope
}

const taskColumns = `id, title, description, status, priority, owning_project,
	details, estimated_effort, assignees, labels, dependencies, subtasks,
	due_date, context_id, deleted, created_at, updated_at`

func (r *sqliteRepository) scanTask(scan func(...any) error) (*task.Task, error) {
	var (
		t                                        task.Task
		assignees, labels, dependencies, subtasks string
		dueDate                                  sql.NullString
		deleted                                  int
		createdAt, updatedAt                     string
	)
	err := scan(
		&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.ProjectID,
		&t.Details, &t.EstimatedEffort, &assignees, &labels, &dependencies,
		&subtasks, &dueDate, &t.ContextID, &deleted, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(assignees), &t.Assignees); err != nil {
		return nil, fmt.Errorf("decode assignees: %w", err)
	}
	if err := json.Unmarshal([]byte(labels), &t.Labels); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	if err := json.Unmarshal([]byte(dependencies), &t.Dependencies); err != nil {
		return nil, fmt.Errorf("decode dependencies: %w", err)
	}
	if err := json.Unmarshal([]byte(subtasks), &t.Subtasks); err != nil {
		return nil, fmt.Errorf("decode subtasks: %w", err)
	}
	if dueDate.Valid {
		ts, err := time.Parse(time.RFC3339Nano, dueDate.String)
		if err != nil {
			return nil, fmt.Errorf("decode due date: %w", err)
		}
		t.DueDate = &ts
	}
	t.Deleted = deleted != 0
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &t, nil
}

func (r *sqliteRepository) FindByID(id taskid.ID) (*task.Task, error) {
	row := r.store.db.QueryRow(
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = ? AND project_id = ? AND tree_id = ? AND id = ?`,
		r.scope.UserID, r.scope.ProjectID, r.scope.TreeID, string(id))

	t, err := r.scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.ErrTaskNotFound(string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	return t, nil
}

func (r *sqliteRepository) FindAll() ([]*task.Task, error) {
	rows, err := r.store.db.Query(
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = ? AND project_id = ? AND tree_id = ?
		 ORDER BY id`,
		r.scope.UserID, r.scope.ProjectID, r.scope.TreeID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := r.scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *sqliteRepository) FindByCriteria(c Criteria, limit int) ([]*task.Task, error) {
	// Filters on JSON-encoded lists (assignees, labels) are applied in Go;
	// the scope predicate and simple columns narrow in SQL.
	all, err := r.FindAll()
	if err != nil {
		return nil, err
	}
	var matched []*task.Task
	for _, t := range all {
		if !c.matches(t) {
			continue
		}
		matched = append(matched, t)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

func (r *sqliteRepository) Search(text string, limit int) ([]*task.Task, error) {
	pattern := "%" + text + "%"
	query := `SELECT ` + taskColumns + ` FROM tasks
		 WHERE user_id = ? AND project_id = ? AND tree_id = ?
		   AND (title LIKE ? COLLATE NOCASE
		     OR description LIKE ? COLLATE NOCASE
		     OR details LIKE ? COLLATE NOCASE)
		 ORDER BY id`
	args := []any{r.scope.UserID, r.scope.ProjectID, r.scope.TreeID, pattern, pattern, pattern}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.store.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := r.scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *sqliteRepository) Save(t *task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	assignees, err := json.Marshal(orEmpty(t.Assignees))
	if err != nil {
		return fmt.Errorf("encode assignees: %w", err)
	}
	labels, err := json.Marshal(orEmpty(t.Labels))
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	dependencies, err := json.Marshal(orEmpty(t.Dependencies))
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}
	subtasks, err := json.Marshal(t.Subtasks)
	if err != nil {
		return fmt.Errorf("encode subtasks: %w", err)
	}
	var dueDate any
	if t.DueDate != nil {
		dueDate = t.DueDate.UTC().Format(time.RFC3339Nano)
	}
	deleted := 0
	if t.Deleted {
		deleted = 1
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	_, err = r.store.db.Exec(
		`INSERT INTO tasks (
			user_id, project_id, tree_id, id, title, description, status,
			priority, owning_project, details, estimated_effort, assignees,
			labels, dependencies, subtasks, due_date, context_id, deleted,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, project_id, tree_id, id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			owning_project = excluded.owning_project,
			details = excluded.details,
			estimated_effort = excluded.estimated_effort,
			assignees = excluded.assignees,
			labels = excluded.labels,
			dependencies = excluded.dependencies,
			subtasks = excluded.subtasks,
			due_date = excluded.due_date,
			context_id = excluded.context_id,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at`,
		r.scope.UserID, r.scope.ProjectID, r.scope.TreeID, string(t.ID),
		t.Title, t.Description, string(t.Status), string(t.Priority),
		t.ProjectID, t.Details, t.EstimatedEffort, string(assignees),
		string(labels), string(dependencies), string(subtasks), dueDate,
		t.ContextID, deleted,
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
		t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (r *sqliteRepository) Delete(id taskid.ID) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	result, err := r.store.db.Exec(
		`DELETE FROM tasks
		 WHERE user_id = ? AND project_id = ? AND tree_id = ? AND id = ?`,
		r.scope.UserID, r.scope.ProjectID, r.scope.TreeID, string(id))
	if err != nil {
		return false, fmt.Errorf("delete task %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// NextID allocates the next task id from the stored id set under the store
// lock, so rapid sequential allocations cannot collide.
func (r *sqliteRepository) NextID() (taskid.ID, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rows, err := r.store.db.Query(
		`SELECT id FROM tasks
		 WHERE user_id = ? AND project_id = ? AND tree_id = ?`,
		r.scope.UserID, r.scope.ProjectID, r.scope.TreeID)
	if err != nil {
		return "", fmt.Errorf("list ids: %w", err)
	}
	defer rows.Close()

	var existing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		existing = append(existing, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	id, err := taskid.NextID(existing, time.Now().UTC())
	if err != nil {
		if ce, ok := err.(*taskid.CapacityError); ok {
			return "", errors.ErrCapacityExceeded(ce.Scope).WithCause(err)
		}
		return "", err
	}
	return id, nil
}

func (r *sqliteRepository) Exists(id taskid.ID) (bool, error) {
	var one int
	err := r.store.db.QueryRow(
		`SELECT 1 FROM tasks
		 WHERE user_id = ? AND project_id = ? AND tree_id = ? AND id = ?`,
		r.scope.UserID, r.scope.ProjectID, r.scope.TreeID, string(id)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *sqliteRepository) Count() (int, error) {
	var n int
	err := r.store.db.QueryRow(
		`SELECT COUNT(*) FROM tasks
		 WHERE user_id = ? AND project_id = ? AND tree_id = ?`,
		r.scope.UserID, r.scope.ProjectID, r.scope.TreeID).Scan(&n)
	return n, err
}

func (r *sqliteRepository) Statistics() (*Statistics, error) {
	all, err := r.FindAll()
	if err != nil {
		return nil, err
	}
	return statisticsOf(all), nil
}

// orEmpty keeps JSON list columns as [] instead of null.
func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

var _ Repository = (*sqliteRepository)(nil)
