package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/rcalvert/orchard/internal/errors"
	"github.com/rcalvert/orchard/internal/task"
	"github.com/rcalvert/orchard/internal/taskid"
	"github.com/rcalvert/orchard/internal/util"
)

const (
	// CollectionFileName is the record collection file within a scope.
	CollectionFileName = "tasks.yaml"
	// DefaultBackupRetention is the number of rotating backups kept per
	// collection.
	DefaultBackupRetention = 10
)

// FileStore persists one yaml record collection per (user, project, tree)
// scope under <root>/<user>/<project>/<tree>/tasks.yaml. Every mutation is a
// full read-modify-write of the scope's collection: the previous version is
// rotated into a timestamped backup, then the new version is written
// atomically. A per-scope mutex serializes writers within this process;
// cross-process exclusion is the deployment's responsibility.
type FileStore struct {
	root   string
	keep   int
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithBackupRetention overrides the number of rotating backups kept.
func WithBackupRetention(keep int) FileStoreOption {
	return func(s *FileStore) { s.keep = keep }
}

// WithLogger sets the logger for non-fatal warnings.
func WithLogger(logger *slog.Logger) FileStoreOption {
	return func(s *FileStore) { s.logger = logger }
}

// NewFileStore creates a file store rooted at root.
func NewFileStore(root string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		root:   root,
		keep:   DefaultBackupRetention,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scope returns the repository for one scope.
func (s *FileStore) Scope(sc Scope) (Repository, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &fileRepository{store: s, scope: sc}, nil
}

// scopeLock returns the write lock for a scope, creating it on first use.
func (s *FileStore) scopeLock(sc Scope) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sc.String()
	if _, ok := s.locks[key]; !ok {
		s.locks[key] = &sync.Mutex{}
	}
	return s.locks[key]
}

// collectionPath returns the collection file path for a scope.
func (s *FileStore) collectionPath(sc Scope) string {
	return filepath.Join(s.root, sc.UserID, sc.ProjectID, sc.TreeID, CollectionFileName)
}

// Scopes walks the root and returns every scope with a collection file.
func (s *FileStore) Scopes() ([]Scope, error) {
	var scopes []Scope

	users, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read storage root: %w", err)
	}
	for _, user := range users {
		if !user.IsDir() {
			continue
		}
		projects, err := os.ReadDir(filepath.Join(s.root, user.Name()))
		if err != nil {
			continue
		}
		for _, project := range projects {
			if !project.IsDir() {
				continue
			}
			trees, err := os.ReadDir(filepath.Join(s.root, user.Name(), project.Name()))
			if err != nil {
				continue
			}
			for _, tree := range trees {
				if !tree.IsDir() {
					continue
				}
				sc := Scope{UserID: user.Name(), ProjectID: project.Name(), TreeID: tree.Name()}
				if _, err := os.Stat(s.collectionPath(sc)); err == nil {
					scopes = append(scopes, sc)
				}
			}
		}
	}

	sort.Slice(scopes, func(i, j int) bool { return scopes[i].String() < scopes[j].String() })
	return scopes, nil
}

// AggregateStatistics computes statistics for every scope. Scopes are
// independent, so they are scanned in parallel.
func (s *FileStore) AggregateStatistics() (map[Scope]*Statistics, error) {
	scopes, err := s.Scopes()
	if err != nil {
		return nil, err
	}

	results := make([]*Statistics, len(scopes))
	var g errgroup.Group
	g.SetLimit(8)
	for i, sc := range scopes {
		i, sc := i, sc
		g.Go(func() error {
			repo, err := s.Scope(sc)
			if err != nil {
				return err
			}
			stats, err := repo.Statistics()
			if err != nil {
				return fmt.Errorf("scope %s: %w", sc, err)
			}
			results[i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	aggregate := make(map[Scope]*Statistics, len(scopes))
	for i, sc := range scopes {
		aggregate[sc] = results[i]
	}
	return aggregate, nil
}

// collection is the on-disk shape of one scope's record collection.
type collection struct {
	Tasks []*task.Task `yaml:"tasks"`
}

// fileRepository implements Repository over one scope's collection file.
type fileRepository struct {
	store *FileStore
	scope Scope
}

// load reads and parses the scope's collection. A corrupt collection falls
// back to the newest readable backup, keeping last-known-good semantics.
func (r *fileRepository) load() (*collection, error) {
	path := r.store.collectionPath(r.scope)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &collection{}, nil
		}
		return nil, fmt.Errorf("read collection %s: %w", r.scope, err)
	}

	var col collection
	uerr := yaml.Unmarshal(data, &col)
	if uerr == nil {
		return &col, nil
	}
	r.store.logger.Warn("collection corrupt, trying backups",
		"scope", r.scope.String(), "error", uerr)

	backups, berr := util.ListBackups(path)
	if berr != nil {
		return nil, fmt.Errorf("list backups for %s: %w", r.scope, berr)
	}
	for _, backup := range backups {
		data, err := os.ReadFile(backup)
		if err != nil {
			continue
		}
		var col collection
		if err := yaml.Unmarshal(data, &col); err != nil {
			continue
		}
		r.store.logger.Warn("restored collection from backup",
			"scope", r.scope.String(), "backup", filepath.Base(backup))
		return &col, nil
	}

	return nil, fmt.Errorf("collection %s is corrupt and no readable backup exists", r.scope)
}

// persist rotates the previous version into a backup and writes the new
// collection atomically.
func (r *fileRepository) persist(col *collection) error {
	path := r.store.collectionPath(r.scope)

	if err := util.RotateBackup(path, r.store.keep); err != nil {
		return fmt.Errorf("rotate backup for %s: %w", r.scope, err)
	}

	data, err := yaml.Marshal(col)
	if err != nil {
		return fmt.Errorf("marshal collection %s: %w", r.scope, err)
	}
	if err := util.AtomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write collection %s: %w", r.scope, err)
	}
	return nil
}

func (r *fileRepository) FindByID(id taskid.ID) (*task.Task, error) {
	col, err := r.load()
	if err != nil {
		return nil, err
	}
	for _, t := range col.Tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, errors.ErrTaskNotFound(string(id))
}

func (r *fileRepository) FindAll() ([]*task.Task, error) {
	col, err := r.load()
	if err != nil {
		return nil, err
	}
	sort.Slice(col.Tasks, func(i, j int) bool { return col.Tasks[i].ID < col.Tasks[j].ID })
	return col.Tasks, nil
}

func (r *fileRepository) FindByCriteria(c Criteria, limit int) ([]*task.Task, error) {
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

func (r *fileRepository) Search(text string, limit int) ([]*task.Task, error) {
	all, err := r.FindAll()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(text)
	var matched []*task.Task
	for _, t := range all {
		haystack := strings.ToLower(t.Title + " " + t.Description + " " + t.Details)
		if !strings.Contains(haystack, needle) {
			continue
		}
		matched = append(matched, t)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

func (r *fileRepository) Save(t *task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	lock := r.store.scopeLock(r.scope)
	lock.Lock()
	defer lock.Unlock()

	col, err := r.load()
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range col.Tasks {
		if existing.ID == t.ID {
			col.Tasks[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		col.Tasks = append(col.Tasks, t)
	}
	return r.persist(col)
}

func (r *fileRepository) Delete(id taskid.ID) (bool, error) {
	lock := r.store.scopeLock(r.scope)
	lock.Lock()
	defer lock.Unlock()

	col, err := r.load()
	if err != nil {
		return false, err
	}
	for i, t := range col.Tasks {
		if t.ID == id {
			col.Tasks = append(col.Tasks[:i], col.Tasks[i+1:]...)
			return true, r.persist(col)
		}
	}
	return false, nil
}

// NextID allocates the next task id for today from the stored id set. The
// scope lock spans the read and the allocation, so rapid sequential
// allocations in one process cannot collide.
func (r *fileRepository) NextID() (taskid.ID, error) {
	lock := r.store.scopeLock(r.scope)
	lock.Lock()
	defer lock.Unlock()

	col, err := r.load()
	if err != nil {
		return "", err
	}
	existing := make([]string, len(col.Tasks))
	for i, t := range col.Tasks {
		existing[i] = string(t.ID)
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

func (r *fileRepository) Exists(id taskid.ID) (bool, error) {
	col, err := r.load()
	if err != nil {
		return false, err
	}
	for _, t := range col.Tasks {
		if t.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (r *fileRepository) Count() (int, error) {
	col, err := r.load()
	if err != nil {
		return 0, err
	}
	return len(col.Tasks), nil
}

func (r *fileRepository) Statistics() (*Statistics, error) {
	col, err := r.load()
	if err != nil {
		return nil, err
	}
	return statisticsOf(col.Tasks), nil
}

var _ Repository = (*fileRepository)(nil)
