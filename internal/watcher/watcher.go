// Package watcher monitors a file store root for externally edited scope
// collections. It publishes an event per (user, project, tree) scope after
// changes settle, using content hashing to drop rewrites that did not change
// the collection.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rcalvert/orchard/internal/storage"
)

// Op classifies a scope collection event.
type Op int

const (
	// OpChanged means the collection's content changed.
	OpChanged Op = iota
	// OpRemoved means the collection file was deleted or renamed away.
	OpRemoved
)

// Event reports one settled change to a scope's collection.
type Event struct {
	Scope storage.Scope
	Op    Op
	Path  string
}

// Config configures a Watcher.
type Config struct {
	// Root is the file store root, the same directory given to
	// storage.NewFileStore.
	Root string
	// Debounce is the quiet period before an event fires (default 500ms).
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher watches a store root for collection changes.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger

	fsWatcher *fsnotify.Watcher
	events    chan Event

	mu     sync.Mutex
	hashes map[string]string
	timers map[string]*time.Timer
}

// New creates a watcher over the store root.
func New(cfg *Config) (*Watcher, error) {
	if cfg == nil || cfg.Root == "" {
		return nil, fmt.Errorf("watcher root is required")
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		root:      cfg.Root,
		debounce:  debounce,
		logger:    logger,
		fsWatcher: fsWatcher,
		events:    make(chan Event, 64),
		hashes:    make(map[string]string),
		timers:    make(map[string]*time.Timer),
	}, nil
}

// Events returns the channel of settled scope changes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start begins watching. Blocks until the context is cancelled or the
// underlying watcher fails.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("create watch root: %w", err)
	}
	if err := w.addRecursive(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	// Seed hashes so the first real change is distinguishable from the
	// initial state.
	w.seedHashes()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	err := w.fsWatcher.Close()
	w.mu.Lock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	return err
}

// addRecursive watches dir and every subdirectory. New scope directories are
// picked up from create events as they appear.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsWatcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) seedHashes() {
	store := storage.NewFileStore(w.root)
	scopes, err := store.Scopes()
	if err != nil {
		w.logger.Warn("seed scan failed", "error", err)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sc := range scopes {
		path := filepath.Join(w.root, sc.UserID, sc.ProjectID, sc.TreeID, storage.CollectionFileName)
		if hash, err := hashFile(path); err == nil {
			w.hashes[path] = hash
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("watch new directory failed", "path", event.Name, "error", err)
			}
			// Collections written before the watch was installed produce no
			// further events; pick them up from the scan.
			w.scanExisting(event.Name)
			return
		}
	}

	scope, ok := w.scopeForPath(event.Name)
	if !ok {
		return
	}

	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		// Atomic rewrites land as rename+create; the settle timer decides
		// whether the file is really gone.
		w.schedule(event.Name, scope)
		return
	}
	if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
		w.schedule(event.Name, scope)
	}
}

// scanExisting schedules settle checks for collection files already present
// under a newly watched directory.
func (w *Watcher) scanExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if scope, ok := w.scopeForPath(path); ok {
			w.schedule(path, scope)
		}
		return nil
	})
}

// scopeForPath maps a collection file path back to its scope.
func (w *Watcher) scopeForPath(path string) (storage.Scope, bool) {
	if filepath.Base(path) != storage.CollectionFileName {
		return storage.Scope{}, false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return storage.Scope{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 {
		return storage.Scope{}, false
	}
	scope := storage.Scope{UserID: parts[0], ProjectID: parts[1], TreeID: parts[2]}
	if scope.Validate() != nil {
		return storage.Scope{}, false
	}
	return scope, true
}

// schedule resets the settle timer for a collection path.
func (w *Watcher) schedule(path string, scope storage.Scope) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.timers[path]; exists {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.settle(path, scope)
	})
}

// settle fires after the quiet period: compares content hashes and emits at
// most one event for the whole burst.
func (w *Watcher) settle(path string, scope storage.Scope) {
	w.mu.Lock()
	delete(w.timers, path)
	previous := w.hashes[path]
	w.mu.Unlock()

	hash, err := hashFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("hash collection failed", "path", path, "error", err)
			return
		}
		w.mu.Lock()
		delete(w.hashes, path)
		w.mu.Unlock()
		if previous != "" {
			w.emit(Event{Scope: scope, Op: OpRemoved, Path: path})
		}
		return
	}

	if hash == previous {
		return
	}
	w.mu.Lock()
	w.hashes[path] = hash
	w.mu.Unlock()
	w.emit(Event{Scope: scope, Op: OpChanged, Path: path})
}

func (w *Watcher) emit(event Event) {
	select {
	case w.events <- event:
	default:
		w.logger.Warn("event channel full, dropping",
			"scope", event.Scope.String(), "op", event.Op)
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
