// Package config provides configuration management for orchard.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcalvert/orchard/internal/storage"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
	// OrchardDir is the orchard configuration directory.
	OrchardDir = ".orchard"
)

// Backend selects the persistence backend.
type Backend string

const (
	// BackendFiles stores one yaml collection per scope with rolling backups.
	BackendFiles Backend = "files"
	// BackendSQLite stores all scopes in one SQLite database.
	BackendSQLite Backend = "sqlite"
)

// Config represents the orchard configuration.
type Config struct {
	// Version is the config file version.
	Version int `yaml:"version"`

	// StorageRoot is the directory holding scope collections (files backend)
	// or the database file (sqlite backend).
	StorageRoot string `yaml:"storage_root"`

	// Backend selects the persistence backend (files, sqlite).
	Backend Backend `yaml:"backend"`

	// DatabaseFile is the SQLite file name under StorageRoot.
	DatabaseFile string `yaml:"database_file"`

	// BackupRetention is the number of rolling backups kept per collection.
	BackupRetention int `yaml:"backup_retention"`

	// WatcherDebounce is the quiet period before collection change events
	// fire.
	WatcherDebounce time.Duration `yaml:"watcher_debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version:         1,
		StorageRoot:     filepath.Join(OrchardDir, "data"),
		Backend:         BackendFiles,
		DatabaseFile:    "orchard.db",
		BackupRetention: storage.DefaultBackupRetention,
		WatcherDebounce: 500 * time.Millisecond,
	}
}

// Load builds the effective configuration. Load order, later sources
// override earlier ones:
//  1. Built-in defaults
//  2. User config (~/.orchard/config.yaml) - optional
//  3. Project config (.orchard/config.yaml) - optional
//  4. Environment variables (ORCHARD_*)
func Load() (*Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, OrchardDir, ConfigFileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := mergeFromFile(cfg, userPath); err != nil {
				slog.Warn("failed to load user config", "path", userPath, "error", err)
			}
		}
	}

	projectPath := filepath.Join(OrchardDir, ConfigFileName)
	if _, err := os.Stat(projectPath); err == nil {
		if err := mergeFromFile(cfg, projectPath); err != nil {
			return nil, err
		}
	}

	applyEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile builds the configuration from one explicit file plus defaults and
// environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := mergeFromFile(cfg, path); err != nil {
		return nil, err
	}
	applyEnvVars(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFromFile overlays set fields from a yaml file onto cfg.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if fileCfg.Version != 0 {
		cfg.Version = fileCfg.Version
	}
	if fileCfg.StorageRoot != "" {
		cfg.StorageRoot = fileCfg.StorageRoot
	}
	if fileCfg.Backend != "" {
		cfg.Backend = fileCfg.Backend
	}
	if fileCfg.DatabaseFile != "" {
		cfg.DatabaseFile = fileCfg.DatabaseFile
	}
	if fileCfg.BackupRetention != 0 {
		cfg.BackupRetention = fileCfg.BackupRetention
	}
	if fileCfg.WatcherDebounce != 0 {
		cfg.WatcherDebounce = fileCfg.WatcherDebounce
	}
	return nil
}

// applyEnvVars overlays ORCHARD_* environment variables onto cfg. Malformed
// values are warned about and skipped.
func applyEnvVars(cfg *Config) {
	if v := os.Getenv("ORCHARD_STORAGE_ROOT"); v != "" {
		cfg.StorageRoot = v
	}
	if v := os.Getenv("ORCHARD_BACKEND"); v != "" {
		cfg.Backend = Backend(v)
	}
	if v := os.Getenv("ORCHARD_DATABASE_FILE"); v != "" {
		cfg.DatabaseFile = v
	}
	if v := os.Getenv("ORCHARD_BACKUP_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.BackupRetention = n
		} else {
			slog.Warn("invalid ORCHARD_BACKUP_RETENTION, ignoring", "value", v)
		}
	}
	if v := os.Getenv("ORCHARD_WATCHER_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.WatcherDebounce = d
		} else {
			slog.Warn("invalid ORCHARD_WATCHER_DEBOUNCE, ignoring", "value", v)
		}
	}
}

// Validate checks the effective configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFiles, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q: must be %q or %q", c.Backend, BackendFiles, BackendSQLite)
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("storage_root must not be empty")
	}
	if c.BackupRetention < 0 {
		return fmt.Errorf("backup_retention must not be negative")
	}
	return nil
}

// DatabasePath is the full path of the SQLite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StorageRoot, c.DatabaseFile)
}

// Save writes the configuration to a yaml file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
