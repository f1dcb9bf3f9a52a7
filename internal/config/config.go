package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir string `json:"dataDir" yaml:"dataDir"`

	// Fsync is one of "always", "interval", "never".
	Fsync           string `json:"fsync" yaml:"fsync"`
	FsyncIntervalMs int    `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`

	// FlushDelayMs is the coalescing window for unconfirmed writes.
	FlushDelayMs int `json:"flushDelayMs" yaml:"flushDelayMs"`

	// BookmarkRetentionDays bounds how far back point-in-time bookmarks
	// can reach.
	BookmarkRetentionDays int `json:"bookmarkRetentionDays" yaml:"bookmarkRetentionDays"`

	// SyncTxnMaxDepth bounds synchronous transaction reentrancy.
	SyncTxnMaxDepth int `json:"syncTxnMaxDepth" yaml:"syncTxnMaxDepth"`

	// Experimental unlocks bookmarks, synchronous transactions, and the
	// per-actor SQL view.
	Experimental bool `json:"experimental" yaml:"experimental"`

	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	LogFormat string `json:"logFormat" yaml:"logFormat"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:               DefaultDataDir(),
		Fsync:                 "interval",
		FsyncIntervalMs:       5,
		FlushDelayMs:          2,
		BookmarkRetentionDays: 30,
		SyncTxnMaxDepth:       1,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// Load reads configuration from a JSON or YAML file (by extension),
// overlaid on the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// BookmarkRetention returns the retention window as a duration.
func (c Config) BookmarkRetention() time.Duration {
	return time.Duration(c.BookmarkRetentionDays) * 24 * time.Hour
}

// FsyncInterval returns the group-commit window as a duration.
func (c Config) FsyncInterval() time.Duration {
	return time.Duration(c.FsyncIntervalMs) * time.Millisecond
}

// FlushDelay returns the unconfirmed-write coalescing window as a duration.
func (c Config) FlushDelay() time.Duration {
	return time.Duration(c.FlushDelayMs) * time.Millisecond
}
