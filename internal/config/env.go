package config

import (
	"os"
	"strconv"
)

// FromEnv overlays KEEL_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("KEEL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("KEEL_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("KEEL_FSYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FsyncIntervalMs = n
		}
	}
	if v := os.Getenv("KEEL_FLUSH_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FlushDelayMs = n
		}
	}
	if v := os.Getenv("KEEL_BOOKMARK_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BookmarkRetentionDays = n
		}
	}
	if v := os.Getenv("KEEL_SYNC_TXN_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SyncTxnMaxDepth = n
		}
	}
	if v := os.Getenv("KEEL_EXPERIMENTAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Experimental = b
		}
	}
	if v := os.Getenv("KEEL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("KEEL_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}
