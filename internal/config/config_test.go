package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Fsync != "interval" || cfg.FsyncIntervalMs != 5 {
		t.Fatalf("fsync defaults = %q/%d", cfg.Fsync, cfg.FsyncIntervalMs)
	}
	if cfg.SyncTxnMaxDepth != 1 {
		t.Fatalf("sync txn depth default = %d", cfg.SyncTxnMaxDepth)
	}
	if cfg.Experimental {
		t.Fatal("experimental on by default")
	}
	if got := cfg.BookmarkRetention(); got != 30*24*time.Hour {
		t.Fatalf("retention = %v", got)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "keel.json", `{"dataDir":"/tmp/keel-test","fsync":"always","experimental":true}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/tmp/keel-test" || cfg.Fsync != "always" || !cfg.Experimental {
		t.Fatalf("loaded = %+v", cfg)
	}
	// Unspecified fields keep their defaults.
	if cfg.SyncTxnMaxDepth != 1 {
		t.Fatalf("depth = %d", cfg.SyncTxnMaxDepth)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "keel.yaml", "dataDir: /tmp/keel-yaml\nbookmarkRetentionDays: 7\nlogLevel: debug\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/tmp/keel-yaml" || cfg.BookmarkRetentionDays != 7 || cfg.LogLevel != "debug" {
		t.Fatalf("loaded = %+v", cfg)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Fsync != Default().Fsync {
		t.Fatalf("loaded = %+v", cfg)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("KEEL_DATA_DIR", "/tmp/keel-env")
	t.Setenv("KEEL_FSYNC", "never")
	t.Setenv("KEEL_SYNC_TXN_MAX_DEPTH", "3")
	t.Setenv("KEEL_EXPERIMENTAL", "true")
	t.Setenv("KEEL_FLUSH_DELAY_MS", "10")

	cfg := Default()
	FromEnv(&cfg)
	if cfg.DataDir != "/tmp/keel-env" || cfg.Fsync != "never" {
		t.Fatalf("env overlay = %+v", cfg)
	}
	if cfg.SyncTxnMaxDepth != 3 || !cfg.Experimental {
		t.Fatalf("env overlay = %+v", cfg)
	}
	if cfg.FlushDelay() != 10*time.Millisecond {
		t.Fatalf("flush delay = %v", cfg.FlushDelay())
	}
}

func TestDefaultDataDirNotEmpty(t *testing.T) {
	if DefaultDataDir() == "" {
		t.Fatal("empty default data dir")
	}
}
