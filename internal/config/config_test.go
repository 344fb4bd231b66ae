package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/caseflow/internal/config"
)

func loadFromTempHome(t *testing.T, yaml string) config.Config {
	t.Helper()
	home := t.TempDir()
	t.Setenv("CASEFLOW_HOME", home)
	if yaml != "" {
		path := config.ConfigPath(home)
		if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
			t.Fatalf("write config.yaml: %v", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromTempHome(t, "")

	if cfg.LogLevel != "info" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("store backend = %q", cfg.Store.Backend)
	}
	if got := filepath.Join(cfg.HomeDir, "caseflow.db"); cfg.Store.Path != got {
		t.Fatalf("store path = %q, want %q", cfg.Store.Path, got)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Fatalf("max retries = %d", cfg.Queue.MaxRetries)
	}
	if cfg.MetadataTTL() != 24*time.Hour {
		t.Fatalf("metadata ttl = %s", cfg.MetadataTTL())
	}
	if cfg.LeaseDuration() != 30*time.Second {
		t.Fatalf("lease = %s", cfg.LeaseDuration())
	}
	if cfg.PollInterval() != time.Second {
		t.Fatalf("poll interval = %s", cfg.PollInterval())
	}
	if cfg.Dispatch.BatchSize != 10 {
		t.Fatalf("batch size = %d", cfg.Dispatch.BatchSize)
	}
	if cfg.Actions.URL != "http://ci-agent:8000" {
		t.Fatalf("actions url = %q", cfg.Actions.URL)
	}
	if cfg.ActionsTimeout() != 10*time.Second {
		t.Fatalf("actions timeout = %s", cfg.ActionsTimeout())
	}
}

func TestLoad_CreatesHomeDir(t *testing.T) {
	home := filepath.Join(t.TempDir(), "nested", "caseflow-home")
	t.Setenv("CASEFLOW_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HomeDir != home {
		t.Fatalf("home = %q, want %q", cfg.HomeDir, home)
	}
	info, err := os.Stat(home)
	if err != nil || !info.IsDir() {
		t.Fatalf("home dir not created: %v", err)
	}
}

func TestLoad_FromYAML(t *testing.T) {
	cfg := loadFromTempHome(t, `
log_level: debug
store:
  backend: memory
queue:
  max_retries: 5
  lease_seconds: 90
dispatch:
  poll_interval_seconds: 2
  batch_size: 25
janitor:
  schedule: "*/5 * * * *"
actions:
  url: http://actions.internal:9000
  timeout_seconds: 3
`)

	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("store backend = %q", cfg.Store.Backend)
	}
	if cfg.Queue.MaxRetries != 5 || cfg.Queue.LeaseSeconds != 90 {
		t.Fatalf("queue = %+v", cfg.Queue)
	}
	if cfg.Dispatch.PollIntervalSeconds != 2 || cfg.Dispatch.BatchSize != 25 {
		t.Fatalf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Janitor.Schedule != "*/5 * * * *" {
		t.Fatalf("janitor schedule = %q", cfg.Janitor.Schedule)
	}
	if cfg.Actions.URL != "http://actions.internal:9000" || cfg.ActionsTimeout() != 3*time.Second {
		t.Fatalf("actions = %+v", cfg.Actions)
	}
	// Unset values still get defaults.
	if cfg.Queue.MetadataTTLHours != 24 {
		t.Fatalf("metadata ttl hours = %d", cfg.Queue.MetadataTTLHours)
	}
}

func TestLoad_EnvOverridesBeatFile(t *testing.T) {
	t.Setenv("CASEFLOW_LOG_LEVEL", "warn")
	t.Setenv("CASEFLOW_STORE_BACKEND", "memory")
	t.Setenv("CASEFLOW_MAX_RETRIES", "7")
	t.Setenv("CASEFLOW_BATCH_SIZE", "50")
	t.Setenv("CASEFLOW_ACTIONS_URL", "http://localhost:8001")

	cfg := loadFromTempHome(t, `
log_level: debug
store:
  backend: sqlite
queue:
  max_retries: 2
`)

	if cfg.LogLevel != "warn" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("store backend = %q", cfg.Store.Backend)
	}
	if cfg.Queue.MaxRetries != 7 {
		t.Fatalf("max retries = %d", cfg.Queue.MaxRetries)
	}
	if cfg.Dispatch.BatchSize != 50 {
		t.Fatalf("batch size = %d", cfg.Dispatch.BatchSize)
	}
	if cfg.Actions.URL != "http://localhost:8001" {
		t.Fatalf("actions url = %q", cfg.Actions.URL)
	}
}

func TestLoad_BadEnvIntegerIgnored(t *testing.T) {
	t.Setenv("CASEFLOW_MAX_RETRIES", "not-a-number")

	cfg := loadFromTempHome(t, "")
	if cfg.Queue.MaxRetries != 3 {
		t.Fatalf("max retries = %d, want default 3", cfg.Queue.MaxRetries)
	}
}

func TestLoad_UnknownBackendRejected(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CASEFLOW_HOME", home)
	t.Setenv("CASEFLOW_STORE_BACKEND", "redis")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestFingerprint_Stability(t *testing.T) {
	a := loadFromTempHome(t, "")
	b := loadFromTempHome(t, "")
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprints differ: %s vs %s", a.Fingerprint(), b.Fingerprint())
	}

	t.Setenv("CASEFLOW_MAX_RETRIES", "9")
	c := loadFromTempHome(t, "")
	if c.Fingerprint() == a.Fingerprint() {
		t.Fatal("fingerprint unchanged after retry override")
	}
}
