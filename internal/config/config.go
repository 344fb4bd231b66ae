// Package config loads caseflow configuration from config.yaml in the
// caseflow home directory, with CASEFLOW_* environment overrides.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/caseflow/internal/otel"
)

// StoreConfig selects and configures the backing key/list store.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the SQLite database path. Empty uses <home>/caseflow.db.
	Path string `yaml:"path"`
}

// QueueConfig tunes the task queue.
type QueueConfig struct {
	MetadataTTLHours int `yaml:"metadata_ttl_hours"`
	LeaseSeconds     int `yaml:"lease_seconds"`
	MaxRetries       int `yaml:"max_retries"`
	TimeoutSeconds   int `yaml:"timeout_seconds"`
}

// DispatchConfig tunes the dispatch loop.
type DispatchConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	BatchSize           int `yaml:"batch_size"`
}

// JanitorConfig sets the maintenance cadence.
type JanitorConfig struct {
	// Schedule is a 5-field cron expression. Empty runs every minute.
	Schedule string `yaml:"schedule"`
}

// ActionsConfig points at the predictive-action recommendation service.
type ActionsConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	Store    StoreConfig    `yaml:"store"`
	Queue    QueueConfig    `yaml:"queue"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Janitor  JanitorConfig  `yaml:"janitor"`
	Actions  ActionsConfig  `yaml:"actions"`
	OTel     otel.Config    `yaml:"otel"`
}

// MetadataTTL returns the queue metadata TTL as a duration.
func (c Config) MetadataTTL() time.Duration {
	return time.Duration(c.Queue.MetadataTTLHours) * time.Hour
}

// LeaseDuration returns the worker lease duration.
func (c Config) LeaseDuration() time.Duration {
	return time.Duration(c.Queue.LeaseSeconds) * time.Second
}

// PollInterval returns the dispatch loop cadence.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Dispatch.PollIntervalSeconds) * time.Second
}

// ActionsTimeout returns the recommendation-service request timeout.
func (c Config) ActionsTimeout() time.Duration {
	return time.Duration(c.Actions.TimeoutSeconds) * time.Second
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "store=%s|retries=%d|ttl=%d|lease=%d|poll=%d|batch=%d|log=%s",
		c.Store.Backend, c.Queue.MaxRetries, c.Queue.MetadataTTLHours,
		c.Queue.LeaseSeconds, c.Dispatch.PollIntervalSeconds, c.Dispatch.BatchSize, c.LogLevel)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Queue: QueueConfig{
			MetadataTTLHours: 24,
			LeaseSeconds:     30,
			MaxRetries:       3,
			TimeoutSeconds:   3600,
		},
		Dispatch: DispatchConfig{
			PollIntervalSeconds: 1,
			BatchSize:           10,
		},
		Actions: ActionsConfig{
			URL:            "http://ci-agent:8000",
			TimeoutSeconds: 10,
		},
	}
}

// HomeDir returns the caseflow home directory, honoring CASEFLOW_HOME.
func HomeDir() string {
	if override := os.Getenv("CASEFLOW_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".caseflow")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the caseflow home, applies environment
// overrides, and fills in defaults. A missing config file is not an error.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create caseflow home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.HomeDir, "caseflow.db")
	}
	if cfg.Queue.MetadataTTLHours <= 0 {
		cfg.Queue.MetadataTTLHours = 24
	}
	if cfg.Queue.LeaseSeconds <= 0 {
		cfg.Queue.LeaseSeconds = 30
	}
	if cfg.Queue.MaxRetries <= 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Queue.TimeoutSeconds <= 0 {
		cfg.Queue.TimeoutSeconds = 3600
	}
	if cfg.Dispatch.PollIntervalSeconds <= 0 {
		cfg.Dispatch.PollIntervalSeconds = 1
	}
	if cfg.Dispatch.BatchSize <= 0 {
		cfg.Dispatch.BatchSize = 10
	}
	if cfg.Actions.URL == "" {
		cfg.Actions.URL = "http://ci-agent:8000"
	}
	if cfg.Actions.TimeoutSeconds <= 0 {
		cfg.Actions.TimeoutSeconds = 10
	}
}

func validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown store backend %q (supported: memory, sqlite)", cfg.Store.Backend)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("CASEFLOW_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("CASEFLOW_STORE_BACKEND"); raw != "" {
		cfg.Store.Backend = raw
	}
	if raw := os.Getenv("CASEFLOW_DB_PATH"); raw != "" {
		cfg.Store.Path = raw
	}
	if raw := os.Getenv("CASEFLOW_MAX_RETRIES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Queue.MaxRetries = v
		}
	}
	if raw := os.Getenv("CASEFLOW_LEASE_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Queue.LeaseSeconds = v
		}
	}
	if raw := os.Getenv("CASEFLOW_BATCH_SIZE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Dispatch.BatchSize = v
		}
	}
	if raw := os.Getenv("CASEFLOW_POLL_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Dispatch.PollIntervalSeconds = v
		}
	}
	if raw := os.Getenv("CASEFLOW_JANITOR_SCHEDULE"); raw != "" {
		cfg.Janitor.Schedule = raw
	}
	if raw := os.Getenv("CASEFLOW_ACTIONS_URL"); raw != "" {
		cfg.Actions.URL = raw
	}
}
