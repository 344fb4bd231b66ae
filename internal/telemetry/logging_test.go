package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_EmitsStructuredSchema(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "debug", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("startup phase", "phase", "config_loaded", "task_id", "task-1")

	logPath := filepath.Join(home, "logs", "system.jsonl")
	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		t.Fatalf("expected at least one log line")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal log json: %v", err)
	}

	required := []string{"timestamp", "level", "msg", "component", "trace_id"}
	for _, key := range required {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing required key %q in log entry: %#v", key, entry)
		}
	}
	if entry["component"] != "caseflow" {
		t.Fatalf("expected component=caseflow, got %#v", entry["component"])
	}
	if entry["trace_id"] != "-" {
		t.Fatalf("expected trace_id='-', got %#v", entry["trace_id"])
	}
	if entry["task_id"] != "task-1" {
		t.Fatalf("expected task_id propagation, got %#v", entry["task_id"])
	}
}

func TestNewLogger_RedactsSensitiveFields(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("alert ingested",
		"api_key", "abc123",
		"alert_description", "request carried Authorization: Bearer super-secret-token",
	)

	logPath := filepath.Join(home, "logs", "system.jsonl")
	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) == 0 {
		t.Fatalf("expected log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}
	if entry["api_key"] != "[REDACTED]" {
		t.Fatalf("expected api_key redaction, got %#v", entry["api_key"])
	}
	if entry["alert_description"] != "[REDACTED]" {
		t.Fatalf("expected alert_description redaction, got %#v", entry["alert_description"])
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "warn", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Debug("ignored")
	logger.Info("also ignored")
	logger.Warn("kept")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), raw)
	}
	if !strings.Contains(lines[0], "kept") {
		t.Fatalf("wrong line survived filtering: %s", lines[0])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"info":    "INFO",
		"WARN":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for input, want := range cases {
		if got := parseLevel(input).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}
