// Package telemetry builds the process-wide structured logger: JSON lines to
// logs/system.jsonl under the caseflow home, mirrored to stdout unless quiet,
// with secret redaction applied to every attribute.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/caseflow/internal/shared"
)

const logFileName = "system.jsonl"

// NewLogger opens the log file and returns a slog.Logger carrying the
// baseline component and trace_id attributes. The returned closer owns the
// file handle.
func NewLogger(homeDir, level string, quiet bool) (*slog.Logger, io.Closer, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(filepath.Join(logDir, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	var sink io.Writer = file
	if !quiet {
		sink = io.MultiWriter(os.Stdout, file)
	}

	handler := slog.NewJSONHandler(sink, &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: rewriteAttr,
	})
	logger := slog.New(handler).With("component", "caseflow", "trace_id", "-")
	return logger, file, nil
}

// rewriteAttr renames the time key to the schema's "timestamp" and scrubs
// secrets from both attribute keys and string values.
func rewriteAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Key = "timestamp"
	}
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		if scrubbed, changed := scrubValue(a.Value.String()); changed {
			return slog.String(a.Key, scrubbed)
		}
	}
	return a
}

var sensitiveKeyTokens = []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range sensitiveKeyTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// scrubValue redacts string values that carry auth material. Values that
// embed a bearer token or auth header are replaced wholesale; otherwise the
// shared pattern redaction runs over the text.
func scrubValue(v string) (string, bool) {
	lower := strings.ToLower(v)
	if strings.Contains(lower, "bearer ") || strings.Contains(lower, "api_key") || strings.Contains(lower, "authorization:") {
		return "[REDACTED]", true
	}
	if redacted := shared.Redact(v); redacted != v {
		return redacted, true
	}
	return v, false
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
