package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretPattern pairs a regexp with whether its first capture group is a
// prefix worth keeping (so "Bearer xyz" becomes "Bearer [REDACTED]" rather
// than disappearing entirely).
type secretPattern struct {
	re         *regexp.Regexp
	keepPrefix bool
}

// Alert payloads routinely quote auth headers and tokens from the systems
// that raised them, so redaction runs over free text, not just known fields.
var secretPatterns = []secretPattern{
	// key-like assignments: api_key=..., secret_key: "...", auth_token=...
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|bearer)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`), true},
	// Authorization headers
	{regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`), true},
	// UUID-shaped tokens behind auth-related prefixes
	{regexp.MustCompile(`(?i)(token|secret)\s*[:=]\s*"?([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})"?`), true},
}

// Redact replaces secret-bearing patterns in the input string with [REDACTED].
func Redact(input string) string {
	if input == "" {
		return input
	}
	out := input
	for _, p := range secretPatterns {
		out = p.re.ReplaceAllStringFunc(out, func(match string) string {
			if p.keepPrefix {
				if sub := p.re.FindStringSubmatch(match); len(sub) >= 3 {
					return sub[1] + redactedPlaceholder
				}
			}
			return redactedPlaceholder
		})
	}
	return out
}

var sensitiveKeyTokens = []string{"api_key", "apikey", "secret", "token", "password", "credential"}

// RedactEnvValue returns [REDACTED] when the key name looks secret-bearing,
// otherwise the value unchanged.
func RedactEnvValue(key, value string) string {
	lower := strings.ToLower(key)
	for _, token := range sensitiveKeyTokens {
		if strings.Contains(lower, token) {
			return redactedPlaceholder
		}
	}
	return value
}
