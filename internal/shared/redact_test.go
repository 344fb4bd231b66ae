package shared

import (
	"testing"
)

func TestRedact_BearerToken(t *testing.T) {
	input := "Bearer abc123def456ghi789jkl0"
	result := Redact(input)
	if result == input {
		t.Fatalf("expected redaction, got %q", result)
	}
	if result != "Bearer [REDACTED]" {
		t.Fatalf("expected 'Bearer [REDACTED]', got %q", result)
	}
}

func TestRedact_APIKey(t *testing.T) {
	input := `api_key=abcdef1234567890abcdef`
	result := Redact(input)
	if result == input {
		t.Fatalf("expected redaction, got %q", result)
	}
}

func TestRedact_TokenUUID(t *testing.T) {
	input := "token=0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"
	result := Redact(input)
	if result == input {
		t.Fatalf("expected redaction, got %q", result)
	}
}

func TestRedact_AlertDescription(t *testing.T) {
	// Alert payloads quote the auth material of the system that raised them.
	input := `suspicious login, header was auth_token: "deadbeefdeadbeefdeadbeef"`
	result := Redact(input)
	if result == input {
		t.Fatalf("expected redaction, got %q", result)
	}
}

func TestRedact_NoSecret(t *testing.T) {
	input := "this is a normal log message"
	result := Redact(input)
	if result != input {
		t.Fatalf("expected no redaction, got %q", result)
	}
}

func TestRedact_Empty(t *testing.T) {
	result := Redact("")
	if result != "" {
		t.Fatalf("expected empty, got %q", result)
	}
}

func TestRedactEnvValue_Sensitive(t *testing.T) {
	cases := []struct {
		key, value string
		expect     string
	}{
		{"ACTIONS_API_KEY", "some-secret", "[REDACTED]"},
		{"auth_token", "abc123", "[REDACTED]"},
		{"password", "s3cret", "[REDACTED]"},
		{"CASEFLOW_ACTIONS_URL", "http://ci-agent:8000", "http://ci-agent:8000"},
		{"CASEFLOW_LOG_LEVEL", "info", "info"},
	}
	for _, tc := range cases {
		got := RedactEnvValue(tc.key, tc.value)
		if got != tc.expect {
			t.Errorf("RedactEnvValue(%q, %q) = %q, want %q", tc.key, tc.value, got, tc.expect)
		}
	}
}
