package shared

import (
	"context"
	"testing"
)

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// Default is "-".
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}

	ctx = WithTraceID(ctx, "trace-1")
	if got := TraceID(ctx); got != "trace-1" {
		t.Fatalf("expected trace-1, got %q", got)
	}

	// Overwrite.
	ctx = WithTraceID(ctx, "trace-2")
	if got := TraceID(ctx); got != "trace-2" {
		t.Fatalf("expected trace-2, got %q", got)
	}
}

func TestNewTraceID_Unique(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if a == "" || a == b {
		t.Fatalf("expected distinct non-empty IDs, got %q and %q", a, b)
	}
}

func TestTaskID_DefaultEmpty(t *testing.T) {
	ctx := context.Background()
	if got := TaskID(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithTaskID(ctx, "task-9")
	if got := TaskID(ctx); got != "task-9" {
		t.Fatalf("expected task-9, got %q", got)
	}
}

func TestCaseID_DefaultEmpty(t *testing.T) {
	ctx := context.Background()
	if got := CaseID(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithCaseID(ctx, "case-3")
	if got := CaseID(ctx); got != "case-3" {
		t.Fatalf("expected case-3, got %q", got)
	}
}

func TestWorkerID_DefaultEmpty(t *testing.T) {
	ctx := context.Background()
	if got := WorkerID(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithWorkerID(ctx, "worker-a")
	if got := WorkerID(ctx); got != "worker-a" {
		t.Fatalf("expected worker-a, got %q", got)
	}
}
