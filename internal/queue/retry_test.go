package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/basket/caseflow/internal/bus"
	"github.com/basket/caseflow/internal/kvstore"
	"github.com/basket/caseflow/internal/queue"
)

func TestRetry_BoundedThenDeadLetter(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	taskID := mustEnqueue(t, q, "analysis", `{"case_id":"c-1"}`, queue.PriorityHigh)

	// Three failures stay within the default budget of 3.
	for attempt := 1; attempt <= 3; attempt++ {
		task := mustDequeue(t, q)
		if task.TaskID != taskID {
			t.Fatalf("attempt %d dequeued %s, want %s", attempt, task.TaskID, taskID)
		}

		decision, err := q.ReportFailure(ctx, taskID, errors.New("handler exploded"))
		if err != nil {
			t.Fatalf("report failure %d: %v", attempt, err)
		}
		if decision.Outcome != queue.FailureOutcomeRetried {
			t.Fatalf("attempt %d outcome = %s, want RETRIED", attempt, decision.Outcome)
		}
		if decision.RetryCount != attempt {
			t.Fatalf("attempt %d retry_count = %d, want %d", attempt, decision.RetryCount, attempt)
		}

		md, err := q.GetMetadata(ctx, taskID)
		if err != nil {
			t.Fatalf("metadata after failure %d: %v", attempt, err)
		}
		if md.Status != queue.StatusRetrying {
			t.Fatalf("status = %s, want RETRYING", md.Status)
		}
		if md.ErrorMessage != "handler exploded" {
			t.Fatalf("error_message = %q", md.ErrorMessage)
		}

		// Re-admitted to its original tier.
		stats, _ := q.Stats(ctx)
		if stats.Tiers["HIGH"] != 1 {
			t.Fatalf("HIGH depth after failure %d = %d, want 1", attempt, stats.Tiers["HIGH"])
		}
	}

	// Fourth failure exhausts the budget.
	task := mustDequeue(t, q)
	if task.RetryCount != 3 {
		t.Fatalf("envelope retry_count = %d, want 3", task.RetryCount)
	}
	decision, err := q.ReportFailure(ctx, taskID, errors.New("handler exploded again"))
	if err != nil {
		t.Fatalf("final report failure: %v", err)
	}
	if decision.Outcome != queue.FailureOutcomeDeadLetter {
		t.Fatalf("outcome = %s, want DEAD_LETTER", decision.Outcome)
	}
	if decision.RetryCount != 3 {
		t.Fatalf("retry_count = %d, want 3 (budget does not advance on quarantine)", decision.RetryCount)
	}

	md, _ := q.GetMetadata(ctx, taskID)
	if md.Status != queue.StatusDeadLettered {
		t.Fatalf("status = %s, want DEAD_LETTERED", md.Status)
	}

	stats, _ := q.Stats(ctx)
	if stats.TotalQueued() != 0 {
		t.Fatalf("queued = %d, want 0 (no re-admission after quarantine)", stats.TotalQueued())
	}
	if stats.DeadLetterDepth != 1 {
		t.Fatalf("dead_letter_depth = %d, want 1", stats.DeadLetterDepth)
	}

	records, err := q.PeekDeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("peek dead letters: %v", err)
	}
	if len(records) != 1 || records[0].TaskID != taskID {
		t.Fatalf("dead letters = %+v", records)
	}
	if records[0].Error != "handler exploded again" {
		t.Fatalf("dead letter error = %q", records[0].Error)
	}
	if records[0].Metadata.RetryCount != 3 {
		t.Fatalf("snapshot retry_count = %d, want 3", records[0].Metadata.RetryCount)
	}
}

func TestRetry_PayloadPreservedAcrossReadmission(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	payload := `{"case_id":"c-9","nested":{"a":[1,2]}}`
	taskID := mustEnqueue(t, q, "analysis", payload, queue.PriorityNormal)

	first := mustDequeue(t, q)
	if _, err := q.ReportFailure(ctx, taskID, errors.New("transient")); err != nil {
		t.Fatalf("report failure: %v", err)
	}

	second := mustDequeue(t, q)
	if second.TaskID != first.TaskID {
		t.Fatalf("re-admitted task id = %s, want %s", second.TaskID, first.TaskID)
	}
	if string(second.Payload) != payload {
		t.Fatalf("payload after re-admission = %s, want %s", second.Payload, payload)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at changed across re-admission: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if second.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", second.RetryCount)
	}
}

func TestRetry_TerminalStatusRejectsReports(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	taskID := mustEnqueue(t, q, "analysis", `{}`, queue.PriorityNormal)
	mustDequeue(t, q)
	if err := q.ReportSuccess(ctx, taskID, nil); err != nil {
		t.Fatalf("report success: %v", err)
	}
	md, _ := q.GetMetadata(ctx, taskID)
	completedAt := *md.CompletedAt

	var ill *queue.IllegalTransitionError
	if err := q.ReportSuccess(ctx, taskID, json.RawMessage(`{"again":true}`)); !errors.As(err, &ill) {
		t.Fatalf("second success report: err = %v, want IllegalTransitionError", err)
	}
	if _, err := q.ReportFailure(ctx, taskID, errors.New("late failure")); !errors.As(err, &ill) {
		t.Fatalf("failure after completion: err = %v, want IllegalTransitionError", err)
	}

	// completed_at is never silently overwritten.
	md, _ = q.GetMetadata(ctx, taskID)
	if !md.CompletedAt.Equal(completedAt) {
		t.Fatalf("completed_at changed: %v -> %v", completedAt, md.CompletedAt)
	}
}

func TestRetry_DeadLetterIsTerminal(t *testing.T) {
	store := kvstore.NewMemoryStore()
	q := queue.New(queue.Config{Store: store, MaxRetries: 1})
	ctx := context.Background()

	taskID := mustEnqueue(t, q, "analysis", `{}`, queue.PriorityNormal)

	mustDequeue(t, q)
	if _, err := q.ReportFailure(ctx, taskID, errors.New("first")); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	mustDequeue(t, q)
	decision, err := q.ReportFailure(ctx, taskID, errors.New("second"))
	if err != nil {
		t.Fatalf("second failure: %v", err)
	}
	if decision.Outcome != queue.FailureOutcomeDeadLetter {
		t.Fatalf("outcome = %s, want DEAD_LETTER", decision.Outcome)
	}

	var ill *queue.IllegalTransitionError
	if _, err := q.ReportFailure(ctx, taskID, errors.New("third")); !errors.As(err, &ill) {
		t.Fatalf("failure report on quarantined task: err = %v, want IllegalTransitionError", err)
	}
	if err := q.ReportSuccess(ctx, taskID, nil); !errors.As(err, &ill) {
		t.Fatalf("success report on quarantined task: err = %v, want IllegalTransitionError", err)
	}
}

func TestRetry_DeadLetterAppendOnly(t *testing.T) {
	store := kvstore.NewMemoryStore()
	q := queue.New(queue.Config{Store: store, MaxRetries: 1})
	ctx := context.Background()

	const n = 3
	for i := 0; i < n; i++ {
		taskID := mustEnqueue(t, q, "analysis", `{}`, queue.PriorityNormal)
		for {
			mustDequeue(t, q)
			decision, err := q.ReportFailure(ctx, taskID, errors.New("always fails"))
			if err != nil {
				t.Fatalf("report failure: %v", err)
			}
			if decision.Outcome == queue.FailureOutcomeDeadLetter {
				break
			}
		}
	}

	stats, _ := q.Stats(ctx)
	if stats.DeadLetterDepth != n {
		t.Fatalf("dead_letter_depth = %d, want %d", stats.DeadLetterDepth, n)
	}

	// Normal operation never removes dead letters.
	if err := q.Clear(ctx, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	stats, _ = q.Stats(ctx)
	if stats.DeadLetterDepth != n {
		t.Fatalf("dead_letter_depth after clear = %d, want %d", stats.DeadLetterDepth, n)
	}

	records, _ := q.PeekDeadLetters(ctx, n+5)
	if len(records) != n {
		t.Fatalf("records = %d, want %d", len(records), n)
	}
}

func TestRetry_MissingMetadataIsConsistencyError(t *testing.T) {
	store := kvstore.NewMemoryStore()
	q := queue.New(queue.Config{Store: store})
	ctx := context.Background()

	if _, err := q.ReportFailure(ctx, "ghost", errors.New("x")); !queue.IsConsistencyError(err) {
		t.Fatalf("failure report without metadata: err = %v, want ConsistencyError", err)
	}
	if err := q.ReportSuccess(ctx, "ghost", nil); !queue.IsConsistencyError(err) {
		t.Fatalf("success report without metadata: err = %v, want ConsistencyError", err)
	}
}

func TestRetry_LifecycleEventsPublished(t *testing.T) {
	store := kvstore.NewMemoryStore()
	eventBus := bus.New()
	q := queue.New(queue.Config{Store: store, Bus: eventBus, MaxRetries: 1})
	ctx := context.Background()

	sub := eventBus.Subscribe("task.")
	defer eventBus.Unsubscribe(sub)

	taskID := mustEnqueue(t, q, "analysis", `{}`, queue.PriorityNormal)
	mustDequeue(t, q)
	if _, err := q.ReportFailure(ctx, taskID, errors.New("once")); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	mustDequeue(t, q)
	if _, err := q.ReportFailure(ctx, taskID, errors.New("twice")); err != nil {
		t.Fatalf("second failure: %v", err)
	}

	wantTopics := []string{
		bus.TopicTaskEnqueued,
		bus.TopicTaskRetrying,
		bus.TopicTaskDeadLettered,
	}
	seen := make(map[string]bool)
	deadline := time.After(time.Second)
	for len(seen) < len(wantTopics) {
		select {
		case event := <-sub.Ch():
			seen[event.Topic] = true
		case <-deadline:
			t.Fatalf("timed out; saw %v, want %v", seen, wantTopics)
		}
	}
	for _, topic := range wantTopics {
		if !seen[topic] {
			t.Fatalf("topic %s not published; saw %v", topic, seen)
		}
	}
}
