package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/basket/caseflow/internal/bus"
	"github.com/basket/caseflow/internal/kvstore"
)

// FailureOutcome names the controller's decision for one failure report.
type FailureOutcome string

const (
	FailureOutcomeRetried    FailureOutcome = "RETRIED"
	FailureOutcomeDeadLetter FailureOutcome = "DEAD_LETTER"
)

// FailureDecision is returned by ReportFailure so callers can observe what
// the controller decided without re-reading metadata.
type FailureDecision struct {
	Outcome    FailureOutcome `json:"outcome"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
}

// ReportSuccess transitions a RUNNING task to COMPLETED and clears its lease.
// Reporting success for an already-terminal task returns an
// IllegalTransitionError; completed_at is never silently overwritten.
func (q *TaskQueue) ReportSuccess(ctx context.Context, taskID string, result json.RawMessage) error {
	err := q.updateMetadata(ctx, taskID, func(md *TaskMetadata) error {
		if err := q.transition(md, StatusCompleted); err != nil {
			return err
		}
		md.Result = result
		md.ErrorMessage = ""
		md.LeaseOwner = ""
		md.LeaseExpiresAt = nil
		return nil
	})
	if errors.Is(err, kvstore.ErrNotFound) {
		return &ConsistencyError{TaskID: taskID, Detail: "no metadata for success report"}
	}
	if err != nil {
		return err
	}

	q.logger.Info("task completed", "task_id", taskID)
	q.publish(bus.TopicTaskCompleted, bus.TaskLifecycleEvent{TaskID: taskID})
	return nil
}

// ReportFailure is the sole authority for retry vs dead-letter. While
// retry_count < max_retries the task is re-admitted to its original tier with
// retry_count incremented, payload and identity unchanged; once the budget is
// exhausted the metadata is snapshotted into a DeadLetterRecord and the task
// becomes terminal with no re-admission path.
func (q *TaskQueue) ReportFailure(ctx context.Context, taskID string, taskErr error) (FailureDecision, error) {
	errMsg := "unknown error"
	if taskErr != nil {
		errMsg = taskErr.Error()
	}

	var decision FailureDecision
	var snapshot TaskMetadata
	err := q.updateMetadata(ctx, taskID, func(md *TaskMetadata) error {
		if err := q.transition(md, StatusFailed); err != nil {
			return err
		}
		md.ErrorMessage = errMsg
		md.LeaseOwner = ""
		md.LeaseExpiresAt = nil

		if md.RetryCount < md.MaxRetries {
			md.RetryCount++
			if err := q.transition(md, StatusRetrying); err != nil {
				return err
			}
			decision = FailureDecision{
				Outcome:    FailureOutcomeRetried,
				RetryCount: md.RetryCount,
				MaxRetries: md.MaxRetries,
			}
		} else {
			if err := q.transition(md, StatusDeadLettered); err != nil {
				return err
			}
			decision = FailureDecision{
				Outcome:    FailureOutcomeDeadLetter,
				RetryCount: md.RetryCount,
				MaxRetries: md.MaxRetries,
			}
		}
		snapshot = *md
		return nil
	})
	if errors.Is(err, kvstore.ErrNotFound) {
		// Producer deleted or TTL expired the metadata while the task was
		// in flight.
		return FailureDecision{}, &ConsistencyError{TaskID: taskID, Detail: "no metadata for failure report"}
	}
	if err != nil {
		return FailureDecision{}, err
	}

	switch decision.Outcome {
	case FailureOutcomeRetried:
		if err := q.readmit(ctx, snapshot); err != nil {
			return decision, err
		}
		q.logger.Info("task scheduled for retry",
			"task_id", taskID,
			"attempt", decision.RetryCount,
			"max_retries", decision.MaxRetries,
			"error", errMsg)
		q.publish(bus.TopicTaskRetrying, bus.TaskLifecycleEvent{
			TaskID:     taskID,
			Name:       snapshot.Name,
			Priority:   snapshot.Priority.String(),
			RetryCount: decision.RetryCount,
			Error:      errMsg,
		})
	case FailureOutcomeDeadLetter:
		if err := q.appendDeadLetter(ctx, snapshot, errMsg); err != nil {
			return decision, err
		}
		q.logger.Warn("task moved to dead letter queue", "task_id", taskID, "error", errMsg)
		q.publish(bus.TopicTaskDeadLettered, bus.TaskLifecycleEvent{
			TaskID:     taskID,
			Name:       snapshot.Name,
			Priority:   snapshot.Priority.String(),
			RetryCount: decision.RetryCount,
			Error:      errMsg,
		})
	}
	return decision, nil
}

// readmit pushes the task envelope back onto its original tier. Identity,
// payload, and created_at are preserved; only retry_count advances.
func (q *TaskQueue) readmit(ctx context.Context, md TaskMetadata) error {
	envelope := Task{
		TaskID:     md.TaskID,
		Name:       md.Name,
		Payload:    md.Payload,
		Priority:   md.Priority,
		CreatedAt:  md.CreatedAt,
		RetryCount: md.RetryCount,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("queue: marshal retry envelope: %w", err)
	}
	if err := q.store.ListPush(ctx, tierKey(md.Priority), raw); err != nil {
		return fmt.Errorf("queue: re-admit task %s: %w", md.TaskID, err)
	}
	return nil
}

func (q *TaskQueue) appendDeadLetter(ctx context.Context, md TaskMetadata, errMsg string) error {
	record := DeadLetterRecord{
		TaskID:         md.TaskID,
		Metadata:       md,
		Error:          errMsg,
		DeadLetteredAt: q.clock().UTC(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("queue: marshal dead letter record: %w", err)
	}
	if err := q.store.ListPush(ctx, deadLetterList, raw); err != nil {
		return fmt.Errorf("queue: append dead letter: %w", err)
	}
	return nil
}
