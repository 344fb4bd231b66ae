package queue

import (
	"errors"
	"fmt"
)

// ErrEmpty is returned by Dequeue when every tier is empty. It is a normal
// outcome, not a failure; callers poll on their own cadence.
var ErrEmpty = errors.New("queue: no queued tasks")

// ErrMetadataNotFound is returned by metadata reads when no live record
// exists for the task_id.
var ErrMetadataNotFound = errors.New("queue: task metadata not found")

// ConsistencyError reports that a task's bookkeeping no longer matches its
// envelope: metadata missing for an in-flight task_id, or a hand-off whose
// status write could not land. Not retried; surfaced to the operator.
type ConsistencyError struct {
	TaskID string
	Detail string
	Err    error
}

func (e *ConsistencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("queue: consistency error for task %s: %s: %v", e.TaskID, e.Detail, e.Err)
	}
	return fmt.Sprintf("queue: consistency error for task %s: %s", e.TaskID, e.Detail)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

// IsConsistencyError reports whether err is (or wraps) a ConsistencyError.
func IsConsistencyError(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}

// IllegalTransitionError rejects a status mutation the lifecycle table does
// not permit, including success/failure reports against terminal tasks.
type IllegalTransitionError struct {
	TaskID string
	From   Status
	To     Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("queue: illegal transition %s -> %s for task %s", e.From, e.To, e.TaskID)
}
