package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RequeueExpiredLeases re-admits tasks whose worker stopped heartbeating.
// A dequeued task holds a time-bounded lease; once it expires the worker is
// presumed crashed and the failure is routed through the retry controller,
// so the attempt consumes retry budget and dead-letters when exhausted.
// Returns the number of tasks reclaimed.
func (q *TaskQueue) RequeueExpiredLeases(ctx context.Context) (int, error) {
	keys, err := q.store.Keys(ctx, metaKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("queue: scan metadata keys: %w", err)
	}

	now := q.clock().UTC()
	var reclaimed int
	for _, key := range keys {
		taskID := strings.TrimPrefix(key, metaKeyPrefix)
		md, err := q.GetMetadata(ctx, taskID)
		if errors.Is(err, ErrMetadataNotFound) {
			continue // expired between scan and read
		}
		if err != nil {
			return reclaimed, err
		}
		if md.Status != StatusRunning || md.LeaseExpiresAt == nil || md.LeaseExpiresAt.After(now) {
			continue
		}

		decision, err := q.ReportFailure(ctx, taskID, errors.New("lease expired: worker presumed crashed"))
		if err != nil {
			var ill *IllegalTransitionError
			if errors.As(err, &ill) || IsConsistencyError(err) {
				// Raced with a late success/failure report; the task is
				// no longer ours to reclaim.
				continue
			}
			return reclaimed, err
		}
		reclaimed++
		q.logger.Warn("expired lease reclaimed",
			"task_id", taskID,
			"outcome", string(decision.Outcome),
			"attempt", decision.RetryCount)
	}
	return reclaimed, nil
}
