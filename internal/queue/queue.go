// Package queue implements the priority task queue backing the incident
// pipeline: four FIFO tiers with strict priority preemption, per-task
// metadata with a 24-hour TTL, bounded retry, and a dead-letter quarantine.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/basket/caseflow/internal/bus"
	"github.com/basket/caseflow/internal/kvstore"
)

const (
	defaultMetadataTTL    = 24 * time.Hour
	defaultLeaseDuration  = 30 * time.Second
	defaultMaxRetries     = 3
	defaultTimeoutSeconds = 3600
)

// Config holds the dependencies for a TaskQueue.
type Config struct {
	Store  kvstore.Store
	Bus    *bus.Bus // may be nil in tests
	Logger *slog.Logger

	MetadataTTL    time.Duration // defaults to 24h
	LeaseDuration  time.Duration // defaults to 30s
	MaxRetries     int           // default retry budget per task, defaults to 3
	TimeoutSeconds int           // advisory execution timeout, defaults to 3600
}

// TaskQueue is the shared admission/removal surface used by producers and
// workers. Safe for concurrent use; hand-off exclusivity rests on the
// store's atomic ListPop and transactional Update.
type TaskQueue struct {
	store  kvstore.Store
	bus    *bus.Bus
	logger *slog.Logger

	metadataTTL    time.Duration
	leaseDuration  time.Duration
	maxRetries     int
	timeoutSeconds int

	clock func() time.Time
}

// New creates a TaskQueue over the given store.
func New(cfg Config) *TaskQueue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	q := &TaskQueue{
		store:          cfg.Store,
		bus:            cfg.Bus,
		logger:         logger,
		metadataTTL:    cfg.MetadataTTL,
		leaseDuration:  cfg.LeaseDuration,
		maxRetries:     cfg.MaxRetries,
		timeoutSeconds: cfg.TimeoutSeconds,
		clock:          time.Now,
	}
	if q.metadataTTL <= 0 {
		q.metadataTTL = defaultMetadataTTL
	}
	if q.leaseDuration <= 0 {
		q.leaseDuration = defaultLeaseDuration
	}
	if q.maxRetries <= 0 {
		q.maxRetries = defaultMaxRetries
	}
	if q.timeoutSeconds <= 0 {
		q.timeoutSeconds = defaultTimeoutSeconds
	}
	return q
}

// SetClock replaces the time source. Test hook.
func (q *TaskQueue) SetClock(clock func() time.Time) {
	q.clock = clock
}

// Enqueue admits a new task to the tier identified by priority and writes its
// PENDING metadata. delay > 0 records a scheduled_at marker in metadata; it
// does not gate availability for dequeue.
func (q *TaskQueue) Enqueue(ctx context.Context, name string, payload json.RawMessage, priority Priority, delay time.Duration) (string, error) {
	if name == "" {
		return "", errors.New("queue: task name required")
	}
	if !priority.Valid() {
		return "", fmt.Errorf("queue: invalid priority %d", int(priority))
	}

	taskID := uuid.NewString()
	now := q.clock().UTC()

	md := TaskMetadata{
		TaskID:         taskID,
		Name:           name,
		Priority:       priority,
		Status:         StatusPending,
		CreatedAt:      now,
		MaxRetries:     q.maxRetries,
		TimeoutSeconds: q.timeoutSeconds,
		Payload:        payload,
	}
	if delay > 0 {
		scheduled := now.Add(delay)
		md.ScheduledAt = &scheduled
	}

	// Metadata first, then the envelope: a queued task always has a live
	// metadata record.
	if err := q.putMetadata(ctx, md); err != nil {
		return "", err
	}

	envelope := Task{
		TaskID:    taskID,
		Name:      name,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: now,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("queue: marshal task envelope: %w", err)
	}
	if err := q.store.ListPush(ctx, tierKey(priority), raw); err != nil {
		return "", fmt.Errorf("queue: admit task to tier %s: %w", priority, err)
	}

	q.logger.Info("task enqueued", "task_id", taskID, "name", name, "priority", priority.String())
	q.publish(bus.TopicTaskEnqueued, bus.TaskLifecycleEvent{
		TaskID:   taskID,
		Name:     name,
		Priority: priority.String(),
	})
	return taskID, nil
}

// Dequeue removes the oldest task from the highest non-empty tier and
// atomically marks it RUNNING with a fresh lease before returning it.
// Returns ErrEmpty when every tier is empty; never blocks.
func (q *TaskQueue) Dequeue(ctx context.Context) (*Task, error) {
	for _, priority := range tiersHighFirst {
		raw, err := q.store.ListPop(ctx, tierKey(priority))
		if errors.Is(err, kvstore.ErrEmpty) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("queue: pop tier %s: %w", priority, err)
		}

		var task Task
		if err := json.Unmarshal(raw, &task); err != nil {
			return nil, &ConsistencyError{Detail: "undecodable envelope in tier " + priority.String(), Err: err}
		}

		if err := q.markRunning(ctx, &task); err != nil {
			if IsConsistencyError(err) {
				return nil, err
			}
			// The pop succeeded but the status write did not: the task
			// is in flight but unmarked. Hand it off anyway and flag
			// the inconsistency for monitoring.
			q.logger.Error("task dequeued but status write failed",
				"task_id", task.TaskID, "error", err)
			q.publish(bus.TopicQueueInconsistency, bus.QueueInconsistencyEvent{
				TaskID: task.TaskID,
				Detail: "in flight but unmarked: " + err.Error(),
			})
			return &task, nil
		}

		q.logger.Info("task dequeued", "task_id", task.TaskID, "name", task.Name, "priority", priority.String())
		return &task, nil
	}
	return nil, ErrEmpty
}

// markRunning transitions the task's metadata to RUNNING, stamps started_at,
// and grants a lease. Part of the dequeue hand-off.
func (q *TaskQueue) markRunning(ctx context.Context, task *Task) error {
	err := q.updateMetadata(ctx, task.TaskID, func(md *TaskMetadata) error {
		if err := q.transition(md, StatusRunning); err != nil {
			return err
		}
		now := q.clock().UTC()
		md.StartedAt = &now
		owner := uuid.NewString()
		expires := now.Add(q.leaseDuration)
		md.LeaseOwner = owner
		md.LeaseExpiresAt = &expires
		task.RetryCount = md.RetryCount
		return nil
	})
	if errors.Is(err, kvstore.ErrNotFound) {
		ce := &ConsistencyError{TaskID: task.TaskID, Detail: "no metadata for dequeued task"}
		q.publish(bus.TopicQueueInconsistency, bus.QueueInconsistencyEvent{
			TaskID: task.TaskID,
			Detail: ce.Detail,
		})
		return ce
	}
	var ill *IllegalTransitionError
	if errors.As(err, &ill) {
		return &ConsistencyError{TaskID: task.TaskID, Detail: "dequeued task not in a startable state", Err: err}
	}
	return err
}

// Heartbeat extends the lease of a RUNNING task. Long-running handlers call
// this to keep the reaper from presuming their worker crashed.
func (q *TaskQueue) Heartbeat(ctx context.Context, taskID string) error {
	err := q.updateMetadata(ctx, taskID, func(md *TaskMetadata) error {
		if md.Status != StatusRunning {
			return &IllegalTransitionError{TaskID: taskID, From: md.Status, To: StatusRunning}
		}
		expires := q.clock().UTC().Add(q.leaseDuration)
		md.LeaseExpiresAt = &expires
		return nil
	})
	if errors.Is(err, kvstore.ErrNotFound) {
		return &ConsistencyError{TaskID: taskID, Detail: "no metadata for heartbeat"}
	}
	return err
}

// GetMetadata returns the live metadata record for taskID.
func (q *TaskQueue) GetMetadata(ctx context.Context, taskID string) (TaskMetadata, error) {
	raw, err := q.store.Get(ctx, metaKey(taskID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return TaskMetadata{}, ErrMetadataNotFound
	}
	if err != nil {
		return TaskMetadata{}, fmt.Errorf("queue: read metadata: %w", err)
	}
	var md TaskMetadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return TaskMetadata{}, fmt.Errorf("queue: decode metadata: %w", err)
	}
	return md, nil
}

// Stats returns per-tier depths and the dead-letter depth.
func (q *TaskQueue) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Tiers: make(map[string]int, len(tiersHighFirst))}
	for _, priority := range tiersHighFirst {
		depth, err := q.store.ListLen(ctx, tierKey(priority))
		if err != nil {
			return Stats{}, fmt.Errorf("queue: depth of tier %s: %w", priority, err)
		}
		stats.Tiers[priority.String()] = depth
	}
	depth, err := q.store.ListLen(ctx, deadLetterList)
	if err != nil {
		return Stats{}, fmt.Errorf("queue: dead letter depth: %w", err)
	}
	stats.DeadLetterDepth = depth
	return stats, nil
}

// PeekDeadLetters returns up to limit of the most recently appended
// dead-letter records, newest first, without removing them.
func (q *TaskQueue) PeekDeadLetters(ctx context.Context, limit int) ([]DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := q.store.ListRange(ctx, deadLetterList, limit)
	if err != nil {
		return nil, fmt.Errorf("queue: read dead letters: %w", err)
	}
	out := make([]DeadLetterRecord, 0, len(raws))
	for _, raw := range raws {
		var record DeadLetterRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("queue: decode dead letter record: %w", err)
		}
		out = append(out, record)
	}
	return out, nil
}

// Clear empties one tier, or all tiers when priority is nil. Maintenance and
// test use only; dead letters are never cleared.
func (q *TaskQueue) Clear(ctx context.Context, priority *Priority) error {
	if priority != nil {
		if !priority.Valid() {
			return fmt.Errorf("queue: invalid priority %d", int(*priority))
		}
		if err := q.store.ListClear(ctx, tierKey(*priority)); err != nil {
			return fmt.Errorf("queue: clear tier %s: %w", priority, err)
		}
		q.logger.Info("tier cleared", "priority", priority.String())
		return nil
	}
	for _, p := range tiersHighFirst {
		if err := q.store.ListClear(ctx, tierKey(p)); err != nil {
			return fmt.Errorf("queue: clear tier %s: %w", p, err)
		}
	}
	q.logger.Info("all tiers cleared")
	return nil
}

// transition validates and applies one status edge, stamping the timestamps
// owned by the store.
func (q *TaskQueue) transition(md *TaskMetadata, to Status) error {
	if !canTransition(md.Status, to) {
		return &IllegalTransitionError{TaskID: md.TaskID, From: md.Status, To: to}
	}
	md.Status = to
	switch to {
	case StatusRunning:
		// started_at stamped by markRunning alongside the lease grant.
	case StatusCompleted:
		now := q.clock().UTC()
		md.CompletedAt = &now
	}
	return nil
}

func (q *TaskQueue) putMetadata(ctx context.Context, md TaskMetadata) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("queue: marshal metadata: %w", err)
	}
	if err := q.store.SetEx(ctx, metaKey(md.TaskID), raw, q.metadataTTL); err != nil {
		return fmt.Errorf("queue: write metadata: %w", err)
	}
	return nil
}

// updateMetadata runs mutate against the live record as one read-modify-write
// unit, refreshing the 24-hour TTL on success.
func (q *TaskQueue) updateMetadata(ctx context.Context, taskID string, mutate func(*TaskMetadata) error) error {
	return q.store.Update(ctx, metaKey(taskID), q.metadataTTL, func(raw []byte) ([]byte, error) {
		var md TaskMetadata
		if err := json.Unmarshal(raw, &md); err != nil {
			return nil, fmt.Errorf("queue: decode metadata: %w", err)
		}
		if err := mutate(&md); err != nil {
			return nil, err
		}
		next, err := json.Marshal(md)
		if err != nil {
			return nil, fmt.Errorf("queue: marshal metadata: %w", err)
		}
		return next, nil
	})
}

func (q *TaskQueue) publish(topic string, payload interface{}) {
	if q.bus != nil {
		q.bus.Publish(topic, payload)
	}
}
