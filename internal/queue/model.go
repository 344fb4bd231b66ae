package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Priority orders task tiers. Higher ordinal strictly preempts lower at
// dequeue time.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

// tiersHighFirst is the dequeue scan order.
var tiersHighFirst = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityUrgent:
		return "URGENT"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// Valid reports whether p is one of the four defined tiers.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// ParsePriority maps a tier name to its Priority.
func ParsePriority(name string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "LOW":
		return PriorityLow, nil
	case "NORMAL":
		return PriorityNormal, nil
	case "HIGH":
		return PriorityHigh, nil
	case "URGENT":
		return PriorityUrgent, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", name)
	}
}

// Status is the metadata lifecycle state of a task.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusRunning      Status = "RUNNING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusRetrying     Status = "RETRYING"
	StatusDeadLettered Status = "DEAD_LETTERED"
)

// allowedTransitions is the closed lifecycle. COMPLETED and DEAD_LETTERED are
// terminal: no outgoing edges, so no re-admission path exists for a
// dead-lettered task_id.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusRunning: {},
	},
	StatusRunning: {
		StatusCompleted: {},
		StatusFailed:    {},
	},
	StatusFailed: {
		StatusRetrying:     {},
		StatusDeadLettered: {},
	},
	StatusRetrying: {
		StatusRunning: {},
	},
}

func canTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Task is the envelope admitted to a tier list. Immutable once enqueued
// except for RetryCount, which is carried on re-admission.
type Task struct {
	TaskID     string          `json:"task_id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Priority   Priority        `json:"priority"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count,omitempty"`
}

// TaskMetadata is the per-task bookkeeping record, keyed meta:<task_id> with a
// 24-hour expiry refreshed on every write. Mutated only through the queue's
// transition path; started_at and completed_at are stamped by the store at
// the moment of transition, never by the caller.
type TaskMetadata struct {
	TaskID         string     `json:"task_id"`
	Name           string     `json:"name"`
	Priority       Priority   `json:"priority"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	// Payload carries the envelope's payload bytes so re-admission after a
	// failure preserves them unchanged.
	Payload        json.RawMessage `json:"payload,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	LeaseOwner     string          `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
}

// DeadLetterRecord quarantines a task that exhausted its retry budget.
// Appended to queue:dead_letter and never removed by normal operation.
type DeadLetterRecord struct {
	TaskID         string       `json:"task_id"`
	Metadata       TaskMetadata `json:"metadata"`
	Error          string       `json:"error"`
	DeadLetteredAt time.Time    `json:"dead_lettered_at"`
}

// Stats is a point-in-time snapshot of tier depths.
type Stats struct {
	Tiers           map[string]int `json:"tiers"`
	DeadLetterDepth int            `json:"dead_letter_depth"`
}

// TotalQueued sums all tier depths.
func (s Stats) TotalQueued() int {
	var total int
	for _, depth := range s.Tiers {
		total += depth
	}
	return total
}

// Storage key layout, matching the wire contract of the backing store.
const (
	tierKeyPrefix  = "queue:"
	metaKeyPrefix  = "meta:"
	deadLetterList = "queue:dead_letter"
)

func tierKey(p Priority) string {
	return tierKeyPrefix + p.String()
}

func metaKey(taskID string) string {
	return metaKeyPrefix + taskID
}
