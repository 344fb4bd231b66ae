package bus

// Case state transition event topics. The dispatch loop publishes these after
// a task class completes; the case-state notifier subscribes and forwards them
// to the external state machine best-effort.
const (
	TopicCaseTransition = "case.transition"
)

// CaseTransitionEvent carries one requested state-machine transition.
type CaseTransitionEvent struct {
	CaseID string // Case the transition applies to
	Token  string // State token (e.g. INTAKE_VALIDATION)
	TaskID string // Task whose completion triggered the transition
}

// Consistency alert topic for operator-facing queue anomalies
// (missing metadata for an in-flight task, unmarked hand-offs).
const (
	TopicQueueInconsistency = "queue.inconsistency"
)

// QueueInconsistencyEvent is published when the queue detects a task whose
// bookkeeping no longer matches its envelope.
type QueueInconsistencyEvent struct {
	TaskID string // Affected task ID
	Detail string // Human-readable description
}
