// Package orchestrator ties the queue, the dispatch loop, and the case state
// machines into one workflow surface for incident cases.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/basket/caseflow/internal/casestate"
	"github.com/basket/caseflow/internal/dispatch"
	"github.com/basket/caseflow/internal/queue"
)

// Config holds the dependencies for an Engine.
type Config struct {
	Queue      *queue.TaskQueue
	Dispatcher *dispatch.Dispatcher
	Machines   *casestate.Machines
	Logger     *slog.Logger
}

// Engine creates case workflows and drives their task processing.
type Engine struct {
	queue      *queue.TaskQueue
	dispatcher *dispatch.Dispatcher
	machines   *casestate.Machines
	logger     *slog.Logger
}

// Metrics is a point-in-time view of queue and case load.
type Metrics struct {
	TotalTasksQueued int         `json:"total_tasks_queued"`
	ActiveCases      int         `json:"active_cases"`
	QueueStats       queue.Stats `json:"queue_stats"`
}

// New creates an Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		queue:      cfg.Queue,
		dispatcher: cfg.Dispatcher,
		machines:   cfg.Machines,
		logger:     logger,
	}
}

// CreateCaseWorkflow opens a new case: a state machine in NEW and an intake
// task on the requested tier. Returns the workflow ID.
func (e *Engine) CreateCaseWorkflow(ctx context.Context, caseID, caseType string, priority queue.Priority) (string, error) {
	if caseID == "" {
		return "", fmt.Errorf("orchestrator: case ID required")
	}

	workflowID := uuid.NewString()
	e.machines.Create(caseID)

	payload, err := json.Marshal(dispatch.CasePayload{
		CaseID:     caseID,
		CaseType:   caseType,
		WorkflowID: workflowID,
	})
	if err != nil {
		return "", fmt.Errorf("orchestrator: marshal intake payload: %w", err)
	}

	taskID, err := e.queue.Enqueue(ctx, dispatch.TaskCaseIntake, payload, priority, 0)
	if err != nil {
		return "", fmt.Errorf("orchestrator: enqueue intake for case %s: %w", caseID, err)
	}

	e.logger.Info("case workflow created",
		"case_id", caseID,
		"case_type", caseType,
		"workflow_id", workflowID,
		"task_id", taskID)
	return workflowID, nil
}

// ProcessTasks drains up to batchSize queued tasks and returns how many
// completed successfully.
func (e *Engine) ProcessTasks(ctx context.Context, batchSize int) (int, error) {
	return e.dispatcher.Drain(ctx, batchSize)
}

// CaseStatus returns the current state of a case, or false when the case is
// unknown.
func (e *Engine) CaseStatus(caseID string) (casestate.CaseStatus, bool) {
	return e.machines.Status(caseID)
}

// QueueMetrics returns queue depths plus the number of active cases.
func (e *Engine) QueueMetrics(ctx context.Context) (Metrics, error) {
	stats, err := e.queue.Stats(ctx)
	if err != nil {
		return Metrics{}, err
	}
	return Metrics{
		TotalTasksQueued: stats.TotalQueued(),
		ActiveCases:      e.machines.Count(),
		QueueStats:       stats,
	}, nil
}
