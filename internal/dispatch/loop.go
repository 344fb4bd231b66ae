// Package dispatch drives the task execution path: a registry resolving task
// names to handlers, and a batch loop that drains the queue, executes each
// task in isolation, and reports the outcome back to the retry controller.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/caseflow/internal/bus"
	"github.com/basket/caseflow/internal/casestate"
	otelx "github.com/basket/caseflow/internal/otel"
	"github.com/basket/caseflow/internal/queue"
	"github.com/basket/caseflow/internal/shared"
)

const defaultBatchSize = 10

// Config holds the dependencies for a Dispatcher.
type Config struct {
	Queue    *queue.TaskQueue
	Registry *Registry
	Bus      *bus.Bus // may be nil in tests
	Logger   *slog.Logger
	Metrics  *otelx.Metrics // may be nil
}

// Dispatcher executes queued tasks. One failing task never aborts the rest of
// a batch; every outcome flows through the queue's retry controller.
type Dispatcher struct {
	queue    *queue.TaskQueue
	registry *Registry
	bus      *bus.Bus
	logger   *slog.Logger
	metrics  *otelx.Metrics

	clock func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:    cfg.Queue,
		registry: cfg.Registry,
		bus:      cfg.Bus,
		logger:   logger,
		metrics:  cfg.Metrics,
		clock:    time.Now,
	}
}

// Drain dequeues and executes up to batchSize tasks, stopping early when the
// queue is empty. Returns the number of tasks that completed successfully.
// A consistency error on one dequeue is logged and the batch continues; only
// store-level failures abort the drain.
func (d *Dispatcher) Drain(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var completed int
	for i := 0; i < batchSize; i++ {
		task, err := d.queue.Dequeue(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			break
		}
		if queue.IsConsistencyError(err) {
			d.logger.Error("skipping inconsistent queue entry", "error", err)
			if d.metrics != nil {
				d.metrics.ConsistencyErrors.Add(ctx, 1)
			}
			continue
		}
		if err != nil {
			return completed, err
		}
		if d.metrics != nil {
			d.metrics.TasksDequeued.Add(ctx, 1)
		}

		if d.execute(ctx, *task) {
			completed++
		}
	}
	return completed, nil
}

// Run drains the queue on a fixed cadence until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context, pollInterval time.Duration, batchSize int) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	d.logger.Info("dispatch loop started",
		"poll_interval", pollInterval.String(),
		"batch_size", batchSize,
		"handlers", d.registry.Names())
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatch loop stopped")
			return
		case <-ticker.C:
			if _, err := d.Drain(ctx, batchSize); err != nil {
				d.logger.Error("drain failed", "error", err)
			}
		}
	}
}

// execute runs one task end to end and reports true when it completed.
func (d *Dispatcher) execute(ctx context.Context, task queue.Task) bool {
	ctx = shared.WithTaskID(ctx, task.TaskID)
	logger := d.logger.With("task_id", task.TaskID, "name", task.Name)

	handler, ok := d.registry.Resolve(task.Name)
	if !ok {
		routingErr := &RoutingError{Name: task.Name}
		logger.Error("no handler for task", "error", routingErr)
		if d.metrics != nil {
			d.metrics.RoutingMisses.Add(ctx, 1)
		}
		d.reportFailure(ctx, logger, task, routingErr)
		return false
	}

	start := d.clock()
	result, err := handler(ctx, task)
	elapsed := d.clock().Sub(start)
	if d.metrics != nil {
		d.metrics.TaskDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.String("task.name", task.Name)))
	}

	if err != nil {
		logger.Error("task failed", "error", err, "duration", elapsed.String())
		d.reportFailure(ctx, logger, task, err)
		return false
	}

	if err := d.queue.ReportSuccess(ctx, task.TaskID, result); err != nil {
		logger.Error("success report failed", "error", err)
		return false
	}
	logger.Info("task completed", "duration", elapsed.String())
	d.announceCaseProgress(task)
	return true
}

func (d *Dispatcher) reportFailure(ctx context.Context, logger *slog.Logger, task queue.Task, taskErr error) {
	decision, err := d.queue.ReportFailure(ctx, task.TaskID, taskErr)
	if err != nil {
		logger.Error("failure report failed", "error", err)
		return
	}
	if d.metrics == nil {
		return
	}
	switch decision.Outcome {
	case queue.FailureOutcomeRetried:
		d.metrics.TaskRetries.Add(ctx, 1)
	case queue.FailureOutcomeDeadLetter:
		d.metrics.TasksDeadLettered.Add(ctx, 1)
	}
}

// announceCaseProgress publishes the state-machine tokens earned by a
// completed task of one of the built-in case kinds. Delivery is decoupled
// through the bus: the notifier invokes the external state machine, and a
// downstream transition failure never reaches back into task status.
func (d *Dispatcher) announceCaseProgress(task queue.Task) {
	if d.bus == nil {
		return
	}
	payload, err := decodeCasePayload(task)
	if err != nil {
		// Not a case-shaped payload; nothing to announce.
		return
	}

	var tokens []string
	switch task.Name {
	case TaskCaseIntake:
		tokens = []string{casestate.TokenIntakeValidation}
	case TaskAnalysis:
		tokens = []string{casestate.TokenAnalyzing}
	case TaskRemediation:
		tokens = []string{casestate.TokenRemediationInProgress, casestate.TokenRemediationCompleted}
	default:
		return
	}
	for _, token := range tokens {
		d.bus.Publish(bus.TopicCaseTransition, bus.CaseTransitionEvent{
			CaseID: payload.CaseID,
			Token:  token,
			TaskID: task.TaskID,
		})
	}
}
