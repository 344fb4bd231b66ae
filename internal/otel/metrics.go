package otel

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all caseflow metrics instruments.
type Metrics struct {
	TasksEnqueued     metric.Int64Counter
	TasksDequeued     metric.Int64Counter
	TaskDuration      metric.Float64Histogram
	TaskRetries       metric.Int64Counter
	TasksDeadLettered metric.Int64Counter
	RoutingMisses     metric.Int64Counter
	ConsistencyErrors metric.Int64Counter
	LeasesReclaimed   metric.Int64Counter
	QueueDepth        metric.Int64ObservableGauge
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TasksEnqueued, err = meter.Int64Counter("caseflow.tasks.enqueued",
		metric.WithDescription("Tasks admitted to a priority tier"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksDequeued, err = meter.Int64Counter("caseflow.tasks.dequeued",
		metric.WithDescription("Tasks handed off to a worker"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("caseflow.task.duration",
		metric.WithDescription("Task processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskRetries, err = meter.Int64Counter("caseflow.tasks.retries",
		metric.WithDescription("Failed attempts re-admitted for retry"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksDeadLettered, err = meter.Int64Counter("caseflow.tasks.dead_lettered",
		metric.WithDescription("Tasks quarantined after exhausting retries"),
	)
	if err != nil {
		return nil, err
	}

	m.RoutingMisses, err = meter.Int64Counter("caseflow.dispatch.routing_misses",
		metric.WithDescription("Tasks whose name resolved to no handler"),
	)
	if err != nil {
		return nil, err
	}

	m.ConsistencyErrors, err = meter.Int64Counter("caseflow.queue.consistency_errors",
		metric.WithDescription("Envelope/metadata divergences detected"),
	)
	if err != nil {
		return nil, err
	}

	m.LeasesReclaimed, err = meter.Int64Counter("caseflow.queue.leases_reclaimed",
		metric.WithDescription("Expired leases reclaimed from presumed-crashed workers"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RegisterQueueDepth registers an observable gauge that reports per-tier and
// dead-letter depths through the given callback, invoked on every collection.
func (m *Metrics) RegisterQueueDepth(meter metric.Meter, observe func(context.Context, metric.Int64Observer) error) error {
	gauge, err := meter.Int64ObservableGauge("caseflow.queue.depth",
		metric.WithDescription("Tasks currently queued, by tier"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			return observe(ctx, o)
		}),
	)
	if err != nil {
		return err
	}
	m.QueueDepth = gauge
	return nil
}
