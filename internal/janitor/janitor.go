// Package janitor runs the periodic maintenance pass: expired metadata is
// swept out of the store and expired leases are reclaimed from
// presumed-crashed workers.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/caseflow/internal/kvstore"
	otelx "github.com/basket/caseflow/internal/otel"
	"github.com/basket/caseflow/internal/queue"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// DefaultSchedule runs the maintenance pass once a minute.
const DefaultSchedule = "* * * * *"

// Config holds the dependencies for the Janitor.
type Config struct {
	Store    kvstore.Store
	Queue    *queue.TaskQueue
	Logger   *slog.Logger
	Schedule string         // cron expression; defaults to every minute
	Metrics  *otelx.Metrics // may be nil
}

// Janitor fires the maintenance pass on a cron cadence.
type Janitor struct {
	store    kvstore.Store
	queue    *queue.TaskQueue
	logger   *slog.Logger
	schedule cronlib.Schedule
	metrics  *otelx.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Janitor. The schedule must be a valid 5-field cron
// expression.
func New(cfg Config) (*Janitor, error) {
	expr := cfg.Schedule
	if expr == "" {
		expr = DefaultSchedule
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:    cfg.Store,
		queue:    cfg.Queue,
		logger:   logger,
		schedule: schedule,
		metrics:  cfg.Metrics,
	}, nil
}

// Start begins the maintenance loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(1)
	go j.loop(ctx)
	j.logger.Info("janitor started", "next_run", j.schedule.Next(time.Now()))
}

// Stop cancels the maintenance loop and waits for it to exit.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
	j.logger.Info("janitor stopped")
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()

	for {
		now := time.Now()
		next := j.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass: expired metadata records are removed and
// expired leases are routed through the retry controller. Errors are logged;
// the loop keeps its cadence.
func (j *Janitor) Sweep(ctx context.Context) {
	swept, err := j.store.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("expired metadata sweep failed", "error", err)
	} else if swept > 0 {
		j.logger.Info("expired metadata swept", "count", swept)
	}

	reclaimed, err := j.queue.RequeueExpiredLeases(ctx)
	if err != nil {
		j.logger.Error("lease reclamation failed", "error", err)
	}
	if reclaimed > 0 {
		j.logger.Info("expired leases reclaimed", "count", reclaimed)
		if j.metrics != nil {
			j.metrics.LeasesReclaimed.Add(ctx, int64(reclaimed))
		}
	}
}
