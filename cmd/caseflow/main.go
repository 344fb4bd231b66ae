// Command caseflow runs the incident task-queue daemon: the priority queue,
// the dispatch loop, the case state notifier, and the maintenance janitor.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/caseflow/internal/bus"
	"github.com/basket/caseflow/internal/casestate"
	"github.com/basket/caseflow/internal/config"
	"github.com/basket/caseflow/internal/dispatch"
	"github.com/basket/caseflow/internal/janitor"
	"github.com/basket/caseflow/internal/kvstore"
	otelPkg "github.com/basket/caseflow/internal/otel"
	"github.com/basket/caseflow/internal/queue"
	"github.com/basket/caseflow/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE (default):
  %s                                    Run the dispatch daemon

SUBCOMMANDS:
  %s enqueue <name> <payload> [prio]    Admit one task (payload is JSON)
  %s case <case_id> <case_type> [prio]  Open a case workflow
  %s stats                              Print queue depths
  %s deadletters [limit]                Print quarantined tasks
  %s alert <alert.json | ->             Get recommended actions for an alert

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  CASEFLOW_HOME             Data directory (default: ~/.caseflow)
  CASEFLOW_STORE_BACKEND    memory or sqlite (default: sqlite)
  CASEFLOW_LOG_LEVEL        debug, info, warn, error (default: info)
`)
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println("caseflow", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One-shot CLI actions (non-daemon).
	if args := flag.Args(); len(args) > 0 {
		os.Exit(runSubcommand(ctx, args[0], args[1:]))
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup("E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup("E_LOG_INIT", err)
	}
	defer closer.Close()
	logger.Info("caseflow starting",
		"version", Version,
		"home", cfg.HomeDir,
		"config_fingerprint", cfg.Fingerprint())

	otelProvider, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		fatalStartup("E_OTEL_INIT", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProvider.Shutdown(flushCtx)
	}()

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup("E_OTEL_INIT", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		fatalStartup("E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("store opened", "backend", cfg.Store.Backend, "path", cfg.Store.Path)

	eventBus := bus.New()

	taskQueue := queue.New(queue.Config{
		Store:          store,
		Bus:            eventBus,
		Logger:         logger,
		MetadataTTL:    cfg.MetadataTTL(),
		LeaseDuration:  cfg.LeaseDuration(),
		MaxRetries:     cfg.Queue.MaxRetries,
		TimeoutSeconds: cfg.Queue.TimeoutSeconds,
	})

	if err := metrics.RegisterQueueDepth(otelProvider.Meter, func(ctx context.Context, o metric.Int64Observer) error {
		stats, err := taskQueue.Stats(ctx)
		if err != nil {
			return err
		}
		for tier, depth := range stats.Tiers {
			o.Observe(int64(depth), metric.WithAttributes(attribute.String("tier", tier)))
		}
		o.Observe(int64(stats.DeadLetterDepth), metric.WithAttributes(attribute.String("tier", "dead_letter")))
		return nil
	}); err != nil {
		fatalStartup("E_OTEL_INIT", err)
	}

	enqueueSub := eventBus.Subscribe(bus.TopicTaskEnqueued)
	defer eventBus.Unsubscribe(enqueueSub)
	go func() {
		for range enqueueSub.Ch() {
			metrics.TasksEnqueued.Add(ctx, 1)
		}
	}()

	registry := dispatch.NewRegistry()
	dispatch.RegisterBuiltins(registry)

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		Queue:    taskQueue,
		Registry: registry,
		Bus:      eventBus,
		Logger:   logger,
		Metrics:  metrics,
	})

	machines := casestate.NewMachines()
	notifier := casestate.NewNotifier(eventBus, machines, logger)
	notifier.Start(ctx)
	defer notifier.Stop()

	keeper, err := janitor.New(janitor.Config{
		Store:    store,
		Queue:    taskQueue,
		Logger:   logger,
		Schedule: cfg.Janitor.Schedule,
		Metrics:  metrics,
	})
	if err != nil {
		fatalStartup("E_JANITOR_INIT", err)
	}
	keeper.Start(ctx)
	defer keeper.Stop()

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				// Queue/store wiring is fixed at startup; a changed config
				// takes effect on restart.
				logger.Info("configuration changed on disk; restart to apply")
			}
		}()
	}

	// The dispatch loop blocks until shutdown.
	dispatcher.Run(ctx, cfg.PollInterval(), cfg.Dispatch.BatchSize)

	logger.Info("shutdown signal received")
}

func openStore(cfg config.Config) (kvstore.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return kvstore.NewMemoryStore(), nil
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = kvstore.DefaultDBPath(cfg.HomeDir)
		}
		return kvstore.OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func fatalStartup(code string, err error) {
	fmt.Fprintf(os.Stderr, "caseflow: %s: %v\n", code, err)
	os.Exit(1)
}
