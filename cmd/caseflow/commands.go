package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/basket/caseflow/internal/actions"
	"github.com/basket/caseflow/internal/alert"
	"github.com/basket/caseflow/internal/casestate"
	"github.com/basket/caseflow/internal/config"
	"github.com/basket/caseflow/internal/orchestrator"
	"github.com/basket/caseflow/internal/queue"
	"github.com/basket/caseflow/internal/telemetry"
)

// runSubcommand executes one-shot CLI actions against the configured store
// and returns an exit code. These share the daemon's config but run in their
// own process.
func runSubcommand(ctx context.Context, name string, args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 1
	}
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 1
	}
	defer closer.Close()

	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 1
	}
	defer store.Close()

	taskQueue := queue.New(queue.Config{
		Store:          store,
		Logger:         logger,
		MetadataTTL:    cfg.MetadataTTL(),
		LeaseDuration:  cfg.LeaseDuration(),
		MaxRetries:     cfg.Queue.MaxRetries,
		TimeoutSeconds: cfg.Queue.TimeoutSeconds,
	})

	switch name {
	case "enqueue":
		return runEnqueue(ctx, taskQueue, args)
	case "case":
		return runCase(ctx, taskQueue, args)
	case "stats":
		return runStats(ctx, taskQueue)
	case "deadletters":
		return runDeadLetters(ctx, taskQueue, args)
	case "alert":
		return runAlert(ctx, cfg, logger, args)
	default:
		fmt.Fprintf(os.Stderr, "caseflow: unknown command %q\n", name)
		return 2
	}
}

// runEnqueue admits one task: caseflow enqueue <name> <json-payload> [priority].
func runEnqueue(ctx context.Context, taskQueue *queue.TaskQueue, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: caseflow enqueue <name> <json-payload> [priority]")
		return 2
	}
	payload := json.RawMessage(args[1])
	if !json.Valid(payload) {
		fmt.Fprintln(os.Stderr, "caseflow: payload is not valid JSON")
		return 2
	}
	priority, err := parsePriorityArg(args, 2)
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 2
	}

	taskID, err := taskQueue.Enqueue(ctx, args[0], payload, priority, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 1
	}
	fmt.Println(taskID)
	return 0
}

// runCase opens a case workflow: caseflow case <case_id> <case_type> [priority].
func runCase(ctx context.Context, taskQueue *queue.TaskQueue, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: caseflow case <case_id> <case_type> [priority]")
		return 2
	}
	priority, err := parsePriorityArg(args, 2)
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 2
	}

	engine := orchestrator.New(orchestrator.Config{
		Queue:    taskQueue,
		Machines: casestate.NewMachines(),
	})
	workflowID, err := engine.CreateCaseWorkflow(ctx, args[0], args[1], priority)
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 1
	}
	fmt.Println(workflowID)
	return 0
}

func runStats(ctx context.Context, taskQueue *queue.TaskQueue) int {
	stats, err := taskQueue.Stats(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 1
	}
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func runDeadLetters(ctx context.Context, taskQueue *queue.TaskQueue, args []string) int {
	limit := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			fmt.Fprintln(os.Stderr, "usage: caseflow deadletters [limit]")
			return 2
		}
		limit = v
	}
	records, err := taskQueue.PeekDeadLetters(ctx, limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 1
	}
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

// runAlert reads an alert as JSON from a file (or stdin with "-") and prints
// the recommended actions.
func runAlert(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: caseflow alert <alert.json | ->")
		return 2
	}
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 1
	}

	var a alert.Alert
	if err := json.Unmarshal(data, &a); err != nil {
		fmt.Fprintln(os.Stderr, "caseflow: parse alert:", err)
		return 2
	}

	client := actions.NewClient(cfg.Actions.URL, cfg.ActionsTimeout())
	handler := alert.NewHandler(client, logger)
	result, err := handler.HandleAlert(ctx, a)
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 1
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func parsePriorityArg(args []string, idx int) (queue.Priority, error) {
	if len(args) <= idx {
		return queue.PriorityNormal, nil
	}
	return queue.ParsePriority(args[idx])
}
