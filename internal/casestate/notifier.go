package casestate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/basket/caseflow/internal/bus"
)

// Notifier forwards case.transition events from the bus to the external
// state machine. Delivery is best-effort: a failed transition is logged as
// an upstream service error and never rolls back the task that triggered it.
type Notifier struct {
	bus          *bus.Bus
	transitioner Transitioner
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier creates a Notifier. The bus subscription is created in Start.
func NewNotifier(eventBus *bus.Bus, transitioner Transitioner, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		bus:          eventBus,
		transitioner: transitioner,
		logger:       logger,
	}
}

// Start subscribes to case transition events and processes them in a
// background goroutine until the context is canceled.
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	sub := n.bus.Subscribe(bus.TopicCaseTransition)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.Ch():
				if !ok {
					return
				}
				n.handle(ctx, event)
			}
		}
	}()
	n.logger.Info("case state notifier started")
}

// Stop cancels the notifier and waits for in-flight deliveries.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	n.logger.Info("case state notifier stopped")
}

func (n *Notifier) handle(ctx context.Context, event bus.Event) {
	transition, ok := event.Payload.(bus.CaseTransitionEvent)
	if !ok {
		return
	}
	if err := n.transitioner.Transition(ctx, transition.CaseID, transition.Token); err != nil {
		// Upstream service error: surfaced to the operator, task status
		// stays terminal.
		n.logger.Error("case state transition failed",
			"case_id", transition.CaseID,
			"token", transition.Token,
			"task_id", transition.TaskID,
			"error", err)
		return
	}
	n.logger.Info("case state transitioned",
		"case_id", transition.CaseID,
		"token", transition.Token,
		"task_id", transition.TaskID)
}
