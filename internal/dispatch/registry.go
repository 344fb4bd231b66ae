package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/basket/caseflow/internal/queue"
)

// Task kind names routed by the dispatch loop. Producers enqueue these exact
// names; the case type travels in the payload, not the routing key.
const (
	TaskCaseIntake  = "case_intake"
	TaskAnalysis    = "analysis"
	TaskRemediation = "remediation"
)

// Handler executes one task and returns its result payload.
type Handler func(ctx context.Context, task queue.Task) (json.RawMessage, error)

// RoutingError reports a task name with no registered handler. Treated as a
// transient execution failure: it consumes retry budget and eventually
// dead-letters, rather than aborting the batch.
type RoutingError struct {
	Name string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("dispatch: no handler registered for task %q", e.Name)
}

// Registry maps exact task names to handlers. Exact matching replaces
// substring routing so a name can never resolve to more than one handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds name to handler, replacing any previous binding.
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Resolve returns the handler bound to name.
func (r *Registry) Resolve(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[name]
	return handler, ok
}

// Names returns the registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
