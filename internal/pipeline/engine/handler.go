package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/forgeworks/foundry/internal/agent"
	"github.com/forgeworks/foundry/internal/pipeline/artifact"
	"github.com/forgeworks/foundry/internal/pipeline/graph"
	"github.com/forgeworks/foundry/internal/pipeline/state"
	"github.com/forgeworks/foundry/internal/sandbox"
)

// StepContext is everything a handler may touch. Handlers see this
// boundary, never the engine's internals.
type StepContext struct {
	Step            graph.Step
	RunID           string
	Project         string
	Entity          string
	AllowedAttempts int

	// ContextText is the condensed cross-step context accumulated from
	// completed steps.
	ContextText string
	Turn        int

	Workspace *Workspace
	Sandbox   sandbox.Runtime
	Config    *Config

	Generator agent.Invoker
	Reviewer  agent.Invoker

	// Event emits a progress record. Never nil.
	Event func(map[string]any)
}

// Outcome is a handler's step-local result. Handlers report; the engine is
// the only place failures are promoted to run-level halts.
type Outcome struct {
	Status state.StepStatus
	// Files are the artifacts the step produced; nil when the step's output
	// was discarded or the step produces none.
	Files artifact.FileSet
	Data  map[string]any
	Usage agent.Usage

	// Approved and QualityScore come from the supervised loop when the
	// handler used one; the engine applies the quality gate to them.
	Approved     bool
	QualityScore int
	Attempts     int

	// Summary is the condensed note appended to cross-step context.
	Summary string
	Error   string
}

// StepHandler executes one pipeline step. Implementations are registered
// per step name at construction, giving compile-time checking of the
// contract rather than dispatch over a string-keyed map of functions.
type StepHandler interface {
	Execute(ctx context.Context, sc *StepContext) (Outcome, error)
}

// HandlerRegistry maps step names to handlers.
type HandlerRegistry struct {
	mu       sync.Mutex
	handlers map[string]StepHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: map[string]StepHandler{}}
}

func (r *HandlerRegistry) Register(step string, h StepHandler) error {
	step = strings.TrimSpace(step)
	if step == "" {
		return fmt.Errorf("engine: handler registered with empty step name")
	}
	if h == nil {
		return fmt.Errorf("engine: nil handler for step %s", step)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[step]; dup {
		return fmt.Errorf("engine: duplicate handler for step %s", step)
	}
	r.handlers[step] = h
	return nil
}

func (r *HandlerRegistry) Resolve(step string) (StepHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[step]
	return h, ok
}

func (r *HandlerRegistry) Steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handlers))
	for s := range r.handlers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
