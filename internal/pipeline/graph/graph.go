package graph

import (
	"fmt"
	"strings"
)

// Policy controls how the engine treats a step when budget or validation
// pressure forces a decision.
type Policy struct {
	Skippable   bool
	MaxAttempts int

	// Unit estimates feed the budget ledger's per-attempt cost estimate.
	EstimatedInputUnits  int
	EstimatedOutputUnits int
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.EstimatedInputUnits < 0 {
		p.EstimatedInputUnits = 0
	}
	if p.EstimatedOutputUnits < 0 {
		p.EstimatedOutputUnits = 0
	}
	return p
}

// Step is one named unit of work in the pipeline. Immutable after graph
// construction.
type Step struct {
	Name string

	// DependsOn lists steps that must be in the completed set before this
	// step may execute. Order is not significant.
	DependsOn []string

	// Critical steps get structural pre/post validation and a heal attempt
	// before the run is allowed to continue past them.
	Critical bool

	Policy Policy
}

// Graph is a static, pre-validated dependency graph over an ordered step
// list. Construction is the only place errors can occur; every runtime
// query operates on a known-good structure.
type Graph struct {
	order []string
	steps map[string]Step
}

// New validates the step list and builds a graph. Declaration order must be
// topological: a step may only depend on steps declared before it. This
// rules out cycles and self-references in a single pass.
func New(steps []Step) (*Graph, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("graph requires at least one step")
	}
	g := &Graph{
		order: make([]string, 0, len(steps)),
		steps: make(map[string]Step, len(steps)),
	}
	for i, s := range steps {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, fmt.Errorf("step %d: name is required", i)
		}
		if _, dup := g.steps[name]; dup {
			return nil, fmt.Errorf("duplicate step name: %s", name)
		}
		deps := make([]string, 0, len(s.DependsOn))
		for _, d := range s.DependsOn {
			d = strings.TrimSpace(d)
			if d == "" {
				continue
			}
			if d == name {
				return nil, fmt.Errorf("step %s depends on itself", name)
			}
			if _, ok := g.steps[d]; !ok {
				return nil, fmt.Errorf("step %s depends on unknown or later step: %s", name, d)
			}
			deps = append(deps, d)
		}
		s.Name = name
		s.DependsOn = deps
		s.Policy = s.Policy.withDefaults()
		g.order = append(g.order, name)
		g.steps[name] = s
	}
	return g, nil
}

// Steps returns the step names in declaration order.
func (g *Graph) Steps() []string {
	return append([]string{}, g.order...)
}

// Step returns the step definition by name.
func (g *Graph) Step(name string) (Step, bool) {
	s, ok := g.steps[name]
	return s, ok
}

// Ready reports whether every dependency of the step is in the completed
// set. Unknown step names are never ready.
func (g *Graph) Ready(name string, completed map[string]bool) bool {
	s, ok := g.steps[name]
	if !ok {
		return false
	}
	for _, d := range s.DependsOn {
		if !completed[d] {
			return false
		}
	}
	return true
}

// Blocking returns the dependencies of the step not yet in the completed
// set, in the step's declared dependency order. Diagnostics only.
func (g *Graph) Blocking(name string, completed map[string]bool) []string {
	s, ok := g.steps[name]
	if !ok {
		return nil
	}
	var out []string
	for _, d := range s.DependsOn {
		if !completed[d] {
			out = append(out, d)
		}
	}
	return out
}

// ParallelBatch returns all not-yet-completed steps whose dependencies are
// satisfied, in declaration order. The engine currently executes steps
// strictly sequentially; this query exists for observability and for a
// future scheduler that reserves budget per concurrent dispatch.
func (g *Graph) ParallelBatch(completed map[string]bool) []string {
	var out []string
	for _, name := range g.order {
		if completed[name] {
			continue
		}
		if g.Ready(name, completed) {
			out = append(out, name)
		}
	}
	return out
}
