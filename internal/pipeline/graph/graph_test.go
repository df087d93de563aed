package graph

import (
	"reflect"
	"testing"
)

func testSteps() []Step {
	return []Step{
		{Name: "analysis"},
		{Name: "architecture", DependsOn: []string{"analysis"}},
		{Name: "backend_models", DependsOn: []string{"architecture"}},
		{Name: "backend_routers", DependsOn: []string{"backend_models"}},
		{Name: "integration", DependsOn: []string{"backend_models", "backend_routers"}},
		{Name: "testing", DependsOn: []string{"integration"}, Policy: Policy{Skippable: true}},
		{Name: "preview", DependsOn: []string{"integration"}, Policy: Policy{Skippable: true}},
	}
}

func TestNew_RejectsMalformedGraphs(t *testing.T) {
	cases := []struct {
		name  string
		steps []Step
	}{
		{"empty", nil},
		{"blank name", []Step{{Name: "  "}}},
		{"duplicate", []Step{{Name: "a"}, {Name: "a"}}},
		{"self dependency", []Step{{Name: "a", DependsOn: []string{"a"}}}},
		{"unknown dependency", []Step{{Name: "a", DependsOn: []string{"missing"}}}},
		{"forward dependency", []Step{{Name: "a", DependsOn: []string{"b"}}, {Name: "b"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.steps); err == nil {
				t.Fatalf("expected construction error for %s", tc.name)
			}
		})
	}
}

func TestReady_EmptyDependencyListIsAlwaysReady(t *testing.T) {
	g, err := New(testSteps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !g.Ready("analysis", map[string]bool{}) {
		t.Fatalf("analysis has no dependencies and must be ready")
	}
}

func TestReady_RequiresEveryDependency(t *testing.T) {
	g, err := New(testSteps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	completed := map[string]bool{"backend_models": true}
	if g.Ready("integration", completed) {
		t.Fatalf("integration must not be ready without backend_routers")
	}
	completed["backend_routers"] = true
	if !g.Ready("integration", completed) {
		t.Fatalf("integration must be ready once all dependencies completed")
	}
}

func TestReady_UnknownStepNeverReady(t *testing.T) {
	g, err := New(testSteps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Ready("nope", map[string]bool{}) {
		t.Fatalf("unknown step must not be ready")
	}
}

func TestBlocking_ReturnsOnlyUnmetDependencies(t *testing.T) {
	g, err := New(testSteps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := g.Blocking("integration", map[string]bool{"backend_models": true})
	want := []string{"backend_routers"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Blocking: got %v want %v", got, want)
	}
	if got := g.Blocking("analysis", map[string]bool{}); len(got) != 0 {
		t.Fatalf("analysis has no blockers, got %v", got)
	}
}

func TestParallelBatch_DeclarationOrder(t *testing.T) {
	g, err := New(testSteps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	completed := map[string]bool{
		"analysis":        true,
		"architecture":    true,
		"backend_models":  true,
		"backend_routers": true,
		"integration":     true,
	}
	got := g.ParallelBatch(completed)
	want := []string{"testing", "preview"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParallelBatch: got %v want %v", got, want)
	}
}

func TestPolicyDefaults(t *testing.T) {
	g, err := New([]Step{{Name: "a", Policy: Policy{MaxAttempts: 0}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s, _ := g.Step("a")
	if s.Policy.MaxAttempts != 1 {
		t.Fatalf("MaxAttempts default: got %d want 1", s.Policy.MaxAttempts)
	}
}
