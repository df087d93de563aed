package heal

import (
	"context"
	"strings"
	"testing"

	"github.com/forgeworks/foundry/internal/agent"
	"github.com/forgeworks/foundry/internal/pipeline/artifact"
	"github.com/forgeworks/foundry/internal/pipeline/structural"
)

func TestRouterTemplatePassesStructuralChecks(t *testing.T) {
	for _, entity := range []string{"item", "category", "box", "orders"} {
		src := RouterTemplate(entity)
		if issues := structural.CheckRouter(src); len(issues) > 0 {
			t.Fatalf("entity %q: template failed validation: %v", entity, issues)
		}
	}
}

func TestClientTemplatePassesStructuralChecks(t *testing.T) {
	for _, entity := range []string{"item", "category", "box"} {
		src := ClientTemplate(entity)
		if issues := structural.CheckClient(src, entity); len(issues) > 0 {
			t.Fatalf("entity %q: template failed validation: %v", entity, issues)
		}
	}
}

func TestHeal_TemplateFallbackWithoutAgent(t *testing.T) {
	h := &Healer{}
	files, ok, err := h.Heal(context.Background(), Request{
		Step:   "backend_routers",
		Kind:   KindRouter,
		Entity: "item",
		Path:   "app/routers/items.py",
		Issues: []string{"missing delete operation"},
	})
	if err != nil || !ok {
		t.Fatalf("Heal: ok=%v err=%v", ok, err)
	}
	src := files["app/routers/items.py"]
	if src == "" {
		t.Fatal("healed artifact missing")
	}
	if issues := structural.CheckRouter(src); len(issues) > 0 {
		t.Fatalf("healed artifact failed validation: %v", issues)
	}
}

func TestHeal_AgentPathPreferredWhenValid(t *testing.T) {
	custom := RouterTemplate("gadget") + "\n# tuned by agent\n"
	var prompt string
	h := &Healer{
		Agent: agent.InvokerFunc(func(_ context.Context, req agent.Request) (agent.Response, error) {
			prompt = req.Prompt
			return agent.Response{
				Text:  artifact.Serialize(artifact.FileSet{"app/routers/gadgets.py": custom}),
				Usage: agent.Usage{InputUnits: 40, OutputUnits: 300},
			}, nil
		}),
	}
	var usage agent.Usage
	var usageStep string
	h.OnUsage = func(step string, u agent.Usage) {
		usageStep = step
		usage = u
	}

	files, ok, err := h.Heal(context.Background(), Request{
		Step:   "backend_routers",
		Kind:   KindRouter,
		Entity: "gadget",
		Path:   "app/routers/gadgets.py",
		Issues: []string{"missing update operation"},
	})
	if err != nil || !ok {
		t.Fatalf("Heal: ok=%v err=%v", ok, err)
	}
	if !strings.Contains(files["app/routers/gadgets.py"], "tuned by agent") {
		t.Fatal("agent output not used")
	}
	if !strings.Contains(prompt, "missing update operation") {
		t.Fatalf("heal prompt not scoped to findings: %q", prompt)
	}
	if usage.OutputUnits != 300 {
		t.Fatalf("usage not reported: %+v", usage)
	}
	if usageStep != "backend_routers" {
		t.Fatalf("usage attributed to wrong step: %q", usageStep)
	}
}

func TestHeal_FallsBackWhenAgentOutputInvalid(t *testing.T) {
	h := &Healer{
		Agent: agent.InvokerFunc(func(_ context.Context, _ agent.Request) (agent.Response, error) {
			// Incomplete module: no delete operation.
			return agent.Response{Text: artifact.Serialize(artifact.FileSet{
				"app/routers/items.py": "def create_item(payload):\n    return payload\n",
			})}, nil
		}),
	}
	files, ok, err := h.Heal(context.Background(), Request{
		Step:   "backend_routers",
		Kind:   KindRouter,
		Entity: "item",
		Path:   "app/routers/items.py",
	})
	if err != nil || !ok {
		t.Fatalf("Heal: ok=%v err=%v", ok, err)
	}
	if issues := structural.CheckRouter(files["app/routers/items.py"]); len(issues) > 0 {
		t.Fatalf("fallback artifact failed validation: %v", issues)
	}
}

func TestHeal_RateLimitAborts(t *testing.T) {
	h := &Healer{
		Agent: agent.InvokerFunc(func(_ context.Context, _ agent.Request) (agent.Response, error) {
			return agent.Response{}, agent.NewRateLimitError("openai", "slow down", nil)
		}),
	}
	_, ok, err := h.Heal(context.Background(), Request{
		Step:   "backend_routers",
		Kind:   KindRouter,
		Entity: "item",
		Path:   "app/routers/items.py",
	})
	if ok {
		t.Fatal("rate-limited heal reported success")
	}
	if !agent.IsRateLimited(err) {
		t.Fatalf("expected rate-limit error, got %v", err)
	}
}

func TestHeal_RejectsUnderspecifiedRequests(t *testing.T) {
	h := &Healer{}
	if _, ok, _ := h.Heal(context.Background(), Request{Kind: KindRouter, Entity: "item"}); ok {
		t.Fatal("missing path accepted")
	}
	if _, ok, _ := h.Heal(context.Background(), Request{Kind: KindRouter, Path: "x.py"}); ok {
		t.Fatal("missing entity accepted")
	}
	if _, ok, _ := h.Heal(context.Background(), Request{Kind: "mystery", Entity: "item", Path: "x.py"}); ok {
		t.Fatal("unknown kind accepted")
	}
}
