package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/forgeworks/foundry/internal/agent"
	"github.com/forgeworks/foundry/internal/pipeline/state"
	"github.com/forgeworks/foundry/internal/pipeline/supervisor"
)

// GenerateHandler runs one supervised generation call for its step. All
// default pipeline steps that produce artifacts use this handler with a
// step-specific brief.
type GenerateHandler struct {
	Brief string
}

func (h *GenerateHandler) Execute(ctx context.Context, sc *StepContext) (Outcome, error) {
	res, usage, err := h.supervised(ctx, sc)
	if err != nil {
		return Outcome{}, err
	}

	summary := fmt.Sprintf("produced %d file(s)", len(res.Files))
	if !res.Approved {
		summary = fmt.Sprintf("unapproved after %d attempt(s), score %d", res.Attempt, res.QualityScore)
	}
	return Outcome{
		Status:       state.StatusOK,
		Files:        res.Files,
		Usage:        usage,
		Approved:     res.Approved,
		QualityScore: res.QualityScore,
		Attempts:     res.Attempt,
		Summary:      fmt.Sprintf("%s: %s", sc.Step.Name, summary),
		Data:         map[string]any{"issues": res.Issues, "discarded": res.Discarded},
	}, nil
}

func (h *GenerateHandler) supervised(ctx context.Context, sc *StepContext) (supervisor.Result, agent.Usage, error) {
	var usage agent.Usage
	loop := &supervisor.Loop{
		Generator: sc.Generator,
		Reviewer:  sc.Reviewer,
		Config: supervisor.Config{
			MaxAttempts:      sc.AllowedAttempts,
			QualityThreshold: sc.Config.Quality.Threshold,
			Backoff:          sc.Config.BackoffConfig(),
		},
		Seed: sc.RunID,
		OnUsage: func(u agent.Usage, isRetry bool) {
			usage.InputUnits += u.InputUnits
			usage.OutputUnits += u.OutputUnits
			sc.Event(map[string]any{
				"event":        "stage_attempt",
				"step":         sc.Step.Name,
				"input_units":  u.InputUnits,
				"output_units": u.OutputUnits,
				"retry":        isRetry,
			})
		},
	}

	prompt := h.Brief
	if cx := strings.TrimSpace(sc.ContextText); cx != "" {
		prompt += "\n\nContext from earlier steps:\n" + cx
	}
	prompt += "\n\n" + wireInstructions

	res, err := loop.Run(ctx, sc.Step.Name, agent.Request{
		Prompt:      prompt,
		System:      generatorSystem,
		Provider:    sc.Config.Agent.Provider,
		Model:       sc.Config.Agent.Model,
		Temperature: sc.Config.Agent.Temperature,
		MaxOutUnits: sc.Config.Agent.MaxOutUnits,
	})
	return res, usage, err
}

// TestingHandler generates the test suite, writes it, and runs it inside
// the sandbox. A failing suite does not fail the step; the result travels
// in the step data for operators.
type TestingHandler struct {
	gen GenerateHandler
}

func (h *TestingHandler) Execute(ctx context.Context, sc *StepContext) (Outcome, error) {
	out, err := h.gen.Execute(ctx, sc)
	if err != nil {
		return Outcome{}, err
	}
	if len(out.Files) == 0 {
		return out, nil
	}
	if err := sc.Workspace.WriteFiles(out.Files); err != nil {
		return Outcome{}, err
	}

	res, err := sc.Sandbox.Exec(ctx, sc.Project, "api", "pytest -q", 5*time.Minute)
	if err != nil {
		// Sandbox trouble is environmental, not a generation failure.
		out.Summary += "; test execution unavailable"
		return out, nil
	}
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	out.Data["tests_passed"] = res.Success
	out.Data["test_exit_code"] = res.ExitCode
	if res.Success {
		out.Summary += "; test suite passed"
	} else {
		out.Summary += fmt.Sprintf("; test suite failed (exit %d)", res.ExitCode)
	}
	return out, nil
}

// PreviewHandler brings the generated application up in the sandbox.
type PreviewHandler struct{}

func (h *PreviewHandler) Execute(ctx context.Context, sc *StepContext) (Outcome, error) {
	if err := sc.Sandbox.Create(ctx, sc.Project, sc.Workspace.Root()); err != nil {
		return Outcome{Status: state.StatusError, Error: err.Error()}, nil
	}
	if err := sc.Sandbox.Start(ctx, sc.Project, true); err != nil {
		return Outcome{Status: state.StatusError, Error: err.Error()}, nil
	}
	st, err := sc.Sandbox.Status(ctx, sc.Project)
	if err != nil {
		return Outcome{Status: state.StatusError, Error: err.Error()}, nil
	}
	return Outcome{
		Status:  state.StatusOK,
		Data:    map[string]any{"sandbox_state": string(st)},
		Summary: fmt.Sprintf("preview: sandbox %s", st),
	}, nil
}

// DefaultHandlers wires the default handler set for the seven steps.
func DefaultHandlers(entity string) (*HandlerRegistry, error) {
	briefs := stepBriefs(entity)
	reg := NewHandlerRegistry()
	for _, step := range []string{StepAnalysis, StepArchitecture, StepBackendModels, StepBackendRouters, StepIntegration} {
		if err := reg.Register(step, &GenerateHandler{Brief: briefs[step]}); err != nil {
			return nil, err
		}
	}
	if err := reg.Register(StepTesting, &TestingHandler{gen: GenerateHandler{Brief: briefs[StepTesting]}}); err != nil {
		return nil, err
	}
	if err := reg.Register(StepPreview, &PreviewHandler{}); err != nil {
		return nil, err
	}
	return reg, nil
}
