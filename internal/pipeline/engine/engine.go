// Package engine is the top-level pipeline driver: it walks the dependency
// graph in declaration order, gates each step on readiness and budget,
// executes the registered handler, validates critical output, heals or
// halts on failure, and checkpoints on success.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/forgeworks/foundry/internal/agent"
	"github.com/forgeworks/foundry/internal/pipeline/artifact"
	"github.com/forgeworks/foundry/internal/pipeline/budget"
	"github.com/forgeworks/foundry/internal/pipeline/checkpoint"
	"github.com/forgeworks/foundry/internal/pipeline/contract"
	"github.com/forgeworks/foundry/internal/pipeline/graph"
	"github.com/forgeworks/foundry/internal/pipeline/heal"
	"github.com/forgeworks/foundry/internal/pipeline/state"
	"github.com/forgeworks/foundry/internal/pipeline/structural"
	"github.com/forgeworks/foundry/internal/sandbox"
)

// Deps are the collaborators injected into an Engine. Zero values get
// sensible defaults; Generator and Reviewer are required for the default
// handler set.
type Deps struct {
	Generator agent.Invoker
	Reviewer  agent.Invoker
	Sandbox   sandbox.Runtime
	Budgets   *budget.Registry
	Metrics   *budget.Metrics
	Logger    *zap.Logger
	Graph     *graph.Graph
	Contracts *contract.Registry
	Handlers  *HandlerRegistry
	Healer    *heal.Healer
}

type Engine struct {
	cfg       *Config
	graph     *graph.Graph
	contracts *contract.Registry
	handlers  *HandlerRegistry
	budgets   *budget.Registry
	metrics   *budget.Metrics
	generator agent.Invoker
	reviewer  agent.Invoker
	sandbox   sandbox.Runtime
	healer    *heal.Healer
	logger    *zap.Logger

	workspace   *Workspace
	checkpoints *checkpoint.Store
	progress    *progressWriter
}

func New(cfg *Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Workspace) == "" || strings.TrimSpace(cfg.LogsRoot) == "" {
		return nil, fmt.Errorf("engine: workspace and logs_root are required")
	}

	g := deps.Graph
	if g == nil {
		var err error
		if g, err = DefaultGraph(); err != nil {
			return nil, err
		}
	}
	handlers := deps.Handlers
	if handlers == nil {
		var err error
		if handlers, err = DefaultHandlers(cfg.Entity); err != nil {
			return nil, err
		}
	}
	for _, name := range g.Steps() {
		if _, ok := handlers.Resolve(name); !ok {
			return nil, fmt.Errorf("engine: no handler registered for step %s", name)
		}
	}

	contracts := deps.Contracts
	if contracts == nil {
		contracts = DefaultContracts(cfg.Entity)
	}
	budgets := deps.Budgets
	if budgets == nil {
		budgets = budget.NewRegistry(deps.Metrics)
	}
	sb := deps.Sandbox
	if sb == nil {
		sb = sandbox.Noop{}
	}
	healer := deps.Healer
	if healer == nil {
		healer = &heal.Healer{Agent: deps.Generator}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ws, err := NewWorkspace(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	store := checkpoint.NewStore(filepath.Join(cfg.LogsRoot, "checkpoints"))
	store.ExcludeGlobs = cfg.Checkpoint.ExcludeGlobs

	e := &Engine{
		cfg:         cfg,
		graph:       g,
		contracts:   contracts,
		handlers:    handlers,
		budgets:     budgets,
		metrics:     deps.Metrics,
		generator:   deps.Generator,
		reviewer:    deps.Reviewer,
		sandbox:     sb,
		healer:      healer,
		logger:      logger,
		workspace:   ws,
		checkpoints: store,
		progress:    newProgressWriter(cfg.LogsRoot),
	}
	// Heal regeneration calls spend real tokens; charge them to the run's
	// ledger as retries so AllowedAttempts sees the true remaining balance.
	if e.healer.OnUsage == nil {
		e.healer.OnUsage = func(step string, u agent.Usage) {
			if l, ok := e.budgets.Lookup(e.cfg.Project); ok {
				l.RegisterUsage(u.InputUnits, u.OutputUnits, step, e.cfg.Agent.Provider, true)
			}
		}
	}
	return e, nil
}

// stepFailure promotes a step-local problem to a run halt.
type stepFailure struct {
	step   string
	reason string
	err    error
}

// Run executes the pipeline once. The returned outcome is always non-nil
// when setup succeeded; err carries run-fatal conditions (rate limiting,
// handler faults) so callers can distinguish them from degraded successes.
func (e *Engine) Run(ctx context.Context) (*state.FinalOutcome, error) {
	if blk, blocked, err := state.ReadBlock(e.cfg.LogsRoot); err != nil {
		return nil, err
	} else if blocked {
		return nil, fmt.Errorf("engine: project %s is blocked at step %s since %s (quality %d < %d); unblock before rerunning",
			e.cfg.Project, blk.Step, blk.Timestamp.Format(time.RFC3339), blk.QualityScore, blk.Threshold)
	}

	run, err := state.NewRun(e.cfg.Project, e.graph.Steps())
	if err != nil {
		return nil, err
	}
	ledger := e.budgets.Reset(e.cfg.Project, e.cfg.Budget.CapUnits, e.cfg.PriceBook().For(e.cfg.Agent.Provider, e.cfg.Agent.Model))

	if err := e.writeManifest(run); err != nil {
		return nil, err
	}
	e.logger.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("project", e.cfg.Project),
		zap.Float64("budget_cap", ledger.Cap()),
	)

	var failure *stepFailure
	for _, name := range e.graph.Steps() {
		step, _ := e.graph.Step(name)
		res, fail := e.executeStep(ctx, run, ledger, step)
		if res != nil {
			run.Record(name, *res)
			e.writeStepStatus(name, *res)
		}
		if fail != nil {
			failure = fail
			break
		}
	}

	return e.finalize(run, ledger, failure)
}

// executeStep runs one step through the full gate sequence. A nil result
// means the step stays pending (an incomplete, non-failed dependency); a
// non-nil failure halts the run.
func (e *Engine) executeStep(ctx context.Context, run *state.Run, ledger *budget.Ledger, step graph.Step) (*state.StepResult, *stepFailure) {
	name := step.Name

	if !e.graph.Ready(name, run.Completed) {
		// An upstream failure halts the run before its dependents are
		// scanned, so reaching here only means a skipped or deferred
		// dependency. The step stays pending; finalize records it blocked
		// if an upstream failure ended the run.
		e.logger.Debug("step deferred",
			zap.String("step", name),
			zap.Strings("blocking", e.graph.Blocking(name, run.Completed)),
		)
		return nil, nil
	}

	allowed := ledger.AllowedAttempts(step)
	if allowed == 0 {
		e.progress.append(map[string]any{"event": "budget_throttled", "step": name, "remaining": ledger.Remaining()})
		if e.metrics != nil {
			e.metrics.IncThrottled(e.cfg.Project, name)
		}
		if step.Policy.Skippable {
			e.progress.append(map[string]any{"event": "stage_skipped", "step": name, "reason": "budget"})
			e.logger.Warn("step skipped: budget exhausted", zap.String("step", name))
			return &state.StepResult{Status: state.StatusSkipped}, nil
		}
		res := &state.StepResult{Status: state.StatusError, Error: "budget exhausted"}
		return res, &stepFailure{step: name, reason: "budget exhausted for non-skippable step"}
	}

	if step.Critical {
		if issues := e.preValidate(step, run); len(issues) > 0 {
			res := &state.StepResult{Status: state.StatusError, Error: "prerequisite validation failed: " + strings.Join(issues, "; ")}
			return res, &stepFailure{step: name, reason: res.Error}
		}
	}

	e.progress.append(map[string]any{"event": "stage_started", "step": name, "allowed_attempts": allowed})
	started := time.Now()

	handler, _ := e.handlers.Resolve(name)
	outcome, err := handler.Execute(ctx, &StepContext{
		Step:            step,
		RunID:           run.ID,
		Project:         e.cfg.Project,
		Entity:          e.cfg.Entity,
		AllowedAttempts: allowed,
		ContextText:     run.ContextText(),
		Turn:            run.Turn,
		Workspace:       e.workspace,
		Sandbox:         e.sandbox,
		Config:          e.cfg,
		Generator:       e.generator,
		Reviewer:        e.reviewer,
		Event:           e.progress.append,
	})
	duration := time.Since(started)

	if err != nil {
		res := &state.StepResult{Status: state.StatusError, Duration: duration, Error: err.Error()}
		if agent.IsRateLimited(err) {
			e.logger.Error("rate limited, aborting run", zap.String("step", name), zap.Error(err))
			return res, &stepFailure{step: name, reason: "rate limited", err: err}
		}
		e.logger.Error("handler failed", zap.String("step", name), zap.Error(err))
		return res, &stepFailure{step: name, reason: "handler error: " + err.Error(), err: err}
	}
	if outcome.Status == state.StatusError {
		res := &state.StepResult{Status: state.StatusError, Duration: duration, Error: outcome.Error}
		return res, &stepFailure{step: name, reason: "step failed: " + outcome.Error}
	}

	// Quality gate. A zero score means no review ran for this step.
	if !outcome.Approved && outcome.QualityScore > 0 && outcome.QualityScore < e.cfg.Quality.Threshold {
		blk := state.Block{
			Step:         name,
			QualityScore: outcome.QualityScore,
			Threshold:    e.cfg.Quality.Threshold,
			Reason:       fmt.Sprintf("unapproved output scored %d after %d attempt(s)", outcome.QualityScore, outcome.Attempts),
		}
		if err := state.WriteBlock(e.cfg.LogsRoot, blk); err != nil {
			e.logger.Error("failed to persist block record", zap.Error(err))
		}
		e.progress.append(map[string]any{"event": "stage_blocked", "step": name, "reason": "quality_gate", "score": outcome.QualityScore})
		res := &state.StepResult{Status: state.StatusBlocked, Duration: duration, Error: blk.Reason}
		return res, &stepFailure{step: name, reason: "quality gate: " + blk.Reason}
	}

	if len(outcome.Files) > 0 {
		if err := e.workspace.WriteFiles(outcome.Files); err != nil {
			res := &state.StepResult{Status: state.StatusError, Duration: duration, Error: err.Error()}
			return res, &stepFailure{step: name, reason: "workspace write failed", err: err}
		}
	}

	if step.Critical {
		if fail := e.postValidateAndHeal(ctx, step, &outcome); fail != nil {
			res := &state.StepResult{Status: state.StatusError, Duration: duration, Error: fail.reason}
			return res, fail
		}
	}

	if len(outcome.Files) > 0 {
		dir, err := e.checkpoints.Save(name, outcome.Files)
		if err != nil {
			e.logger.Error("checkpoint write failed", zap.String("step", name), zap.Error(err))
		} else {
			e.progress.append(map[string]any{"event": "checkpoint_saved", "step": name, "dir": dir, "files": len(outcome.Files)})
		}
	}

	in, out := outcome.Usage.InputUnits, outcome.Usage.OutputUnits
	if in == 0 && out == 0 {
		in, out = step.Policy.EstimatedInputUnits, step.Policy.EstimatedOutputUnits
	}
	rec := ledger.RegisterUsage(in, out, name, e.cfg.Agent.Provider, outcome.Attempts > 1)

	run.AppendContext(name, outcome.Summary)
	e.progress.append(map[string]any{
		"event":     "stage_completed",
		"step":      name,
		"attempts":  outcome.Attempts,
		"cost":      rec.Cost,
		"remaining": rec.Remaining,
	})
	e.logger.Info("step completed",
		zap.String("step", name),
		zap.Int("attempts", outcome.Attempts),
		zap.Duration("duration", duration),
		zap.Float64("remaining_budget", rec.Remaining),
	)

	return &state.StepResult{
		Status:   state.StatusOK,
		Duration: duration,
		Data:     outcome.Data,
		Usage:    state.TokenUsage{Input: in, Output: out},
	}, nil
}

// preValidate checks that the critical prerequisites of a step are present
// in the workspace before spending budget on it.
func (e *Engine) preValidate(step graph.Step, run *state.Run) []string {
	produced, err := e.workspace.List()
	if err != nil {
		return []string{"workspace unreadable: " + err.Error()}
	}
	var issues []string
	for _, dep := range step.DependsOn {
		depStep, ok := e.graph.Step(dep)
		if !ok || !depStep.Critical || !run.Completed[dep] {
			continue
		}
		c, ok := e.contracts.Lookup(dep)
		if !ok {
			continue
		}
		for _, missing := range c.MissingPaths(produced) {
			issues = append(issues, fmt.Sprintf("prerequisite from %s: %s", dep, missing))
		}
	}
	return issues
}

// postValidateAndHeal runs the structural and contract gates over a
// critical step's output, invoking the repairer once on failure. When the
// repairer cannot produce a passing artifact either, the step's most recent
// checkpoint is restored as the last-known-good fallback.
func (e *Engine) postValidateAndHeal(ctx context.Context, step graph.Step, outcome *Outcome) *stepFailure {
	issues := e.postValidate(step, outcome.Files)
	if len(issues) == 0 {
		return nil
	}

	var reason string
	kind, path, healable := healTarget(step.Name, e.cfg.Entity)
	if !healable {
		reason = "validation failed: " + strings.Join(issues, "; ")
	} else {
		e.progress.append(map[string]any{"event": "heal_attempted", "step": step.Name, "issues": issues})
		e.logger.Warn("validation failed, attempting heal", zap.String("step", step.Name), zap.Strings("issues", issues))

		healed, ok, err := e.healer.Heal(ctx, heal.Request{
			Step:   step.Name,
			Kind:   kind,
			Entity: e.cfg.Entity,
			Path:   path,
			Issues: issues,
		})
		switch {
		case err != nil:
			return &stepFailure{step: step.Name, reason: "rate limited during heal", err: err}
		case !ok:
			reason = "heal failed: " + strings.Join(issues, "; ")
		default:
			if werr := e.workspace.WriteFiles(healed); werr != nil {
				return &stepFailure{step: step.Name, reason: "workspace write failed after heal", err: werr}
			}
			mergeFiles(outcome, healed)
			remaining := e.postValidate(step, outcome.Files)
			if len(remaining) == 0 {
				return nil
			}
			reason = "validation failed after heal: " + strings.Join(remaining, "; ")
		}
	}

	if e.restoreLastGood(step, outcome) {
		return nil
	}
	return &stepFailure{step: step.Name, reason: reason}
}

// restoreLastGood replaces the step's output with its most recent
// checkpoint, provided the restored files pass validation.
func (e *Engine) restoreLastGood(step graph.Step, outcome *Outcome) bool {
	files, meta, err := e.checkpoints.Latest(step.Name)
	if err != nil || len(files) == 0 {
		return false
	}
	if err := e.workspace.WriteFiles(files); err != nil {
		e.logger.Error("checkpoint restore write failed", zap.String("step", step.Name), zap.Error(err))
		return false
	}
	mergeFiles(outcome, files)
	if remaining := e.postValidate(step, outcome.Files); len(remaining) > 0 {
		return false
	}
	e.progress.append(map[string]any{
		"event":      "checkpoint_restored",
		"step":       step.Name,
		"snapshot":   meta.Timestamp,
		"file_count": len(files),
	})
	e.logger.Warn("restored last-known-good checkpoint",
		zap.String("step", step.Name),
		zap.Time("snapshot", meta.Timestamp),
	)
	return true
}

func mergeFiles(outcome *Outcome, files artifact.FileSet) {
	if outcome.Files == nil {
		outcome.Files = artifact.FileSet{}
	}
	for p, content := range files {
		outcome.Files[p] = content
	}
}

func (e *Engine) postValidate(step graph.Step, files artifact.FileSet) []string {
	var issues []string

	switch step.Name {
	case StepBackendRouters:
		src := e.findSource(files, RouterPath(e.cfg.Entity))
		issues = append(issues, structural.CheckRouter(src)...)
	case StepIntegration:
		src := e.findSource(files, ClientPath())
		issues = append(issues, structural.CheckClient(src, e.cfg.Entity)...)
	}

	if c, ok := e.contracts.Lookup(step.Name); ok {
		issues = append(issues, c.MissingContent(files.Concat())...)
		produced, err := e.workspace.List()
		if err != nil {
			issues = append(issues, "workspace unreadable: "+err.Error())
		} else {
			issues = append(issues, c.MissingPaths(produced)...)
		}
	}
	return issues
}

// findSource prefers the freshly produced file, falling back to whatever is
// on disk from an earlier attempt.
func (e *Engine) findSource(files artifact.FileSet, path string) string {
	if src, ok := files[path]; ok {
		return src
	}
	src, err := e.workspace.Read(path)
	if err != nil {
		return ""
	}
	return src
}

// propagateBlocked marks every still-pending step downstream of a failed or
// blocked step as blocked. These steps were never attempted and no budget
// was charged for them; operators see them distinctly from failures.
func (e *Engine) propagateBlocked(run *state.Run) {
	for _, name := range run.Steps {
		if _, done := run.Results[name]; done {
			continue
		}
		step, ok := e.graph.Step(name)
		if !ok {
			continue
		}
		for _, dep := range step.DependsOn {
			r, recorded := run.Results[dep]
			if !recorded {
				continue
			}
			if r.Status == state.StatusError || r.Status == state.StatusBlocked {
				res := state.StepResult{Status: state.StatusBlocked, Error: "dependency failed: " + dep}
				run.Record(name, res)
				e.writeStepStatus(name, res)
				e.progress.append(map[string]any{"event": "stage_blocked", "step": name, "blocked_on": dep})
				break
			}
		}
	}
}

func (e *Engine) writeManifest(run *state.Run) error {
	return state.WriteJSONAtomic(filepath.Join(e.cfg.LogsRoot, "manifest.json"), map[string]any{
		"run_id":     run.ID,
		"project":    e.cfg.Project,
		"entity":     e.cfg.Entity,
		"steps":      run.Steps,
		"workspace":  e.workspace.Root(),
		"budget_cap": e.cfg.Budget.CapUnits,
		"started_at": run.StartedAt,
	})
}

func (e *Engine) writeStepStatus(step string, res state.StepResult) {
	path := filepath.Join(e.cfg.LogsRoot, step, "status.json")
	if err := state.WriteJSONAtomic(path, res); err != nil {
		e.logger.Error("failed to write step status", zap.String("step", step), zap.Error(err))
	}
}

func (e *Engine) finalize(run *state.Run, ledger *budget.Ledger, failure *stepFailure) (*state.FinalOutcome, error) {
	e.propagateBlocked(run)
	summary := ledger.UsageSummary()
	fo := &state.FinalOutcome{
		Timestamp:      time.Now().UTC(),
		Status:         state.FinalSuccess,
		RunID:          run.ID,
		Project:        e.cfg.Project,
		SpentUnits:     summary.Spent,
		RemainingUnits: summary.Remaining,
		BudgetTier:     string(summary.Tier),
	}
	for _, name := range run.Steps {
		switch run.Results[name].Status {
		case state.StatusSkipped:
			fo.SkippedSteps = append(fo.SkippedSteps, name)
		case state.StatusBlocked:
			fo.BlockedSteps = append(fo.BlockedSteps, name)
		}
	}
	var runErr error
	if failure != nil {
		fo.Status = state.FinalFail
		fo.FailedStep = failure.step
		fo.FailureReason = failure.reason
		if failure.err != nil {
			runErr = fmt.Errorf("engine: step %s: %s: %w", failure.step, failure.reason, failure.err)
		} else {
			runErr = fmt.Errorf("engine: step %s: %s", failure.step, failure.reason)
		}
		e.progress.append(map[string]any{"event": "run_failed", "step": failure.step, "reason": failure.reason})
		e.logger.Error("run failed", zap.String("step", failure.step), zap.String("reason", failure.reason), zap.String("budget", summary.String()))
	} else {
		e.progress.append(map[string]any{"event": "run_completed", "skipped": len(fo.SkippedSteps)})
		e.logger.Info("run completed", zap.Strings("skipped", fo.SkippedSteps), zap.String("budget", summary.String()))
	}

	if err := fo.Save(filepath.Join(e.cfg.LogsRoot, "final.json")); err != nil {
		e.logger.Error("failed to persist final outcome", zap.Error(err))
	}
	return fo, runErr
}
