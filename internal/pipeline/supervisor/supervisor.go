// Package supervisor wraps one agent invocation in a generate, review,
// retry cycle. Every step handler's generation call goes through this loop;
// the engine only ever sees the loop's terminal result.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forgeworks/foundry/internal/agent"
	"github.com/forgeworks/foundry/internal/pipeline/artifact"
	"github.com/forgeworks/foundry/internal/pipeline/integrity"
)

// Config bounds one supervised call.
type Config struct {
	MaxAttempts      int
	QualityThreshold int
	Backoff          BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		QualityThreshold: 6,
		Backoff:          DefaultBackoff(),
	}
}

// Result is what the loop hands back after approval or exhaustion. Discarded
// means the last rejection was integrity-class and the output was dropped
// rather than returned; Files is nil in that case.
type Result struct {
	Approved     bool
	Attempt      int
	QualityScore int
	Files        artifact.FileSet
	Issues       []string
	Discarded    bool
}

// BelowGate reports whether the result's quality score falls under the
// configured threshold. The caller decides what a gate failure means; the
// loop itself never blocks a run.
func (r Result) BelowGate(threshold int) bool {
	return r.QualityScore < threshold
}

// attemptState carries the feedback from one rejected attempt into the next
// generation prompt. Only the prior review's issues and corrections travel;
// the full transcript never re-enters the context.
type attemptState struct {
	attempt     int
	issues      []string
	corrections []string
	integrity   bool
}

// Loop supervises generation for one step. Generator produces artifacts,
// Reviewer judges them; they may be the same underlying agent with
// different system instructions.
type Loop struct {
	Generator agent.Invoker
	Reviewer  agent.Invoker
	Config    Config

	// Seed makes retry jitter reproducible per run and step.
	Seed string

	// Sleep is swapped out in tests. Nil means time.Sleep.
	Sleep func(time.Duration)

	// OnUsage, when set, receives every invocation's token usage so the
	// caller can register spend. isRetry marks everything after the first
	// generation call, rewrap recoveries included.
	OnUsage func(u agent.Usage, isRetry bool)
}

// Run drives the state machine: GENERATE then REVIEW, then either APPROVED
// (return immediately) or REJECTED (retry with differential feedback while
// attempts remain). On exhaustion, the last output comes back unapproved;
// integrity-class rejections discard it entirely.
func (l *Loop) Run(ctx context.Context, step string, brief agent.Request) (Result, error) {
	if l.Generator == nil || l.Reviewer == nil {
		return Result{}, fmt.Errorf("supervisor: generator and reviewer are required")
	}
	if err := brief.Validate(); err != nil {
		return Result{}, err
	}
	maxAttempts := l.Config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last Result
	st := attemptState{}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			l.sleep(DelayForAttempt(attempt-1, l.Config.Backoff, fmt.Sprintf("%s:%s:%d", l.Seed, step, attempt-1)))
		}

		req := brief
		if attempt > 1 {
			req.Prompt = retryPrompt(brief.Prompt, st)
		}
		resp, err := l.invoke(ctx, l.Generator, req, attempt > 1)
		if err != nil {
			if agent.IsRateLimited(err) || !agent.IsRetryable(err) || attempt == maxAttempts {
				return Result{}, err
			}
			st = attemptState{attempt: attempt, issues: []string{"agent call failed: " + err.Error()}}
			last = Result{Attempt: attempt, Issues: st.issues}
			continue
		}

		files, perr := artifact.Parse(resp.Text)
		if perr == artifact.ErrNoMarkers {
			files, perr = l.rewrap(ctx, req, resp.Text)
		}
		if perr != nil {
			if agent.IsRateLimited(perr) {
				return Result{}, perr
			}
			st = attemptState{
				attempt:   attempt,
				issues:    []string{parseIssue(perr)},
				integrity: artifact.IsIncomplete(perr),
			}
			last = Result{Attempt: attempt, Issues: st.issues}
			continue
		}

		// Damaged output skips the expensive review entirely; the integrity
		// issues become the retry feedback.
		if issues := integrity.Check(files.Concat()); len(issues) > 0 {
			st = attemptState{attempt: attempt, issues: issues, integrity: true}
			last = Result{Attempt: attempt, Files: files, Issues: issues}
			continue
		}

		review, rerr := l.review(ctx, step, files)
		if rerr != nil {
			if agent.IsRateLimited(rerr) {
				return Result{}, rerr
			}
			st = attemptState{attempt: attempt, issues: []string{rerr.Error()}}
			last = Result{Attempt: attempt, Files: files, Issues: st.issues}
			continue
		}
		if review.Approved {
			return Result{
				Approved:     true,
				Attempt:      attempt,
				QualityScore: review.QualityScore,
				Files:        files,
			}, nil
		}
		st = attemptState{
			attempt:     attempt,
			issues:      review.Issues,
			corrections: review.Corrections,
			integrity:   citesIntegrity(review.Issues),
		}
		last = Result{
			Attempt:      attempt,
			QualityScore: review.QualityScore,
			Files:        files,
			Issues:       review.Issues,
		}
	}

	last.Approved = false
	if st.integrity {
		last.Files = nil
		last.Discarded = true
	}
	return last, nil
}

func (l *Loop) invoke(ctx context.Context, inv agent.Invoker, req agent.Request, isRetry bool) (agent.Response, error) {
	resp, err := inv.Invoke(ctx, req)
	if err == nil && l.OnUsage != nil {
		l.OnUsage(resp.Usage, isRetry)
	}
	return resp, err
}

// rewrap performs the single deterministic recovery call after zero-marker
// output: same content, re-sent wrapped in the wire format.
func (l *Loop) rewrap(ctx context.Context, req agent.Request, original string) (artifact.FileSet, error) {
	rw := req
	rw.Prompt = artifact.RewrapInstruction(original)
	rw.Temperature = 0
	resp, err := l.invoke(ctx, l.Generator, rw, true)
	if err != nil {
		return nil, err
	}
	return artifact.Parse(resp.Text)
}

func (l *Loop) review(ctx context.Context, step string, files artifact.FileSet) (Review, error) {
	req := agent.Request{
		Prompt: reviewPrompt(step, files),
		System: reviewSystem,
	}
	resp, err := l.invoke(ctx, l.Reviewer, req, false)
	if err != nil {
		return Review{}, err
	}
	return ParseReview(resp.Text)
}

func (l *Loop) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if l.Sleep != nil {
		l.Sleep(d)
		return
	}
	time.Sleep(d)
}

func parseIssue(err error) string {
	var ie *artifact.IncompleteError
	if errors.As(err, &ie) {
		// Keep the exact phrasing retries feed back to the agent.
		return fmt.Sprintf("incomplete: missing END_FILE for %s", ie.Path)
	}
	return strings.TrimPrefix(err.Error(), "artifact: ")
}

const reviewSystem = "You are a strict code reviewer for generated application code. " +
	"Respond with a single JSON object: " +
	`{"approved": bool, "quality_score": 1-10, "issues": [...], "feedback": "...", "corrections": [...]}. ` +
	"No prose outside the JSON."

func reviewPrompt(step string, files artifact.FileSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the output of pipeline step %q.\n\n", step)
	b.WriteString(artifact.Serialize(files))
	return b.String()
}

// retryPrompt builds the differential retry brief: the original instructions
// plus only the prior rejection's issues and corrections.
func retryPrompt(original string, st attemptState) string {
	var b strings.Builder
	b.WriteString(original)
	fmt.Fprintf(&b, "\n\nYour previous attempt (attempt %d) was rejected.\n", st.attempt)
	if len(st.issues) > 0 {
		b.WriteString("Issues:\n")
		for _, issue := range st.issues {
			b.WriteString("- " + issue + "\n")
		}
	}
	if len(st.corrections) > 0 {
		b.WriteString("Required corrections:\n")
		for _, c := range st.corrections {
			b.WriteString("- " + c + "\n")
		}
	}
	b.WriteString("Produce the complete corrected output in the file marker format.")
	return b.String()
}
