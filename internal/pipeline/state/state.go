// Package state holds the mutable per-run records the engine writes as it
// walks the pipeline graph, plus the on-disk terminal artifacts (final.json,
// blocked.json) operators inspect after a run ends.
package state

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type StepStatus string

const (
	StatusOK      StepStatus = "ok"
	StatusError   StepStatus = "error"
	StatusBlocked StepStatus = "blocked"
	StatusSkipped StepStatus = "skipped"
)

type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// StepResult is the terminal record for one step of one run.
type StepResult struct {
	Status   StepStatus     `json:"status"`
	Duration time.Duration  `json:"duration_ns"`
	Data     map[string]any `json:"data,omitempty"`
	Usage    TokenUsage     `json:"token_usage"`
	Error    string         `json:"error,omitempty"`
}

// ContextEntry is a condensed cross-step note. Completed steps append one so
// later steps can see what was already produced without replaying transcripts.
type ContextEntry struct {
	Step    string `json:"step"`
	Summary string `json:"summary"`
}

// Run tracks one project execution. The step list is fixed at construction;
// everything else is mutated step by step by the engine, which is the single
// writer. Readers outside the engine only see the run after termination.
type Run struct {
	ID      string
	Project string
	Steps   []string

	Completed map[string]bool
	Failed    map[string]bool
	Results   map[string]StepResult
	Turn      int
	Context   []ContextEntry

	StartedAt time.Time
}

func NewRun(project string, steps []string) (*Run, error) {
	if strings.TrimSpace(project) == "" {
		return nil, fmt.Errorf("state: project id is required")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("state: step list is empty")
	}
	now := time.Now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Run{
		ID:        id.String(),
		Project:   project,
		Steps:     append([]string(nil), steps...),
		Completed: map[string]bool{},
		Failed:    map[string]bool{},
		Results:   map[string]StepResult{},
		StartedAt: now,
	}, nil
}

// Record stores the step's result and updates the completed/failed sets.
// Blocked and skipped steps land in neither set.
func (r *Run) Record(step string, res StepResult) {
	r.Results[step] = res
	switch res.Status {
	case StatusOK:
		r.Completed[step] = true
	case StatusError:
		r.Failed[step] = true
	}
	r.Turn++
}

func (r *Run) AppendContext(step, summary string) {
	if strings.TrimSpace(summary) == "" {
		return
	}
	r.Context = append(r.Context, ContextEntry{Step: step, Summary: summary})
}

// ContextText renders the accumulated cross-step notes as prompt material.
func (r *Run) ContextText() string {
	if len(r.Context) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range r.Context {
		fmt.Fprintf(&b, "[%s] %s\n", e.Step, e.Summary)
	}
	return b.String()
}

type FinalStatus string

const (
	FinalSuccess FinalStatus = "success"
	FinalFail    FinalStatus = "fail"
)

// FinalOutcome is persisted as final.json when a run terminates, whatever the
// reason. SpentUnits/RemainingUnits carry the budget picture at that moment.
type FinalOutcome struct {
	Timestamp time.Time   `json:"timestamp"`
	Status    FinalStatus `json:"status"`

	RunID   string `json:"run_id"`
	Project string `json:"project"`

	FailedStep    string   `json:"failed_step,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
	SkippedSteps  []string `json:"skipped_steps,omitempty"`
	BlockedSteps  []string `json:"blocked_steps,omitempty"`

	SpentUnits     float64 `json:"spent_units"`
	RemainingUnits float64 `json:"remaining_units"`
	BudgetTier     string  `json:"budget_tier,omitempty"`
}

func (fo *FinalOutcome) Save(path string) error {
	if fo == nil {
		return fmt.Errorf("state: final outcome is nil")
	}
	return WriteJSONAtomic(path, fo)
}

// WriteJSONAtomic writes v as indented JSON via a temp file in the target
// directory followed by a rename, so readers never observe a partial file.
func WriteJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

const blockedFile = "blocked.json"

// Block records a quality-gate stop. The run does not proceed for this
// project until an operator clears it with Unblock.
type Block struct {
	Timestamp    time.Time `json:"timestamp"`
	Step         string    `json:"step"`
	QualityScore int       `json:"quality_score"`
	Threshold    int       `json:"threshold"`
	Reason       string    `json:"reason"`
}

func WriteBlock(projectDir string, b Block) error {
	if strings.TrimSpace(b.Step) == "" {
		return fmt.Errorf("state: block record needs a step name")
	}
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now().UTC()
	}
	return WriteJSONAtomic(filepath.Join(projectDir, blockedFile), b)
}

// ReadBlock returns the active block, or found=false when the project is not
// blocked.
func ReadBlock(projectDir string) (Block, bool, error) {
	raw, err := os.ReadFile(filepath.Join(projectDir, blockedFile))
	if os.IsNotExist(err) {
		return Block{}, false, nil
	}
	if err != nil {
		return Block{}, false, err
	}
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return Block{}, false, fmt.Errorf("state: corrupt %s: %w", blockedFile, err)
	}
	return b, true, nil
}

// Unblock clears a quality-gate block. Clearing an already-clear project is
// not an error.
func Unblock(projectDir string) error {
	err := os.Remove(filepath.Join(projectDir, blockedFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
