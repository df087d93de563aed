package budget

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/forgeworks/foundry/internal/pipeline/graph"
)

// attemptSafetyMargin pads the per-attempt cost estimate. Real attempts run
// larger than their estimate because of retries and verbose output.
const attemptSafetyMargin = 1.3

// StatusTier is a coarse health label derived from the remaining fraction.
// Observability only; scheduling decisions go through AllowedAttempts.
type StatusTier string

const (
	TierHealthy  StatusTier = "healthy"
	TierModerate StatusTier = "moderate"
	TierLow      StatusTier = "low"
	TierCritical StatusTier = "critical"
)

func tierForFraction(remaining float64) StatusTier {
	switch {
	case remaining >= 0.5:
		return TierHealthy
	case remaining >= 0.25:
		return TierModerate
	case remaining >= 0.10:
		return TierLow
	default:
		return TierCritical
	}
}

// CallRecord is one entry in the chronological call log.
type CallRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Step        string    `json:"step"`
	Agent       string    `json:"agent"`
	InputUnits  int       `json:"input_units"`
	OutputUnits int       `json:"output_units"`
	Cost        float64   `json:"cost"`
	Retry       bool      `json:"retry"`
	Remaining   float64   `json:"remaining"`
}

// StepUsage is the per-step breakdown exposed by Summary.
type StepUsage struct {
	Calls       int     `json:"calls"`
	InputUnits  int     `json:"input_units"`
	OutputUnits int     `json:"output_units"`
	Cost        float64 `json:"cost"`
}

// Summary is a point-in-time snapshot of ledger state.
type Summary struct {
	ProjectID string               `json:"project_id"`
	Cap       float64              `json:"cap"`
	Spent     float64              `json:"spent"`
	Remaining float64              `json:"remaining"`
	Tier      StatusTier           `json:"tier"`
	PerStep   map[string]StepUsage `json:"per_step"`
	Calls     int                  `json:"calls"`
}

// Ledger tracks monetary spend for one run. It is owned by a single run but
// must tolerate concurrent RegisterUsage calls from in-flight agent
// invocations reporting in any order.
type Ledger struct {
	projectID string
	pricing   Pricing

	mu      sync.Mutex
	cap     float64
	spent   float64
	perStep map[string]StepUsage
	log     []CallRecord

	metrics *Metrics
}

// NewLedger creates a ledger with the given cap in currency units.
func NewLedger(projectID string, cap float64, pricing Pricing) *Ledger {
	return &Ledger{
		projectID: strings.TrimSpace(projectID),
		pricing:   pricing,
		cap:       cap,
		perStep:   map[string]StepUsage{},
	}
}

// SetMetrics attaches a metrics sink. Nil is allowed and disables reporting.
func (l *Ledger) SetMetrics(m *Metrics) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = m
}

// StartRun resets all counters. Idempotent; call once per run. The cap is
// preserved so a reused per-project ledger starts each run from the same
// configured budget.
func (l *Ledger) StartRun() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent = 0
	l.perStep = map[string]StepUsage{}
	l.log = nil
	if l.metrics != nil {
		l.metrics.setRemaining(l.projectID, l.cap)
	}
}

// AllowedAttempts returns how many attempts the step can afford right now,
// clamped to the step policy's MaxAttempts. A zero return is the
// load-shedding signal: the engine skips the step if its policy allows, and
// halts the run otherwise.
func (l *Ledger) AllowedAttempts(step graph.Step) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := l.cap - l.spent
	if remaining <= 0 {
		return 0
	}
	estimate := l.pricing.Cost(step.Policy.EstimatedInputUnits, step.Policy.EstimatedOutputUnits)
	if estimate <= 0 {
		// Free or unestimated steps are bounded by policy alone.
		return step.Policy.MaxAttempts
	}
	theoreticalMax := int(remaining / (estimate * attemptSafetyMargin))
	if theoreticalMax <= 0 {
		return 0
	}
	if theoreticalMax > step.Policy.MaxAttempts {
		return step.Policy.MaxAttempts
	}
	return theoreticalMax
}

// RegisterUsage appends to the call log and updates cumulative spend and
// the per-step breakdown. Safe under concurrent callers.
func (l *Ledger) RegisterUsage(inputUnits, outputUnits int, step, agent string, isRetry bool) CallRecord {
	cost := l.pricing.Cost(inputUnits, outputUnits)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.spent += cost
	u := l.perStep[step]
	u.Calls++
	u.InputUnits += inputUnits
	u.OutputUnits += outputUnits
	u.Cost += cost
	l.perStep[step] = u

	rec := CallRecord{
		Timestamp:   time.Now().UTC(),
		Step:        step,
		Agent:       agent,
		InputUnits:  inputUnits,
		OutputUnits: outputUnits,
		Cost:        cost,
		Retry:       isRetry,
		Remaining:   l.cap - l.spent,
	}
	l.log = append(l.log, rec)

	if l.metrics != nil {
		l.metrics.observeUsage(l.projectID, step, cost, rec.Remaining)
	}
	return rec
}

// Remaining returns cap minus cumulative spend. May be negative when an
// attempt overran its estimate.
func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cap - l.spent
}

// Cap returns the configured cap.
func (l *Ledger) Cap() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cap
}

// CallLog returns a copy of the chronological call log.
func (l *Ledger) CallLog() []CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CallRecord{}, l.log...)
}

// UsageSummary returns a snapshot with the status tier.
func (l *Ledger) UsageSummary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	per := make(map[string]StepUsage, len(l.perStep))
	for k, v := range l.perStep {
		per[k] = v
	}
	remaining := l.cap - l.spent
	frac := 0.0
	if l.cap > 0 {
		frac = remaining / l.cap
	}
	return Summary{
		ProjectID: l.projectID,
		Cap:       l.cap,
		Spent:     l.spent,
		Remaining: remaining,
		Tier:      tierForFraction(frac),
		PerStep:   per,
		Calls:     len(l.log),
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("budget %s: spent %.4f of %.4f (%.4f remaining, %s)",
		s.ProjectID, s.Spent, s.Cap, s.Remaining, s.Tier)
}
