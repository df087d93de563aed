package budget

import (
	"strings"
	"sync"
)

// Registry owns ledgers keyed by project id. Distinct projects never share
// ledger state; repeated runs for the same project reuse one instance so
// spend accumulates across handler call sites within a run. The registry is
// injected into the engine rather than held as a package-level singleton.
type Registry struct {
	mu      sync.Mutex
	ledgers map[string]*Ledger
	metrics *Metrics
}

func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		ledgers: map[string]*Ledger{},
		metrics: metrics,
	}
}

// Obtain returns the project's ledger, creating it with the given cap and
// pricing on first use. An existing ledger keeps its original cap; callers
// that need a new cap use Reset.
func (r *Registry) Obtain(projectID string, cap float64, pricing Pricing) *Ledger {
	key := strings.TrimSpace(projectID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.ledgers[key]; ok {
		return l
	}
	l := NewLedger(key, cap, pricing)
	l.SetMetrics(r.metrics)
	r.ledgers[key] = l
	return l
}

// Reset replaces the project's ledger with a fresh one. Called explicitly
// at run start; ledgers are never destroyed mid-run.
func (r *Registry) Reset(projectID string, cap float64, pricing Pricing) *Ledger {
	key := strings.TrimSpace(projectID)
	l := NewLedger(key, cap, pricing)
	l.SetMetrics(r.metrics)
	l.StartRun()
	r.mu.Lock()
	r.ledgers[key] = l
	r.mu.Unlock()
	return l
}

// Lookup returns the project's ledger without creating one.
func (r *Registry) Lookup(projectID string) (*Ledger, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[strings.TrimSpace(projectID)]
	return l, ok
}
