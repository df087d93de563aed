package budget

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports ledger activity. Purely observational: nothing in here
// feeds back into attempt allocation.
type Metrics struct {
	spend     *prometheus.CounterVec
	remaining *prometheus.GaugeVec
	calls     *prometheus.CounterVec
	throttled *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	spend := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "foundry_budget_spend_total",
		Help: "Cumulative budget spend in currency units.",
	}, []string{"project", "step"})
	remaining := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "foundry_budget_remaining",
		Help: "Remaining budget in currency units.",
	}, []string{"project"})
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "foundry_budget_calls_total",
		Help: "Total agent calls registered against the ledger.",
	}, []string{"project", "step"})
	throttled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "foundry_budget_throttled_total",
		Help: "Steps throttled to zero allowed attempts.",
	}, []string{"project", "step"})

	spend = registerCounterVec(registerer, spend)
	remaining = registerGaugeVec(registerer, remaining)
	calls = registerCounterVec(registerer, calls)
	throttled = registerCounterVec(registerer, throttled)

	return &Metrics{spend: spend, remaining: remaining, calls: calls, throttled: throttled}
}

func (m *Metrics) observeUsage(project, step string, cost, remaining float64) {
	if m == nil {
		return
	}
	m.spend.WithLabelValues(project, step).Add(cost)
	m.remaining.WithLabelValues(project).Set(remaining)
	m.calls.WithLabelValues(project, step).Inc()
}

func (m *Metrics) setRemaining(project string, remaining float64) {
	if m == nil {
		return
	}
	m.remaining.WithLabelValues(project).Set(remaining)
}

// IncThrottled records a step denied any attempts by the ledger.
func (m *Metrics) IncThrottled(project, step string) {
	if m == nil {
		return
	}
	m.throttled.WithLabelValues(project, step).Inc()
}

func registerCounterVec(registerer prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return counter
}

func registerGaugeVec(registerer prometheus.Registerer, gauge *prometheus.GaugeVec) *prometheus.GaugeVec {
	if err := registerer.Register(gauge); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
	}
	return gauge
}
