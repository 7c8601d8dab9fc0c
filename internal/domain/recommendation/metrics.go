package recommendation

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts decisions, degraded narratives and interpretation outcomes.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	decisions       *prometheus.CounterVec
	degraded        *prometheus.CounterVec
	interpretations *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labopti_decisions_total",
				Help: "Total number of test decisions by kind",
			},
			[]string{"kind"},
		),
		degraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labopti_narrative_degraded_total",
				Help: "Total number of narratives replaced by fallback text",
			},
			[]string{"kind"},
		),
		interpretations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labopti_interpretations_total",
				Help: "Total number of lab result interpretations by outcome",
			},
			[]string{"outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.decisions, m.degraded, m.interpretations)
	}
	return m
}

func (m *Metrics) decision(k Kind) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(k)).Inc()
}

func (m *Metrics) narrativeDegraded(kind string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(kind).Inc()
}

func (m *Metrics) interpretation(o Outcome) {
	if m == nil {
		return
	}
	m.interpretations.WithLabelValues(string(o)).Inc()
}
