package tokenpipe

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Refresh outcomes recorded by Metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeReused    = "reused"
	OutcomeTerminal  = "terminal"
	OutcomeTransient = "transient"
)

// Metrics holds the Prometheus counters of a pipeline.
type Metrics struct {
	Refreshes *prometheus.CounterVec
	Replays   *prometheus.CounterVec
	Logouts   *prometheus.CounterVec
}

// NewMetrics creates the pipeline counters and registers them with reg.
// A nil reg leaves them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenpipe_refresh_total",
			Help: "Refresh attempts by outcome (success, reused, terminal, transient)",
		}, []string{"outcome"}),
		Replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenpipe_replay_total",
			Help: "Requests replayed after a 401, by result of the replay",
		}, []string{"result"}),
		Logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenpipe_logout_total",
			Help: "Sessions destroyed by the pipeline, by reason",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Refreshes, m.Replays, m.Logouts)
	}
	return m
}

// RecordRefresh counts a refresh attempt with the given outcome
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(outcome).Inc()
}

// RecordReplay counts a replayed request
func (m *Metrics) RecordReplay(result string) {
	if m == nil {
		return
	}
	m.Replays.WithLabelValues(result).Inc()
}

// RecordLogout counts a destroyed session
func (m *Metrics) RecordLogout(reason string) {
	if m == nil {
		return
	}
	m.Logouts.WithLabelValues(reason).Inc()
}
