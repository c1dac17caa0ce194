// internal/pipeline/metrics.go
package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

// Metrics - счетчики и гистограмма исполнения свапов.
type Metrics struct {
	outcomes *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics создает метрики и регистрирует их в reg. nil reg означает
// метрики без регистрации.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solana_trader_swaps_total",
			Help: "Total number of swap attempts by direction and result",
		}, []string{"direction", "result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solana_trader_swap_failures_total",
			Help: "Failed swap attempts by pipeline stage",
		}, []string{"stage"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "solana_trader_swap_duration_seconds",
			Help:    "Swap duration from lock acquisition to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"direction"}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes, m.failures, m.duration)
	}
	return m
}

func (m *Metrics) track(direction domain.Direction, kind domain.OutcomeKind, stage string, start time.Time) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(direction), string(kind)).Inc()
	if kind == domain.OutcomeFailed {
		m.failures.WithLabelValues(stage).Inc()
	}
	m.duration.WithLabelValues(string(direction)).Observe(time.Since(start).Seconds())
}
