// internal/alerts/metrics.go
package alerts

import "github.com/prometheus/client_golang/prometheus"

// Metrics - счетчики проходов проверки оповещений.
type Metrics struct {
	passes   prometheus.Counter
	lookups  *prometheus.CounterVec
	triggers prometheus.Counter
}

// NewMetrics создает метрики и регистрирует их в reg, если он задан.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solana_trader_alert_passes_total",
			Help: "Alert evaluation passes with at least one pending alert",
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solana_trader_alert_price_lookups_total",
			Help: "Price lookups made by alert passes",
		}, []string{"result"}),
		triggers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solana_trader_alert_triggers_total",
			Help: "Alerts fired",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.passes, m.lookups, m.triggers)
	}
	return m
}

func (m *Metrics) observePass(lookups, failed, triggered int) {
	if m == nil {
		return
	}
	m.passes.Inc()
	m.lookups.WithLabelValues("ok").Add(float64(lookups - failed))
	m.lookups.WithLabelValues("failed").Add(float64(failed))
	m.triggers.Add(float64(triggered))
}
