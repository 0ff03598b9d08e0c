package metrics

import "github.com/prometheus/client_golang/prometheus"

// BreakerMetrics экспортирует состояние circuit breaker: 0 closed, 1 open, 2 half-open.
type BreakerMetrics struct {
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

// NewBreakerMetrics регистрирует метрики breaker.
func NewBreakerMetrics(registerer prometheus.Registerer) *BreakerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &BreakerMetrics{
		state: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "shop_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"client"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		}, []string{"client", "state"}),
	}
}

// ObserveState записывает новое состояние клиента name.
func (m *BreakerMetrics) ObserveState(name string, state int, label string) {
	if m == nil {
		return
	}
	name = normalizeLabel(name)
	m.state.WithLabelValues(name).Set(float64(state))
	m.transitions.WithLabelValues(name, normalizeLabel(label)).Inc()
}
