package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики оформления заказов и компенсаций.
// Все методы безопасны для nil-получателя.
type SagaMetrics struct {
	// Исходы оформления: kind = single|checkout, outcome = placed|rejected|failed
	placements *prometheus.CounterVec
	// Причины отказа (sold_out, not_sellable, ...)
	rejections *prometheus.CounterVec
	// Компенсации по источнику (saga, cancel, payment, timeout, return)
	compensations *prometheus.CounterVec
	paymentStatus *prometheus.CounterVec

	sagaDuration *prometheus.HistogramVec
	stepDuration *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	activeSagas prometheus.Gauge
}

// NewSagaMetrics регистрирует метрики в DefaultRegisterer.
func NewSagaMetrics() *SagaMetrics {
	return NewSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSagaMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		placements: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_order_placements_total",
			Help: "Order placement attempts by kind and outcome",
		}, []string{"kind", "outcome"}),
		rejections: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_order_rejections_total",
			Help: "Rejected order placements by reason",
		}, []string{"reason"}),
		compensations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_stock_compensations_total",
			Help: "Stock compensations applied, by source",
		}, []string{"source"}),
		paymentStatus: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_payment_transitions_total",
			Help: "Payment status transitions by target status",
		}, []string{"status"}),
		sagaDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_order_placement_duration_seconds",
			Help:    "Duration of order placement in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_saga_step_duration_seconds",
			Help:    "Duration of individual saga steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_events_total",
			Help: "Total number of events written to the outbox",
		}),
		activeSagas: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_active_sagas",
			Help: "Number of order placements in progress",
		}),
	}
}

// RecordSagaStarted отмечает начало оформления.
func (m *SagaMetrics) RecordSagaStarted() {
	if m == nil {
		return
	}
	m.activeSagas.Inc()
}

// RecordSagaFinished закрывает оформление с исходом outcome.
func (m *SagaMetrics) RecordSagaFinished(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.activeSagas.Dec()
	m.placements.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
	m.sagaDuration.WithLabelValues(normalizeLabel(kind)).Observe(duration.Seconds())
}

// RecordRejection увеличивает счётчик отказов по причине.
func (m *SagaMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(reason)).Inc()
}

// RecordCompensation увеличивает счётчик возвратов остатка.
func (m *SagaMetrics) RecordCompensation(source string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(normalizeLabel(source)).Inc()
}

// RecordPaymentStatus учитывает переход платежа.
func (m *SagaMetrics) RecordPaymentStatus(status string) {
	if m == nil {
		return
	}
	m.paymentStatus.WithLabelValues(normalizeLabel(status)).Inc()
}

// RecordStepDuration записывает время выполнения шага саги.
func (m *SagaMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(normalizeLabel(step)).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *SagaMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *SagaMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
