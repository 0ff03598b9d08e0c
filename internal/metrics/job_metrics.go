package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics собирает метрики фоновых задач (планировщик жизненного цикла, компенсатор таймаутов).
type JobMetrics struct {
	duration  *prometheus.HistogramVec
	success   *prometheus.CounterVec
	failure   *prometheus.CounterVec
	processed *prometheus.CounterVec
	skipped   *prometheus.CounterVec
}

// NewJobMetrics регистрирует метрики задач. nil registerer даёт no-op экземпляр.
func NewJobMetrics(registerer prometheus.Registerer) *JobMetrics {
	if registerer == nil {
		return &JobMetrics{}
	}
	return &JobMetrics{
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_job_duration_seconds",
			Help:    "Duration of background job runs in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		success: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_job_success_total",
			Help: "Background job runs finished without errors",
		}, []string{"job"}),
		failure: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_job_failure_total",
			Help: "Background job runs finished with errors",
		}, []string{"job"}),
		processed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_job_items_processed_total",
			Help: "Items processed by background jobs",
		}, []string{"job"}),
		skipped: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_job_runs_skipped_total",
			Help: "Runs skipped because a previous run was still in progress",
		}, []string{"job"}),
	}
}

// ObserveRun фиксирует длительность и исход одного запуска.
func (m *JobMetrics) ObserveRun(job string, duration time.Duration, err error) {
	if m == nil || m.duration == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.failure.WithLabelValues(job).Inc()
		return
	}
	m.success.WithLabelValues(job).Inc()
}

// AddProcessed увеличивает число обработанных элементов.
func (m *JobMetrics) AddProcessed(job string, n int) {
	if m == nil || m.processed == nil || n <= 0 {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(job)).Add(float64(n))
}

// IncSkipped отмечает пропущенный из-за перекрытия запуск.
func (m *JobMetrics) IncSkipped(job string) {
	if m == nil || m.skipped == nil {
		return
	}
	m.skipped.WithLabelValues(normalizeLabel(job)).Inc()
}
