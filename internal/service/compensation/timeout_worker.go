package compensation

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/metrics"
)

const (
	defaultTimeoutInterval  = 5 * time.Minute
	defaultTimeoutThreshold = 5 * time.Minute
	defaultTimeoutBatchSize = 100

	timeoutJobName = "payment_timeout"
)

// TimeoutOptions задаёт параметры компенсатора зависших платежей.
type TimeoutOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	Threshold time.Duration
	BatchSize int
	Metrics   *metrics.JobMetrics
}

// TimeoutOption настраивает TimeoutWorker.
type TimeoutOption func(*TimeoutOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) TimeoutOption {
	return func(opts *TimeoutOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между запусками.
func WithInterval(interval time.Duration) TimeoutOption {
	return func(opts *TimeoutOptions) {
		opts.Interval = interval
	}
}

// WithThreshold задаёт, сколько платёж может не менять статус.
func WithThreshold(threshold time.Duration) TimeoutOption {
	return func(opts *TimeoutOptions) {
		opts.Threshold = threshold
	}
}

// WithBatchSize задаёт размер страницы выборки.
func WithBatchSize(batchSize int) TimeoutOption {
	return func(opts *TimeoutOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMetrics подключает метрики задачи.
func WithMetrics(m *metrics.JobMetrics) TimeoutOption {
	return func(opts *TimeoutOptions) {
		opts.Metrics = m
	}
}

// TimeoutResult — итог одного прохода.
type TimeoutResult struct {
	Compensated int
	Skipped     int
	Failed      int
}

// TimeoutWorker отменяет платежи, зависшие в PENDING/PROCESSING, и возвращает остаток.
// Каждый платёж обрабатывается в своей транзакции; ошибка по одному не останавливает проход.
type TimeoutWorker struct {
	payments  domain.PaymentRepository
	restocker *Restocker
	logger    *log.Entry
	metrics   *metrics.JobMetrics
	interval  time.Duration
	threshold time.Duration
	batchSize int
	running   atomic.Bool
	now       func() time.Time
}

// NewTimeoutWorker создаёт компенсатор таймаутов оплаты.
func NewTimeoutWorker(payments domain.PaymentRepository, restocker *Restocker, options ...TimeoutOption) *TimeoutWorker {
	opts := TimeoutOptions{
		Interval:  defaultTimeoutInterval,
		Threshold: defaultTimeoutThreshold,
		BatchSize: defaultTimeoutBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "payment-timeout-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultTimeoutInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = defaultTimeoutThreshold
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultTimeoutBatchSize
	}

	return &TimeoutWorker{
		payments:  payments,
		restocker: restocker,
		logger:    logger,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		threshold: opts.Threshold,
		batchSize: opts.BatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run запускает проходы с фиксированной частотой до отмены ctx.
func (w *TimeoutWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *TimeoutWorker) tick(ctx context.Context) {
	started := time.Now()
	res, err := w.RunOnce(ctx)
	if errors.Is(err, domain.ErrJobAlreadyRunning) {
		w.metrics.IncSkipped(timeoutJobName)
		w.logger.Warn("previous payment timeout run is still in progress, skipping")
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	w.metrics.ObserveRun(timeoutJobName, time.Since(started), err)
	w.metrics.AddProcessed(timeoutJobName, res.Compensated)
	if err != nil {
		w.logger.WithError(err).Warn("payment timeout run failed")
		return
	}
	if res.Compensated > 0 || res.Failed > 0 {
		w.logger.WithFields(log.Fields{
			"compensated": res.Compensated,
			"skipped":     res.Skipped,
			"failed":      res.Failed,
		}).Info("payment timeout run completed")
	}
}

// RunOnce выполняет один проход. Параллельный вызов получает domain.ErrJobAlreadyRunning.
func (w *TimeoutWorker) RunOnce(ctx context.Context) (TimeoutResult, error) {
	if !w.running.CompareAndSwap(false, true) {
		return TimeoutResult{}, domain.ErrJobAlreadyRunning
	}
	defer w.running.Store(false)

	var res TimeoutResult
	query := domain.StalePaymentQuery{
		Statuses:      domain.InFlightPaymentStatuses,
		UpdatedBefore: w.now().Add(-w.threshold),
		Limit:         w.batchSize,
	}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batch, err := w.payments.FindStale(ctx, query)
		if err != nil {
			return res, err
		}
		for _, payment := range batch {
			switch err := w.compensate(ctx, payment); {
			case err == nil:
				res.Compensated++
			case errors.Is(err, domain.ErrCompensationSkipped):
				res.Skipped++
			default:
				res.Failed++
				w.logger.WithError(err).WithFields(log.Fields{
					"payment_id": payment.ID,
					"order_id":   payment.OrderID,
				}).Error("payment timeout compensation failed")
			}
		}
		if len(batch) < w.batchSize {
			return res, nil
		}
		query.AfterID = batch[len(batch)-1].ID
	}
}

// compensate отменяет платёж и заказ одной транзакцией. CAS по статусу платежа
// гарантирует, что параллельная оплата или повторный проход не вернут остаток дважды.
func (w *TimeoutWorker) compensate(ctx context.Context, payment domain.Payment) error {
	guard := func(ctx context.Context) error {
		ok, err := w.payments.CompareAndSetStatus(ctx, payment.ID, payment.Status, domain.PaymentStatusCanceled, w.now())
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrCompensationSkipped
		}
		return nil
	}
	_, err := w.restocker.CancelOrder(ctx, CancelRequest{
		OrderID:            payment.OrderID,
		Reason:             "payment timeout",
		Source:             SourceTimeout,
		Guard:              guard,
		AllowNotCancelable: true,
	})
	return err
}
