// Package lifecycle продвигает заказы по статусам по расписанию:
// отгрузка, доставка, закрытие окна возврата и приём возвратов.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/metrics"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/compensation"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/events"
)

const (
	defaultInterval  = 50 * time.Minute
	defaultBatchSize = 100

	lockKey  = "lifecycle-scheduler"
	lockHold = 30 * time.Minute

	jobShip        = "lifecycle_ship"
	jobDeliver     = "lifecycle_deliver"
	jobCloseWindow = "lifecycle_close_return_window"
	jobReturns     = "lifecycle_returns"
)

// Thresholds — возраст заказа, после которого выполняется переход.
type Thresholds struct {
	// ShipAfter отсчитывается от создания заказа.
	ShipAfter time.Duration
	// DeliverAfter отсчитывается от создания заказа.
	DeliverAfter time.Duration
	// ReturnWindow отсчитывается от окончания доставки.
	ReturnWindow time.Duration
	// ReturnProcessAfter отсчитывается от запроса возврата.
	ReturnProcessAfter time.Duration
}

// DefaultThresholds возвращает пороги по умолчанию.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ShipAfter:          24 * time.Hour,
		DeliverAfter:       48 * time.Hour,
		ReturnWindow:       24 * time.Hour,
		ReturnProcessAfter: 24 * time.Hour,
	}
}

// Options задаёт параметры планировщика.
type Options struct {
	Logger     *log.Entry
	Interval   time.Duration
	BatchSize  int
	Thresholds Thresholds
	Metrics    *metrics.JobMetrics
	// Locker не даёт запускам на разных экземплярах перекрываться.
	Locker domain.Locker
}

// Option настраивает Scheduler.
type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

func WithInterval(interval time.Duration) Option {
	return func(opts *Options) { opts.Interval = interval }
}

func WithBatchSize(batchSize int) Option {
	return func(opts *Options) { opts.BatchSize = batchSize }
}

func WithThresholds(t Thresholds) Option {
	return func(opts *Options) { opts.Thresholds = t }
}

func WithMetrics(m *metrics.JobMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

func WithLocker(locker domain.Locker) Option {
	return func(opts *Options) { opts.Locker = locker }
}

// Report — итог одного запуска.
type Report struct {
	Shipped       int
	Delivered     int
	WindowsClosed int
	Returned      int
	Failed        int
}

// Scheduler выполняет четыре курсорных прохода. Приём возвратов независим от остальных:
// ошибка одного прохода не останавливает и не откатывает другие.
type Scheduler struct {
	tx        domain.Transactor
	orders    domain.OrderRepository
	restocker *compensation.Restocker
	emitter   *events.Emitter
	opts      Options
	logger    *log.Entry
	running   atomic.Bool
	now       func() time.Time
}

// NewScheduler создаёт планировщик жизненного цикла.
func NewScheduler(tx domain.Transactor, orders domain.OrderRepository, restocker *compensation.Restocker, emitter *events.Emitter, options ...Option) *Scheduler {
	opts := Options{
		Interval:   defaultInterval,
		BatchSize:  defaultBatchSize,
		Thresholds: DefaultThresholds(),
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	def := DefaultThresholds()
	if opts.Thresholds.ShipAfter <= 0 {
		opts.Thresholds.ShipAfter = def.ShipAfter
	}
	if opts.Thresholds.DeliverAfter <= 0 {
		opts.Thresholds.DeliverAfter = def.DeliverAfter
	}
	if opts.Thresholds.ReturnWindow <= 0 {
		opts.Thresholds.ReturnWindow = def.ReturnWindow
	}
	if opts.Thresholds.ReturnProcessAfter <= 0 {
		opts.Thresholds.ReturnProcessAfter = def.ReturnProcessAfter
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "lifecycle-scheduler")
	}
	return &Scheduler{
		tx:        tx,
		orders:    orders,
		restocker: restocker,
		emitter:   emitter,
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run запускает проходы с интервалом до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.RunOnce(ctx)
			switch {
			case errors.Is(err, domain.ErrJobAlreadyRunning):
				s.logger.Warn("previous lifecycle run is still in progress, skipping")
			case errors.Is(err, context.Canceled):
				return
			case err != nil:
				s.logger.WithError(err).Warn("lifecycle run finished with errors")
			default:
				s.logger.WithFields(log.Fields{
					"shipped":        report.Shipped,
					"delivered":      report.Delivered,
					"windows_closed": report.WindowsClosed,
					"returned":       report.Returned,
					"failed":         report.Failed,
				}).Info("lifecycle run completed")
			}
		}
	}
}

// RunOnce выполняет все четыре прохода. Пока идёт запуск, повторный вызов
// получает domain.ErrJobAlreadyRunning.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.opts.Metrics.IncSkipped(jobShip)
		return Report{}, domain.ErrJobAlreadyRunning
	}
	defer s.running.Store(false)

	if s.opts.Locker != nil {
		unlock, ok, err := s.opts.Locker.TryLock(ctx, lockKey, lockHold)
		if err != nil {
			return Report{}, fmt.Errorf("lifecycle lock: %w", err)
		}
		if !ok {
			s.opts.Metrics.IncSkipped(jobShip)
			return Report{}, domain.ErrJobAlreadyRunning
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.WithError(err).Warn("lifecycle lock release failed")
			}
		}()
	}

	var report Report
	now := s.now()
	t := s.opts.Thresholds

	var forwardErr error
	shipped, failed, err := s.sweep(ctx, jobShip, domain.OrderBatchQuery{
		Status:    domain.OrderStatusOrdered,
		DateField: domain.OrderDateCreated,
		Before:    now.Add(-t.ShipAfter),
	}, s.transition(func(o *domain.Order, at time.Time) error { return o.StartShipping(at) }, "shipping started", true))
	report.Shipped, report.Failed = shipped, report.Failed+failed
	forwardErr = multierr.Append(forwardErr, err)

	delivered, failed, err := s.sweep(ctx, jobDeliver, domain.OrderBatchQuery{
		Status:    domain.OrderStatusShipping,
		DateField: domain.OrderDateCreated,
		Before:    now.Add(-t.DeliverAfter),
	}, s.transition(func(o *domain.Order, at time.Time) error { return o.Deliver(at) }, "delivered", true))
	report.Delivered, report.Failed = delivered, report.Failed+failed
	forwardErr = multierr.Append(forwardErr, err)

	closed, failed, err := s.sweep(ctx, jobCloseWindow, domain.OrderBatchQuery{
		Status:         domain.OrderStatusDelivered,
		DateField:      domain.OrderDateDeliveryEnd,
		Before:         now.Add(-t.ReturnWindow),
		OnlyReturnable: true,
	}, s.transition(func(o *domain.Order, at time.Time) error { return o.CloseReturnWindow(at) }, "", false))
	report.WindowsClosed, report.Failed = closed, report.Failed+failed
	forwardErr = multierr.Append(forwardErr, err)

	returned, failed, returnsErr := s.sweep(ctx, jobReturns, domain.OrderBatchQuery{
		Status:    domain.OrderStatusReturnRequest,
		DateField: domain.OrderDateReturnRequested,
		Before:    now.Add(-t.ReturnProcessAfter),
	}, func(ctx context.Context, order domain.Order) error {
		_, err := s.restocker.CompleteReturn(ctx, order.ID)
		return err
	})
	report.Returned, report.Failed = returned, report.Failed+failed

	return report, multierr.Combine(forwardErr, returnsErr)
}

// transition возвращает обработчик, применяющий mutate в отдельной транзакции.
func (s *Scheduler) transition(mutate func(*domain.Order, time.Time) error, reason string, emit bool) func(context.Context, domain.Order) error {
	return func(ctx context.Context, order domain.Order) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			from := order.Status
			if err := mutate(&order, s.now()); err != nil {
				return err
			}
			if err := s.orders.Save(ctx, order); err != nil {
				return err
			}
			if !emit {
				return nil
			}
			order.Version++
			return s.emitter.EmitStatusChanged(ctx, order, from, reason)
		})
	}
}

// sweep проходит выборку страницами по возрастанию id. Ошибка по заказу логируется,
// курсор сдвигается дальше; заказ будет выбран снова в следующем запуске.
func (s *Scheduler) sweep(ctx context.Context, job string, query domain.OrderBatchQuery, apply func(context.Context, domain.Order) error) (done, failed int, err error) {
	started := time.Now()
	defer func() {
		s.opts.Metrics.ObserveRun(job, time.Since(started), err)
		s.opts.Metrics.AddProcessed(job, done)
	}()

	query.Limit = s.opts.BatchSize
	for {
		if err := ctx.Err(); err != nil {
			return done, failed, err
		}
		batch, err := s.orders.FindBatch(ctx, query)
		if err != nil {
			return done, failed, fmt.Errorf("%s: %w", job, err)
		}
		if len(batch) == 0 {
			return done, failed, nil
		}
		for _, order := range batch {
			if err := apply(ctx, order); err != nil {
				failed++
				s.logger.WithError(err).WithFields(log.Fields{
					"job":      job,
					"order_id": order.ID,
				}).Error("lifecycle transition failed")
				continue
			}
			done++
		}
		query.AfterID = batch[len(batch)-1].ID
	}
}
