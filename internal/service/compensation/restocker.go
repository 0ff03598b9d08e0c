// Package compensation возвращает списанный остаток при отмене, возврате
// и истечении времени оплаты.
package compensation

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/vladislavdragonenkov/shopsaga/internal/client"
	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/metrics"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/events"
)

// Источники компенсации для метрик и логов.
const (
	SourceSaga    = "saga"
	SourceCancel  = "cancel"
	SourcePayment = "payment"
	SourceTimeout = "timeout"
	SourceReturn  = "return"
)

// StockLine — сколько единиц варианта вернуть.
type StockLine struct {
	VariantID int64
	Quantity  int64
}

// LinesFromOrder собирает строки возврата из снимков заказа.
func LinesFromOrder(order domain.Order) []StockLine {
	lines := make([]StockLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, StockLine{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return lines
}

// CancelRequest описывает отмену заказа с возвратом остатка.
type CancelRequest struct {
	OrderID int64
	// OwnerID — владелец, отменяющий заказ. 0 означает системную отмену.
	OwnerID int64
	Reason  string
	Source  string
	// Guard выполняется первым в транзакции. domain.ErrCompensationSkipped означает,
	// что компенсацию уже выполнил другой участник.
	Guard func(ctx context.Context) error
	// AllowNotCancelable фиксирует Guard даже если заказ уже нельзя отменить;
	// остаток при этом не возвращается.
	AllowNotCancelable bool
}

// Restocker применяет компенсации: переход заказа и возврат остатка в одной транзакции,
// затем синхронизация кеша резервов.
type Restocker struct {
	tx           domain.Transactor
	orders       domain.OrderRepository
	orderClient  client.OrderClient
	products     client.ProductClient
	reservations domain.ReservationCache
	emitter      *events.Emitter
	metrics      *metrics.SagaMetrics
	logger       *log.Entry
	now          func() time.Time
}

// RestockerDeps — зависимости Restocker. Reservations, Emitter и Metrics необязательны.
type RestockerDeps struct {
	Tx           domain.Transactor
	Orders       domain.OrderRepository
	OrderClient  client.OrderClient
	Products     client.ProductClient
	Reservations domain.ReservationCache
	Emitter      *events.Emitter
	Metrics      *metrics.SagaMetrics
	Logger       *log.Entry
}

// NewRestocker собирает Restocker.
func NewRestocker(deps RestockerDeps) *Restocker {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "restocker")
	}
	orderClient := deps.OrderClient
	if orderClient == nil {
		orderClient = client.NewLocalOrderClient(deps.Orders)
	}
	return &Restocker{
		tx:           deps.Tx,
		orders:       deps.Orders,
		orderClient:  orderClient,
		products:     deps.Products,
		reservations: deps.Reservations,
		emitter:      deps.Emitter,
		metrics:      deps.Metrics,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CancelOrder отменяет заказ и возвращает остаток по его снимкам.
func (r *Restocker) CancelOrder(ctx context.Context, req CancelRequest) (domain.Order, error) {
	var (
		canceled domain.Order
		restock  bool
	)
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		if req.Guard != nil {
			if err := req.Guard(ctx); err != nil {
				return err
			}
		}

		order, err := r.orderClient.GetOrderDetails(ctx, req.OrderID)
		if err != nil {
			return fmt.Errorf("load order %d: %w", req.OrderID, err)
		}
		from := order.Status
		now := r.now()

		if req.OwnerID != 0 {
			err = order.Cancel(req.OwnerID, now)
		} else {
			err = order.CancelBySystem(now)
		}
		if err != nil {
			if req.AllowNotCancelable && errors.Is(err, domain.ErrOrderNotCancelable) {
				r.logger.WithFields(log.Fields{
					"order_id": order.ID,
					"status":   order.Status,
					"source":   req.Source,
				}).Warn("order is no longer cancelable, stock is left as is")
				canceled = order
				return nil
			}
			return err
		}

		if err := r.orders.Save(ctx, order); err != nil {
			return fmt.Errorf("save order %d: %w", order.ID, err)
		}
		order.Version++

		if err := r.restockLedger(ctx, LinesFromOrder(order)); err != nil {
			return err
		}
		if err := r.emitter.EmitStatusChanged(ctx, order, from, req.Reason); err != nil {
			return err
		}
		canceled = order
		restock = true
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if restock {
		r.releaseCache(ctx, LinesFromOrder(canceled))
		r.metrics.RecordCompensation(req.Source)
		r.logger.WithFields(log.Fields{
			"order_id": canceled.ID,
			"source":   req.Source,
			"reason":   req.Reason,
		}).Info("order canceled, stock restored")
	}
	return canceled, nil
}

// CompleteReturn завершает возврат заказа в статусе RETURN_REQUEST и восстанавливает остаток.
func (r *Restocker) CompleteReturn(ctx context.Context, orderID int64) (domain.Order, error) {
	var returned domain.Order
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := r.orderClient.GetOrderDetails(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load order %d: %w", orderID, err)
		}
		from := order.Status
		if err := order.CompleteReturn(r.now()); err != nil {
			return err
		}
		if err := r.orders.Save(ctx, order); err != nil {
			return fmt.Errorf("save order %d: %w", order.ID, err)
		}
		order.Version++

		if err := r.restockLedger(ctx, LinesFromOrder(order)); err != nil {
			return err
		}
		if err := r.emitter.EmitStatusChanged(ctx, order, from, "return accepted"); err != nil {
			return err
		}
		returned = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	r.releaseCache(ctx, LinesFromOrder(returned))
	r.metrics.RecordCompensation(SourceReturn)
	return returned, nil
}

// RestockLines возвращает остаток вне заказа (откат шагов саги). Строки обрабатываются
// в переданном порядке; ошибки по отдельным строкам не прерывают остальные.
func (r *Restocker) RestockLines(ctx context.Context, lines []StockLine, source string) error {
	var errs error
	restored := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		if err := r.incrementLedger(ctx, line); err != nil {
			r.logger.WithError(err).WithFields(log.Fields{
				"variant_id": line.VariantID,
				"quantity":   line.Quantity,
				"source":     source,
			}).Error("stock compensation failed")
			errs = multierr.Append(errs, err)
			continue
		}
		restored = append(restored, line)
	}
	r.releaseCache(ctx, restored)
	if len(restored) > 0 {
		r.metrics.RecordCompensation(source)
	}
	return errs
}

func (r *Restocker) restockLedger(ctx context.Context, lines []StockLine) error {
	for _, line := range lines {
		if err := r.incrementLedger(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

func (r *Restocker) incrementLedger(ctx context.Context, line StockLine) error {
	ok, err := r.products.UpdateStock(ctx, line.VariantID, line.Quantity)
	if err != nil {
		return fmt.Errorf("restock variant %d: %w", line.VariantID, err)
	}
	if !ok {
		return fmt.Errorf("restock variant %d: %w", line.VariantID, domain.ErrVariantNotFound)
	}
	return nil
}

// releaseCache зеркалит возврат в кеш резервов. Заниженный из-за ошибки счётчик
// поднимется по учёту при следующем отказе Reserve, поэтому ошибка только логируется.
func (r *Restocker) releaseCache(ctx context.Context, lines []StockLine) {
	if r.reservations == nil {
		return
	}
	for _, line := range lines {
		if err := r.reservations.Restock(ctx, line.VariantID, line.Quantity); err != nil {
			r.logger.WithError(err).WithField("variant_id", line.VariantID).Warn("reservation cache release failed")
		}
	}
}
