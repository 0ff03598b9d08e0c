// Package saga оформляет заказы: списание остатка, создание заказа и платежа,
// компенсация списания при любом отказе после него.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/client"
	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/metrics"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/compensation"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/events"
)

const (
	kindSingle   = "single"
	kindCheckout = "checkout"
)

// PaymentInitiator создаёт платёж для нового заказа и отменяет незавершённый при отмене заказа.
type PaymentInitiator interface {
	InitiateFor(ctx context.Context, order domain.Order) (domain.Payment, error)
	CancelInFlight(ctx context.Context, orderID int64, reason string) error
}

// Line — позиция запроса на оформление.
type Line struct {
	VariantID int64
	Quantity  int64
}

// PlaceOrderRequest — оформление одного товара.
type PlaceOrderRequest struct {
	OwnerID   int64
	VariantID int64
	Quantity  int64
}

// CheckoutRequest — оформление корзины. Проходит целиком или не проходит вовсе.
type CheckoutRequest struct {
	OwnerID int64
	Lines   []Line
}

// Deps — зависимости оркестратора. Reservations, Carts, Emitter и Metrics необязательны.
type Deps struct {
	Tx           domain.Transactor
	Orders       domain.OrderRepository
	Products     client.ProductClient
	Reservations domain.ReservationCache
	Payments     PaymentInitiator
	Restocker    *compensation.Restocker
	Emitter      *events.Emitter
	Carts        domain.CartService
	Metrics      *metrics.SagaMetrics
	Logger       *log.Entry
}

// Orchestrator реализует оформление, отмену владельцем и запрос возврата.
type Orchestrator struct {
	tx           domain.Transactor
	orders       domain.OrderRepository
	products     client.ProductClient
	reservations domain.ReservationCache
	payments     PaymentInitiator
	restocker    *compensation.Restocker
	emitter      *events.Emitter
	carts        domain.CartService
	metrics      *metrics.SagaMetrics
	logger       *log.Entry
	now          func() time.Time
}

// NewOrchestrator создаёт оркестратор.
func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "saga")
	}
	return &Orchestrator{
		tx:           deps.Tx,
		orders:       deps.Orders,
		products:     deps.Products,
		reservations: deps.Reservations,
		payments:     deps.Payments,
		restocker:    deps.Restocker,
		emitter:      deps.Emitter,
		carts:        deps.Carts,
		metrics:      deps.Metrics,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder оформляет заказ на один вариант.
func (o *Orchestrator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.Order, error) {
	return o.place(ctx, kindSingle, req.OwnerID, []Line{{VariantID: req.VariantID, Quantity: req.Quantity}})
}

// Checkout оформляет корзину одним заказом. Повторяющиеся варианты складываются.
// После фиксации заказа купленные позиции убираются из корзины, затем корзина очищается;
// ошибки корзины не отменяют заказ.
func (o *Orchestrator) Checkout(ctx context.Context, req CheckoutRequest) (domain.Order, error) {
	lines, err := mergeLines(req.Lines)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := o.place(ctx, kindCheckout, req.OwnerID, lines)
	if err != nil {
		return domain.Order{}, err
	}
	o.cleanupCart(ctx, req.OwnerID, lines)
	return order, nil
}

// stockStep — что уже применено для позиции и подлежит откату.
type stockStep struct {
	line     Line
	reserved bool
	taken    bool
}

func (o *Orchestrator) place(ctx context.Context, kind string, ownerID int64, lines []Line) (order domain.Order, err error) {
	if len(lines) == 0 {
		return domain.Order{}, domain.ErrItemsRequired
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return domain.Order{}, domain.ErrInvalidQuantity
		}
	}

	start := time.Now()
	o.metrics.RecordSagaStarted()
	logger := o.logger.WithFields(log.Fields{"owner_id": ownerID, "kind": kind})

	steps := make([]stockStep, 0, len(lines))
	defer func() {
		outcome := "placed"
		if err != nil {
			outcome = "failed"
			if domain.IsBusinessError(err) {
				outcome = "rejected"
				o.metrics.RecordRejection(rejectionReason(err))
			}
			o.compensate(ctx, steps)
			logger.WithError(err).Info("order placement failed")
		}
		o.metrics.RecordSagaFinished(kind, outcome, time.Since(start))
	}()

	snapshots := make([]domain.OrderProductSnapshot, 0, len(lines))
	for _, line := range lines {
		snapshot, step, err := o.takeStock(ctx, line)
		if step.reserved || step.taken {
			steps = append(steps, step)
		}
		if err != nil {
			return domain.Order{}, err
		}
		snapshots = append(snapshots, snapshot)
	}

	persistStart := time.Now()
	err = o.tx.WithinTx(ctx, func(ctx context.Context) error {
		draft, err := domain.NewOrder(ownerID, snapshots, o.now())
		if err != nil {
			return err
		}
		created, err := o.orders.Create(ctx, draft)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		payment, err := o.payments.InitiateFor(ctx, created)
		if err != nil {
			return fmt.Errorf("initiate payment: %w", err)
		}
		if err := o.emitter.EmitOrderCreated(ctx, created, payment); err != nil {
			return err
		}
		order = created
		return nil
	})
	o.metrics.RecordStepDuration("persist", time.Since(persistStart))
	if err != nil {
		return domain.Order{}, err
	}

	logger.WithFields(log.Fields{
		"order_id": order.ID,
		"items":    len(order.Items),
		"total":    order.TotalAmount.StringFixed(2),
	}).Info("order placed")
	return order, nil
}

// takeStock проверяет вариант, резервирует его в кеше и списывает в учёте.
// Возвращённый step отражает уже применённые изменения даже при ошибке.
func (o *Orchestrator) takeStock(ctx context.Context, line Line) (domain.OrderProductSnapshot, stockStep, error) {
	step := stockStep{line: line}

	variant, err := o.products.GetVariant(ctx, line.VariantID)
	if err != nil {
		return domain.OrderProductSnapshot{}, step, err
	}
	if !variant.Sellable() {
		return domain.OrderProductSnapshot{}, step, domain.ErrNotSellable
	}
	// Предварительная проверка: окончательно решает условное списание ниже.
	if !variant.HasStock(line.Quantity) {
		return domain.OrderProductSnapshot{}, step, domain.ErrSoldOut
	}

	if o.reservations != nil {
		reserveStart := time.Now()
		ok, err := o.reservations.Reserve(ctx, line.VariantID, line.Quantity)
		o.metrics.RecordStepDuration("reserve", time.Since(reserveStart))
		if err != nil {
			return domain.OrderProductSnapshot{}, step, fmt.Errorf("%w: %v", domain.ErrReservationUnavailable, err)
		}
		if !ok {
			return domain.OrderProductSnapshot{}, step, domain.ErrSoldOut
		}
		step.reserved = true
	}

	decrementStart := time.Now()
	ok, err := o.products.DecrementStock(ctx, line.VariantID, line.Quantity)
	o.metrics.RecordStepDuration("decrement", time.Since(decrementStart))
	if err != nil {
		if !domain.IsBusinessError(err) && !errors.Is(err, domain.ErrCircuitOpen) {
			o.logger.WithError(err).WithFields(log.Fields{
				"variant_id": line.VariantID,
				"quantity":   line.Quantity,
			}).Warn("stock decrement outcome unknown, not compensated")
		}
		return domain.OrderProductSnapshot{}, step, err
	}
	if !ok {
		return domain.OrderProductSnapshot{}, step, domain.ErrStockDecrementFailed
	}
	step.taken = true
	if step.reserved {
		if err := o.reservations.Confirm(ctx, line.VariantID, line.Quantity); err != nil {
			o.logger.WithError(err).WithField("variant_id", line.VariantID).Warn("reservation confirm failed")
		}
	}

	snapshot, err := domain.NewSnapshot(variant, line.Quantity)
	if err != nil {
		return domain.OrderProductSnapshot{}, step, err
	}
	return snapshot, step, nil
}

// compensate откатывает применённые шаги в обратном порядке. Выполняется и при отменённом
// контексте запроса: списанный без заказа остаток иначе потерялся бы.
func (o *Orchestrator) compensate(ctx context.Context, steps []stockStep) {
	if len(steps) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	taken := make([]compensation.StockLine, 0, len(steps))
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		switch {
		case step.taken:
			taken = append(taken, compensation.StockLine{VariantID: step.line.VariantID, Quantity: step.line.Quantity})
		case step.reserved:
			if err := o.reservations.Release(ctx, step.line.VariantID, step.line.Quantity); err != nil {
				o.logger.WithError(err).WithField("variant_id", step.line.VariantID).Warn("reservation release failed")
			}
		}
	}
	if len(taken) == 0 {
		return
	}
	if err := o.restocker.RestockLines(ctx, taken, compensation.SourceSaga); err != nil {
		o.logger.WithError(err).Error("saga compensation incomplete")
	}
}

func (o *Orchestrator) cleanupCart(ctx context.Context, ownerID int64, lines []Line) {
	if o.carts == nil {
		return
	}
	for _, line := range lines {
		if err := o.carts.RemoveItem(ctx, ownerID, line.VariantID); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"owner_id":   ownerID,
				"variant_id": line.VariantID,
			}).Warn("remove cart item failed")
		}
	}
	if err := o.carts.Clear(ctx, ownerID); err != nil {
		o.logger.WithError(err).WithField("owner_id", ownerID).Warn("clear cart failed")
	}
}

// Cancel отменяет заказ владельцем: незавершённый платёж отменяется, остаток возвращается.
func (o *Orchestrator) Cancel(ctx context.Context, orderID, ownerID int64) (domain.Order, error) {
	if ownerID == 0 {
		return domain.Order{}, domain.ErrNotOrderOwner
	}
	return o.restocker.CancelOrder(ctx, compensation.CancelRequest{
		OrderID: orderID,
		OwnerID: ownerID,
		Reason:  "canceled by owner",
		Source:  compensation.SourceCancel,
		Guard: func(ctx context.Context) error {
			return o.payments.CancelInFlight(ctx, orderID, "order canceled by owner")
		},
	})
}

// RequestReturn переводит доставленный заказ в RETURN_REQUEST. Остаток вернёт планировщик.
func (o *Orchestrator) RequestReturn(ctx context.Context, orderID, ownerID int64) (domain.Order, error) {
	var updated domain.Order
	err := o.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := o.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		from := order.Status
		if err := order.RequestReturn(ownerID, o.now()); err != nil {
			return err
		}
		if err := o.orders.Save(ctx, order); err != nil {
			return err
		}
		order.Version++
		if err := o.emitter.EmitStatusChanged(ctx, order, from, "return requested"); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	o.logger.WithField("order_id", orderID).Info("return requested")
	return updated, nil
}

func mergeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, domain.ErrItemsRequired
	}
	merged := make([]Line, 0, len(lines))
	index := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		if i, ok := index[line.VariantID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.VariantID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrSoldOut):
		return "sold_out"
	case errors.Is(err, domain.ErrStockDecrementFailed):
		return "stock_decrement_failed"
	case errors.Is(err, domain.ErrNotSellable):
		return "not_sellable"
	case errors.Is(err, domain.ErrVariantNotFound):
		return "variant_not_found"
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrItemsRequired):
		return "invalid_request"
	default:
		return "other"
	}
}
