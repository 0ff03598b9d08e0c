// Package payment ведёт платёж заказа: создание, симуляция оплаты и компенсация
// при отказе покупателя или провайдера.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/client"
	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/metrics"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/compensation"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/events"
)

// DefaultFailureRate — вероятность срабатывания каждого из шлюзов по умолчанию.
const DefaultFailureRate = 0.2

// Gate решает, сработал ли сбой на этапе оплаты.
type Gate func() bool

// RandomGate срабатывает с вероятностью rate.
func RandomGate(rate float64) Gate {
	return func() bool { return rand.Float64() < rate }
}

// Never и Always удобны в тестах и для отключения симуляции.
func Never() bool  { return false }
func Always() bool { return true }

// Gates задаёт точки симуляции: покупатель бросил оплату, провайдер отклонил оплату.
type Gates struct {
	DropOff Gate
	Fail    Gate
}

// StatusCache кеширует итог оплаты заказа.
type StatusCache interface {
	Set(ctx context.Context, orderID int64, status domain.PaymentStatus) error
	Get(ctx context.Context, orderID int64) (domain.PaymentStatus, bool, error)
}

// Deps — зависимости Processor.
type Deps struct {
	Tx          domain.Transactor
	Payments    domain.PaymentRepository
	OrderClient client.OrderClient
	Restocker   *compensation.Restocker
	Emitter     *events.Emitter
	StatusCache StatusCache
	Gates       Gates
	Metrics     *metrics.SagaMetrics
	Logger      *log.Entry
}

// Processor реализует Initiate/Process.
type Processor struct {
	tx          domain.Transactor
	payments    domain.PaymentRepository
	orderClient client.OrderClient
	restocker   *compensation.Restocker
	emitter     *events.Emitter
	statusCache StatusCache
	gates       Gates
	metrics     *metrics.SagaMetrics
	logger      *log.Entry
	now         func() time.Time
}

// NewProcessor собирает Processor. Незаданные шлюзы получают RandomGate(DefaultFailureRate).
func NewProcessor(deps Deps) *Processor {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "payment-processor")
	}
	gates := deps.Gates
	if gates.DropOff == nil {
		gates.DropOff = RandomGate(DefaultFailureRate)
	}
	if gates.Fail == nil {
		gates.Fail = RandomGate(DefaultFailureRate)
	}
	return &Processor{
		tx:          deps.Tx,
		payments:    deps.Payments,
		orderClient: deps.OrderClient,
		restocker:   deps.Restocker,
		emitter:     deps.Emitter,
		statusCache: deps.StatusCache,
		gates:       gates,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Initiate возвращает платёж заказа, создавая PENDING при первом вызове.
// Повторные и конкурентные вызовы получают тот же платёж.
func (p *Processor) Initiate(ctx context.Context, orderID int64) (domain.Payment, error) {
	existing, err := p.payments.GetByOrder(ctx, orderID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrPaymentNotFound) {
		return domain.Payment{}, err
	}

	order, err := p.orderClient.GetOrderDetails(ctx, orderID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("load order %d: %w", orderID, err)
	}
	return p.InitiateFor(ctx, order)
}

// InitiateFor создаёт платёж для уже загруженного заказа.
func (p *Processor) InitiateFor(ctx context.Context, order domain.Order) (domain.Payment, error) {
	created, err := p.payments.Create(ctx, domain.NewPendingPayment(order.ID, order.TotalAmount, p.now()))
	if errors.Is(err, domain.ErrPaymentExists) {
		return p.payments.GetByOrder(ctx, order.ID)
	}
	if err != nil {
		return domain.Payment{}, fmt.Errorf("create payment for order %d: %w", order.ID, err)
	}
	p.metrics.RecordPaymentStatus(string(created.Status))
	return created, nil
}

// Process проводит оплату PENDING-платежа. CANCELED и FAILED отменяют заказ
// и возвращают остаток в той же транзакции, что и смена статуса платежа.
func (p *Processor) Process(ctx context.Context, orderID int64) (domain.PaymentStatus, error) {
	payment, err := p.payments.GetByOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if payment.Status != domain.PaymentStatusPending {
		return payment.Status, fmt.Errorf("payment %d is %s: %w", payment.ID, payment.Status, domain.ErrPaymentStateInvalid)
	}

	logger := p.logger.WithFields(log.Fields{"order_id": orderID, "payment_id": payment.ID})

	if p.gates.DropOff() {
		if err := p.abort(ctx, payment, domain.PaymentStatusCanceled, "buyer abandoned payment"); err != nil {
			return "", err
		}
		logger.Info("payment canceled by buyer")
		return domain.PaymentStatusCanceled, nil
	}

	if err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		return p.transition(ctx, &payment, domain.PaymentStatusProcessing, "")
	}); err != nil {
		return "", err
	}
	p.afterTransition(ctx, orderID, domain.PaymentStatusProcessing)

	if p.gates.Fail() {
		if err := p.abort(ctx, payment, domain.PaymentStatusFailed, "payment declined"); err != nil {
			return "", err
		}
		logger.Warn("payment failed")
		return domain.PaymentStatusFailed, nil
	}

	if err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		return p.transition(ctx, &payment, domain.PaymentStatusCompleted, "")
	}); err != nil {
		return "", err
	}
	p.afterTransition(ctx, orderID, domain.PaymentStatusCompleted)
	logger.Info("payment completed")
	return domain.PaymentStatusCompleted, nil
}

// CancelInFlight отменяет незавершённый платёж заказа. Вызывается внутри транзакции
// отмены заказа владельцем. Отсутствующий или завершённый платёж не меняется.
func (p *Processor) CancelInFlight(ctx context.Context, orderID int64, reason string) error {
	payment, err := p.payments.GetByOrder(ctx, orderID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !payment.Status.IsInFlight() {
		return nil
	}
	if err := p.transition(ctx, &payment, domain.PaymentStatusCanceled, reason); err != nil {
		return err
	}
	p.metrics.RecordPaymentStatus(string(domain.PaymentStatusCanceled))
	return nil
}

// Status отдаёт статус оплаты: сначала из кеша, затем из хранилища.
func (p *Processor) Status(ctx context.Context, orderID int64) (domain.PaymentStatus, error) {
	if p.statusCache != nil {
		status, ok, err := p.statusCache.Get(ctx, orderID)
		if err != nil {
			p.logger.WithError(err).WithField("order_id", orderID).Warn("payment status cache read failed")
		} else if ok {
			return status, nil
		}
	}
	payment, err := p.payments.GetByOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	p.cacheStatus(ctx, orderID, payment.Status)
	return payment.Status, nil
}

// abort переводит платёж в терминальный статус и отменяет заказ с возвратом остатка.
func (p *Processor) abort(ctx context.Context, payment domain.Payment, to domain.PaymentStatus, reason string) error {
	guard := func(ctx context.Context) error {
		return p.transition(ctx, &payment, to, reason)
	}
	_, err := p.restocker.CancelOrder(ctx, compensation.CancelRequest{
		OrderID:            payment.OrderID,
		Reason:             reason,
		Source:             compensation.SourcePayment,
		Guard:              guard,
		AllowNotCancelable: true,
	})
	if err != nil {
		return err
	}
	p.afterTransition(ctx, payment.OrderID, to)
	return nil
}

func (p *Processor) transition(ctx context.Context, payment *domain.Payment, to domain.PaymentStatus, reason string) error {
	from := payment.Status
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("payment %d %s -> %s: %w", payment.ID, from, to, domain.ErrPaymentStateInvalid)
	}
	now := p.now()
	ok, err := p.payments.CompareAndSetStatus(ctx, payment.ID, from, to, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("payment %d changed concurrently: %w", payment.ID, domain.ErrPaymentStateInvalid)
	}
	payment.Status = to
	payment.UpdatedAt = now
	if to == domain.PaymentStatusCompleted {
		payment.CompletedAt = now
	}
	return p.emitter.EmitPaymentStatusChanged(ctx, *payment, from, reason)
}

func (p *Processor) afterTransition(ctx context.Context, orderID int64, status domain.PaymentStatus) {
	p.metrics.RecordPaymentStatus(string(status))
	p.cacheStatus(ctx, orderID, status)
}

// cacheStatus кеширует только итоговые статусы: промежуточный может смениться
// компенсатором таймаутов, который кеш не трогает.
func (p *Processor) cacheStatus(ctx context.Context, orderID int64, status domain.PaymentStatus) {
	if p.statusCache == nil || status.IsInFlight() {
		return
	}
	if err := p.statusCache.Set(ctx, orderID, status); err != nil {
		p.logger.WithError(err).WithField("order_id", orderID).Warn("payment status cache write failed")
	}
}
