package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/metrics"
)

// Emitter пишет событие в outbox и timeline. Ошибка записи возвращается вызывающему,
// чтобы транзакция изменения состояния откатилась вместе с событием.
type Emitter struct {
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.SagaMetrics
	logger   *log.Entry
}

// NewEmitter создаёт emitter. timeline и metrics необязательны.
func NewEmitter(outbox domain.OutboxRepository, timeline domain.TimelineRepository, m *metrics.SagaMetrics, logger *log.Entry) *Emitter {
	if logger == nil {
		logger = log.New().WithField("component", "events")
	}
	return &Emitter{outbox: outbox, timeline: timeline, metrics: m, logger: logger}
}

// EmitOrderCreated публикует OrderCreated с намерением инициировать оплату.
func (e *Emitter) EmitOrderCreated(ctx context.Context, order domain.Order, payment domain.Payment) error {
	items := make([]ItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, ItemPayload{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			Price:     item.Price.StringFixed(2),
		})
	}
	payload := OrderCreatedPayload{
		OrderID:     order.ID,
		OwnerID:     order.OwnerID,
		PaymentID:   payment.ID,
		TotalAmount: order.TotalAmount.StringFixed(2),
		Intent:      IntentInitiatePayment,
		Items:       items,
		Timestamp:   order.CreatedAt.UTC(),
	}
	return e.emit(ctx, order.ID, OrderCreated, "", payload.Timestamp, payload)
}

// EmitStatusChanged публикует смену статуса. Переход в CANCELED публикуется как OrderCanceled.
func (e *Emitter) EmitStatusChanged(ctx context.Context, order domain.Order, from domain.OrderStatus, reason string) error {
	eventType := OrderStatusChanged
	if order.Status == domain.OrderStatusCanceled {
		eventType = OrderCanceled
	}
	payload := StatusChangedPayload{
		OrderID:   order.ID,
		From:      string(from),
		To:        string(order.Status),
		Reason:    reason,
		Timestamp: order.UpdatedAt.UTC(),
	}
	return e.emit(ctx, order.ID, eventType, reason, payload.Timestamp, payload)
}

// EmitPaymentStatusChanged публикует переход платежа.
func (e *Emitter) EmitPaymentStatusChanged(ctx context.Context, payment domain.Payment, from domain.PaymentStatus, reason string) error {
	payload := PaymentStatusPayload{
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		From:      string(from),
		To:        string(payment.Status),
		Reason:    reason,
		Timestamp: payment.UpdatedAt.UTC(),
	}
	return e.emit(ctx, payment.OrderID, PaymentStatusChanged, reason, payload.Timestamp, payload)
}

func (e *Emitter) emit(ctx context.Context, orderID int64, eventType, reason string, occurred time.Time, payload any) error {
	if e == nil {
		return nil
	}
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	msg := domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: AggregateOrder,
		AggregateID:   strconv.FormatInt(orderID, 10),
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     occurred,
	}
	if _, err := e.outbox.Enqueue(ctx, msg); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	e.metrics.RecordOutboxEvent()

	if e.timeline == nil {
		return nil
	}
	event := domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: occurred,
	}
	if err := e.timeline.Append(ctx, event); err != nil {
		return fmt.Errorf("append timeline %s: %w", eventType, err)
	}
	e.metrics.RecordTimelineEvent()
	return nil
}
