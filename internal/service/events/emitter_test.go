package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/memory"
)

func sampleOrder(t *testing.T) domain.Order {
	t.Helper()
	variant := domain.ProductVariant{ID: 3, Name: "Hoodie", Price: decimal.RequireFromString("19.90"), Stock: 5, Visible: true}
	snap, err := domain.NewSnapshot(variant, 2)
	require.NoError(t, err)
	order, err := domain.NewOrder(11, []domain.OrderProductSnapshot{snap}, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	order.ID = 42
	return order
}

func TestEmitOrderCreated(t *testing.T) {
	ctx := context.Background()
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()
	emitter := NewEmitter(outbox, timeline, nil, nil)

	order := sampleOrder(t)
	payment := domain.NewPendingPayment(order.ID, order.TotalAmount, order.CreatedAt)
	payment.ID = 7

	require.NoError(t, emitter.EmitOrderCreated(ctx, order, payment))

	pending := outbox.AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, OrderCreated, pending[0].EventType)
	assert.Equal(t, "42", pending[0].AggregateID)
	assert.Equal(t, AggregateOrder, pending[0].AggregateType)

	var payload OrderCreatedPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, IntentInitiatePayment, payload.Intent)
	assert.Equal(t, int64(7), payload.PaymentID)
	assert.Equal(t, "39.80", payload.TotalAmount)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, int64(2), payload.Items[0].Quantity)

	events, err := timeline.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, OrderCreated, events[0].Type)
}

func TestEmitStatusChangedUsesCanceledType(t *testing.T) {
	ctx := context.Background()
	outbox := memory.NewOutboxRepository()
	emitter := NewEmitter(outbox, nil, nil, nil)

	order := sampleOrder(t)
	require.NoError(t, order.CancelBySystem(order.CreatedAt.Add(time.Minute)))
	require.NoError(t, emitter.EmitStatusChanged(ctx, order, domain.OrderStatusOrdered, "payment timeout"))

	pending := outbox.AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, OrderCanceled, pending[0].EventType)

	var payload StatusChangedPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, "ORDERED", payload.From)
	assert.Equal(t, "CANCELED", payload.To)
	assert.Equal(t, "payment timeout", payload.Reason)
}

type failingOutbox struct {
	domain.OutboxRepository
}

func (failingOutbox) Enqueue(context.Context, domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errors.New("disk full")
}

func TestEmitReturnsOutboxError(t *testing.T) {
	timeline := memory.NewTimelineRepository()
	emitter := NewEmitter(failingOutbox{}, timeline, nil, nil)

	payment := domain.NewPendingPayment(1, decimal.NewFromInt(1), time.Now())
	payment.Status = domain.PaymentStatusCompleted
	err := emitter.EmitPaymentStatusChanged(context.Background(), payment, domain.PaymentStatusProcessing, "")
	require.Error(t, err)

	events, err := timeline.List(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, events, "timeline must not be written when outbox fails")
}

func TestEmitInsideRolledBackTxLeavesNothing(t *testing.T) {
	store := memory.NewStore()
	emitter := NewEmitter(store.Outbox, store.Timeline, nil, nil)
	order := sampleOrder(t)

	err := store.Tx.WithinTx(context.Background(), func(ctx context.Context) error {
		require.NoError(t, emitter.EmitStatusChanged(ctx, order, domain.OrderStatusOrdered, ""))
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Empty(t, store.Outbox.AllPending())
}
