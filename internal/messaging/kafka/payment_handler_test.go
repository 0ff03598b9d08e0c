package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/events"
)

type stubProcessor struct {
	mu     sync.Mutex
	orders []int64
	status domain.PaymentStatus
	err    error
}

func (s *stubProcessor) Process(_ context.Context, orderID int64) (domain.PaymentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, orderID)
	return s.status, s.err
}

func (s *stubProcessor) calls() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.orders...)
}

func envelopeMessage(t *testing.T, eventType string, payload any) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	value, err := json.Marshal(Envelope{ID: "m", AggregateType: events.AggregateOrder, EventType: eventType, Payload: raw})
	if err != nil {
		t.Fatal(err)
	}
	return &sarama.ConsumerMessage{Topic: TopicOrderEvents, Value: value}
}

func TestPaymentHandler(t *testing.T) {
	logger := log.WithField("test", "payment-handler")

	tests := []struct {
		name      string
		message   func(t *testing.T) *sarama.ConsumerMessage
		procErr   error
		wantCalls []int64
		wantErr   bool
	}{
		{
			name: "order created triggers payment",
			message: func(t *testing.T) *sarama.ConsumerMessage {
				return envelopeMessage(t, events.OrderCreated, events.OrderCreatedPayload{OrderID: 11, Intent: events.IntentInitiatePayment})
			},
			wantCalls: []int64{11},
		},
		{
			name: "other events are ignored",
			message: func(t *testing.T) *sarama.ConsumerMessage {
				return envelopeMessage(t, events.OrderStatusChanged, events.StatusChangedPayload{OrderID: 11})
			},
		},
		{
			name: "created without payment intent is ignored",
			message: func(t *testing.T) *sarama.ConsumerMessage {
				return envelopeMessage(t, events.OrderCreated, events.OrderCreatedPayload{OrderID: 12})
			},
		},
		{
			name: "redelivery of processed payment is acknowledged",
			message: func(t *testing.T) *sarama.ConsumerMessage {
				return envelopeMessage(t, events.OrderCreated, events.OrderCreatedPayload{OrderID: 13, Intent: events.IntentInitiatePayment})
			},
			procErr:   domain.ErrPaymentStateInvalid,
			wantCalls: []int64{13},
		},
		{
			name: "transient failure is returned for retry",
			message: func(t *testing.T) *sarama.ConsumerMessage {
				return envelopeMessage(t, events.OrderCreated, events.OrderCreatedPayload{OrderID: 14, Intent: events.IntentInitiatePayment})
			},
			procErr:   errors.New("db unavailable"),
			wantCalls: []int64{14},
			wantErr:   true,
		},
		{
			name: "missing order id",
			message: func(t *testing.T) *sarama.ConsumerMessage {
				return envelopeMessage(t, events.OrderCreated, events.OrderCreatedPayload{Intent: events.IntentInitiatePayment})
			},
			wantErr: true,
		},
		{
			name: "malformed message",
			message: func(*testing.T) *sarama.ConsumerMessage {
				return &sarama.ConsumerMessage{Value: []byte("not json")}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &stubProcessor{status: domain.PaymentStatusCompleted, err: tt.procErr}
			handler := NewPaymentHandler(processor, logger)

			err := handler(context.Background(), tt.message(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			calls := processor.calls()
			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("expected calls %v, got %v", tt.wantCalls, calls)
			}
			for i := range calls {
				if calls[i] != tt.wantCalls[i] {
					t.Fatalf("expected calls %v, got %v", tt.wantCalls, calls)
				}
			}
		})
	}
}
