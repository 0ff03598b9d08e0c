package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, log.WithField("component", "kafka-producer-test"))

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var decoded map[string]any
		if err := json.Unmarshal(value, &decoded); err != nil {
			return err
		}
		if decoded["order_id"] != float64(42) {
			t.Errorf("unexpected payload: %s", value)
		}
		return nil
	})

	err := producer.PublishEvent(TopicOrderEvents, "42", map[string]any{"order_id": 42})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, nil)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	if err := producer.PublishEvent(TopicOrderEvents, "42", map[string]any{}); err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, nil)

	if err := producer.PublishEvent(TopicOrderEvents, "k", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewEnvelope(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	published := created.Add(time.Second)

	envelope := NewEnvelope(domain.OutboxMessage{
		ID:            "m-1",
		AggregateType: "order",
		AggregateID:   "7",
		EventType:     "OrderStatusChanged",
		Payload:       []byte(`{"order_id":7,"to":"SHIPPING"}`),
		CreatedAt:     created,
	}, published)

	if envelope.OccurredAt != created || envelope.PublishedAt != published {
		t.Fatalf("unexpected timestamps: %+v", envelope)
	}

	var payload struct {
		OrderID int64  `json:"order_id"`
		To      string `json:"to"`
	}
	if err := envelope.DecodePayload(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.OrderID != 7 || payload.To != "SHIPPING" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	empty := NewEnvelope(domain.OutboxMessage{ID: "m-2", EventType: "X"}, published)
	if string(empty.Payload) != "null" {
		t.Fatalf("empty payload should encode as null, got %s", empty.Payload)
	}
}
