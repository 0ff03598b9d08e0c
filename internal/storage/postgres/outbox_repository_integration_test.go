package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

func TestOutboxAndTimeline_PostgresFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	outbox := NewOutboxRepository(store)
	timeline := NewTimelineRepository(store)
	ctx := context.Background()

	msg, err := outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "1",
		EventType:     "OrderCreated",
		Payload:       []byte(`{"order_id":1}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, err := outbox.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != msg.ID || string(pending[0].Payload) != `{"order_id":1}` {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	stats, err := outbox.Stats(ctx)
	if err != nil || stats.PendingCount != 1 {
		t.Fatalf("unexpected stats: %+v err=%v", stats, err)
	}
	if err := outbox.MarkSent(ctx, msg.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := outbox.MarkFailed(ctx, "unknown"); err == nil {
		t.Fatal("expected error for unknown outbox id")
	}

	now := time.Now().UTC()
	_ = timeline.Append(ctx, domain.TimelineEvent{OrderID: 1, Type: "OrderCanceled", Reason: "user", Occurred: now.Add(time.Second)})
	_ = timeline.Append(ctx, domain.TimelineEvent{OrderID: 1, Type: "OrderCreated", Occurred: now})
	events, err := timeline.List(ctx, 1)
	if err != nil {
		t.Fatalf("list timeline: %v", err)
	}
	if len(events) != 2 || events[0].Type != "OrderCreated" {
		t.Fatalf("unexpected timeline: %+v", events)
	}
}
