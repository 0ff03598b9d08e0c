package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

func TestTransactor_RollbackAcrossRepositories(t *testing.T) {
	store := NewStore()
	variant := store.Products.Upsert(domain.ProductVariant{Name: "Sock", Price: decimal.NewFromInt(3), Stock: 10, Visible: true})
	boom := errors.New("payment insert failed")

	err := store.Tx.WithinTx(context.Background(), func(ctx context.Context) error {
		snap, _ := domain.NewSnapshot(variant, 2)
		order, _ := domain.NewOrder(1, []domain.OrderProductSnapshot{snap}, time.Now())
		created, err := store.Orders.Create(ctx, order)
		if err != nil {
			return err
		}
		if _, err := store.Payments.Create(ctx, domain.NewPendingPayment(created.ID, created.TotalAmount, time.Now())); err != nil {
			return err
		}
		if err := store.Timeline.Append(ctx, domain.TimelineEvent{OrderID: created.ID, Type: "OrderCreated", Occurred: time.Now()}); err != nil {
			return err
		}
		// вложенный вызов присоединяется к внешней транзакции
		return store.Tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := store.Products.Increment(ctx, variant.ID, 1); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := store.Orders.Get(context.Background(), 1); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("order must be rolled back, got %v", err)
	}
	if _, err := store.Payments.GetByOrder(context.Background(), 1); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("payment must be rolled back, got %v", err)
	}
	events, _ := store.Timeline.List(context.Background(), 1)
	if len(events) != 0 {
		t.Fatalf("timeline must be rolled back, got %d events", len(events))
	}
	levels, _ := store.Products.StockLevels(context.Background())
	if levels[variant.ID] != 10 {
		t.Fatalf("stock must be restored, got %d", levels[variant.ID])
	}
}

func TestTransactor_CommitKeepsChanges(t *testing.T) {
	store := NewStore()
	err := store.Tx.WithinTx(context.Background(), func(ctx context.Context) error {
		_, err := store.Payments.Create(ctx, domain.NewPendingPayment(7, decimal.Zero, time.Now()))
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Payments.GetByOrder(context.Background(), 7); err != nil {
		t.Fatalf("committed payment must stay: %v", err)
	}
}
