package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// helper для создания заказа в статусе ORDERED с одной позицией.
func makeOrder(t *testing.T) domain.Order {
	t.Helper()
	variant := domain.ProductVariant{ID: 7, Name: "T-shirt / M", Price: decimal.RequireFromString("19.90"), Stock: 10, Visible: true}
	snapshot, err := domain.NewSnapshot(variant, 3)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	order, err := domain.NewOrder(42, []domain.OrderProductSnapshot{snapshot}, time.Now().UTC())
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	return order
}

func TestNewOrder(t *testing.T) {
	order := makeOrder(t)

	if order.Status != domain.OrderStatusOrdered {
		t.Fatalf("expected ORDERED, got %s", order.Status)
	}
	if !order.Returnable {
		t.Fatal("new order must be returnable by default")
	}
	if !order.TotalAmount.Equal(decimal.RequireFromString("59.70")) {
		t.Fatalf("unexpected total: %s", order.TotalAmount)
	}
}

func TestNewOrder_Invalid(t *testing.T) {
	if _, err := domain.NewOrder(1, nil, time.Now()); !errors.Is(err, domain.ErrItemsRequired) {
		t.Fatalf("expected ErrItemsRequired, got %v", err)
	}
	bad := []domain.OrderProductSnapshot{{VariantID: 1, Quantity: 0}}
	if _, err := domain.NewOrder(1, bad, time.Now()); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.OrderStatus
		ok       bool
	}{
		{domain.OrderStatusOrdered, domain.OrderStatusShipping, true},
		{domain.OrderStatusOrdered, domain.OrderStatusCanceled, true},
		{domain.OrderStatusShipping, domain.OrderStatusDelivered, true},
		{domain.OrderStatusDelivered, domain.OrderStatusReturnRequest, true},
		{domain.OrderStatusReturnRequest, domain.OrderStatusReturned, true},
		{domain.OrderStatusShipping, domain.OrderStatusCanceled, false},
		{domain.OrderStatusDelivered, domain.OrderStatusOrdered, false},
		{domain.OrderStatusCanceled, domain.OrderStatusOrdered, false},
		{domain.OrderStatusReturned, domain.OrderStatusDelivered, false},
		{domain.OrderStatusOrdered, domain.OrderStatusDelivered, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
	if !domain.OrderStatusCanceled.IsTerminal() || !domain.OrderStatusReturned.IsTerminal() {
		t.Fatal("CANCELED and RETURNED must be terminal")
	}
}

func TestOrderCancel(t *testing.T) {
	now := time.Now()

	order := makeOrder(t)
	if err := order.Cancel(99, now); !errors.Is(err, domain.ErrNotOrderOwner) {
		t.Fatalf("expected ErrNotOrderOwner, got %v", err)
	}
	if err := order.Cancel(42, now); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected CANCELED, got %s", order.Status)
	}
	if err := order.Cancel(42, now); !errors.Is(err, domain.ErrOrderNotCancelable) {
		t.Fatalf("second cancel must fail with ErrOrderNotCancelable, got %v", err)
	}

	shipped := makeOrder(t)
	if err := shipped.StartShipping(now); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if err := shipped.CancelBySystem(now); !errors.Is(err, domain.ErrOrderNotCancelable) {
		t.Fatalf("expected ErrOrderNotCancelable for SHIPPING, got %v", err)
	}
}

func TestOrderDeliveryAndReturnFlow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	order := makeOrder(t)

	if err := order.RequestReturn(42, now); !errors.Is(err, domain.ErrOrderNotReturnable) {
		t.Fatalf("return before delivery must fail, got %v", err)
	}
	if err := order.StartShipping(now); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if order.DeliveryStartAt != now {
		t.Fatal("delivery start must be recorded")
	}
	if err := order.Deliver(now.Add(time.Hour)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if order.DeliveryEndAt != now.Add(time.Hour) || !order.Returnable {
		t.Fatal("delivery end must be recorded and return window opened")
	}
	if err := order.RequestReturn(7, now); !errors.Is(err, domain.ErrNotOrderOwner) {
		t.Fatalf("expected ErrNotOrderOwner, got %v", err)
	}
	if err := order.RequestReturn(42, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("request return: %v", err)
	}
	if order.Status != domain.OrderStatusReturnRequest || order.ReturnRequestedAt.IsZero() {
		t.Fatalf("unexpected state after return request: %+v", order)
	}
	if err := order.CompleteReturn(now.Add(3 * time.Hour)); err != nil {
		t.Fatalf("complete return: %v", err)
	}
	if order.Status != domain.OrderStatusReturned || order.Returnable {
		t.Fatalf("unexpected state after return: %+v", order)
	}
}

func TestOrderCloseReturnWindow(t *testing.T) {
	now := time.Now()
	order := makeOrder(t)

	if err := order.CloseReturnWindow(now); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("closing window of ORDERED must fail, got %v", err)
	}
	_ = order.StartShipping(now)
	_ = order.Deliver(now)
	if err := order.CloseReturnWindow(now); err != nil {
		t.Fatalf("close window: %v", err)
	}
	if order.Status != domain.OrderStatusDelivered {
		t.Fatal("closing return window must not change status")
	}
	if err := order.RequestReturn(42, now); !errors.Is(err, domain.ErrReturnWindowClosed) {
		t.Fatalf("expected ErrReturnWindowClosed, got %v", err)
	}
}
