package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusOrdered — заказ оформлен, остаток списан.
	OrderStatusOrdered OrderStatus = "ORDERED"
	// OrderStatusShipping — заказ передан в доставку.
	OrderStatusShipping OrderStatus = "SHIPPING"
	// OrderStatusDelivered — заказ доставлен покупателю.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusReturnRequest — покупатель запросил возврат.
	OrderStatusReturnRequest OrderStatus = "RETURN_REQUEST"
	// OrderStatusReturned — возврат принят, остаток восстановлен.
	OrderStatusReturned OrderStatus = "RETURNED"
	// OrderStatusCanceled — заказ отменён, остаток восстановлен.
	OrderStatusCanceled OrderStatus = "CANCELED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusOrdered:       {OrderStatusShipping, OrderStatusCanceled},
	OrderStatusShipping:      {OrderStatusDelivered},
	OrderStatusDelivered:     {OrderStatusReturnRequest},
	OrderStatusReturnRequest: {OrderStatusReturned},
}

// CanTransitionTo проверяет, разрешён ли переход в next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// Valid проверяет, что строка является известным статусом.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusOrdered, OrderStatusShipping, OrderStatusDelivered,
		OrderStatusReturnRequest, OrderStatusReturned, OrderStatusCanceled:
		return true
	}
	return false
}

// Order агрегирует состояние заказа и неизменяемые снимки позиций.
type Order struct {
	ID          int64
	OwnerID     int64
	Status      OrderStatus
	Returnable  bool
	TotalAmount decimal.Decimal
	Items       []OrderProductSnapshot

	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeliveryStartAt   time.Time
	DeliveryEndAt     time.Time
	ReturnRequestedAt time.Time

	// Version используется для optimistic locking при Save.
	Version int64
}

// NewOrder собирает заказ в статусе ORDERED из снимков позиций.
func NewOrder(ownerID int64, items []OrderProductSnapshot, now time.Time) (Order, error) {
	if len(items) == 0 {
		return Order{}, ErrItemsRequired
	}
	total := decimal.Zero
	for _, item := range items {
		if item.Quantity <= 0 {
			return Order{}, ErrInvalidQuantity
		}
		total = total.Add(item.TotalAmount)
	}
	return Order{
		OwnerID:     ownerID,
		Status:      OrderStatusOrdered,
		Returnable:  true,
		TotalAmount: total,
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (o *Order) transition(next OrderStatus, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

// Cancel — отмена владельцем. Разрешена только из ORDERED.
func (o *Order) Cancel(ownerID int64, now time.Time) error {
	if o.OwnerID != ownerID {
		return ErrNotOrderOwner
	}
	return o.CancelBySystem(now)
}

// CancelBySystem — отмена компенсацией (таймаут или отказ оплаты).
func (o *Order) CancelBySystem(now time.Time) error {
	if o.Status != OrderStatusOrdered {
		return ErrOrderNotCancelable
	}
	return o.transition(OrderStatusCanceled, now)
}

// StartShipping переводит заказ в доставку.
func (o *Order) StartShipping(now time.Time) error {
	if err := o.transition(OrderStatusShipping, now); err != nil {
		return err
	}
	o.DeliveryStartAt = now
	return nil
}

// Deliver отмечает доставку и открывает окно возврата.
func (o *Order) Deliver(now time.Time) error {
	if err := o.transition(OrderStatusDelivered, now); err != nil {
		return err
	}
	o.DeliveryEndAt = now
	o.Returnable = true
	return nil
}

// CloseReturnWindow снимает признак возможности возврата. Статус не меняется.
func (o *Order) CloseReturnWindow(now time.Time) error {
	if o.Status != OrderStatusDelivered {
		return ErrInvalidTransition
	}
	o.Returnable = false
	o.UpdatedAt = now
	return nil
}

// RequestReturn — запрос возврата владельцем.
func (o *Order) RequestReturn(ownerID int64, now time.Time) error {
	if o.OwnerID != ownerID {
		return ErrNotOrderOwner
	}
	if o.Status != OrderStatusDelivered {
		return ErrOrderNotReturnable
	}
	if !o.Returnable {
		return ErrReturnWindowClosed
	}
	if err := o.transition(OrderStatusReturnRequest, now); err != nil {
		return err
	}
	o.ReturnRequestedAt = now
	return nil
}

// CompleteReturn завершает возврат. Восстановление остатка выполняет вызывающий.
func (o *Order) CompleteReturn(now time.Time) error {
	if err := o.transition(OrderStatusReturned, now); err != nil {
		return err
	}
	o.Returnable = false
	return nil
}
