// Package events записывает события заказа в transactional outbox и timeline
// в той же единице работы, что и изменение состояния.
package events

import (
	"time"
)

// Типы событий заказа.
const (
	OrderCreated         = "OrderCreated"
	OrderStatusChanged   = "OrderStatusChanged"
	OrderCanceled        = "OrderCanceled"
	PaymentStatusChanged = "PaymentStatusChanged"
)

// IntentInitiatePayment — намерение, с которым публикуется OrderCreated.
const IntentInitiatePayment = "INITIATE_PAYMENT"

// AggregateOrder — тип агрегата для outbox.
const AggregateOrder = "order"

// ItemPayload — позиция заказа в событии.
type ItemPayload struct {
	VariantID int64  `json:"variant_id"`
	Quantity  int64  `json:"quantity"`
	Price     string `json:"price"`
}

// OrderCreatedPayload — полезная нагрузка OrderCreated.
type OrderCreatedPayload struct {
	OrderID     int64         `json:"order_id"`
	OwnerID     int64         `json:"owner_id"`
	PaymentID   int64         `json:"payment_id"`
	TotalAmount string        `json:"total_amount"`
	Intent      string        `json:"intent"`
	Items       []ItemPayload `json:"items"`
	Timestamp   time.Time     `json:"ts"`
}

// StatusChangedPayload — полезная нагрузка OrderStatusChanged и OrderCanceled.
type StatusChangedPayload struct {
	OrderID   int64     `json:"order_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// PaymentStatusPayload — полезная нагрузка PaymentStatusChanged.
type PaymentStatusPayload struct {
	OrderID   int64     `json:"order_id"`
	PaymentID int64     `json:"payment_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"ts"`
}
