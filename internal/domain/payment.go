package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus описывает состояние платежа в системе.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж создан вместе с заказом.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusProcessing — покупатель перешёл к оплате.
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	// PaymentStatusCompleted — оплата прошла.
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	// PaymentStatusFailed — провайдер отклонил оплату.
	PaymentStatusFailed PaymentStatus = "FAILED"
	// PaymentStatusCanceled — покупатель бросил оплату либо сработал таймаут.
	PaymentStatusCanceled PaymentStatus = "CANCELED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCanceled},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCanceled},
}

// CanTransitionTo проверяет переход платежа.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsInFlight — платёж ещё может завершиться, остаток под ним удерживается.
func (s PaymentStatus) IsInFlight() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing
}

// InFlightPaymentStatuses — статусы, которые подбирает компенсатор таймаутов.
var InFlightPaymentStatuses = []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing}

// Payment описывает платёж, связанный с заказом. На заказ ровно один платёж.
type Payment struct {
	ID          int64
	OrderID     int64
	Status      PaymentStatus
	Amount      decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

// NewPendingPayment создаёт платёж в статусе PENDING.
func NewPendingPayment(orderID int64, amount decimal.Decimal, now time.Time) Payment {
	return Payment{
		OrderID:   orderID,
		Status:    PaymentStatusPending,
		Amount:    amount,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
