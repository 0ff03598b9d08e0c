package domain

import "errors"

var (
	// ErrInvalidQuantity — количество в позиции должно быть строго больше нуля.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrItemsRequired — корзина или заказ без позиций.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// ErrVariantNotFound возвращается, если вариант товара отсутствует в каталоге.
	ErrVariantNotFound = errors.New("product variant not found")
	// ErrNotSellable — вариант скрыт из продажи.
	ErrNotSellable = errors.New("product variant is not sellable")
	// ErrSoldOut — предварительная проверка или кеш резервов показали нехватку остатка.
	ErrSoldOut = errors.New("product variant is sold out")
	// ErrStockDecrementFailed — условное списание в учёте остатков проиграло гонку.
	ErrStockDecrementFailed = errors.New("stock decrement failed")
	// ErrReservationUnavailable — кеш резервов недоступен (не удалось взять блокировку).
	ErrReservationUnavailable = errors.New("reservation cache unavailable")
	// ErrLockNotAcquired — блокировка не получена за отведённое время.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrNotOrderOwner — операция над чужим заказом.
	ErrNotOrderOwner = errors.New("order belongs to another user")
	// ErrInvalidTransition — переход статуса не разрешён машиной состояний.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrOrderNotCancelable — отменить можно только заказ в статусе ORDERED.
	ErrOrderNotCancelable = errors.New("order can be canceled only in ORDERED status")
	// ErrOrderNotReturnable — возврат можно запросить только для доставленного заказа.
	ErrOrderNotReturnable = errors.New("return can be requested only for DELIVERED order")
	// ErrReturnWindowClosed — окно возврата истекло.
	ErrReturnWindowClosed = errors.New("return window is closed")

	// ErrPaymentNotFound возвращается, если для заказа нет платежа.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentExists — платёж для заказа уже создан.
	ErrPaymentExists = errors.New("payment already exists")
	// ErrPaymentStateInvalid — платёж не в том статусе, которого ожидает операция.
	ErrPaymentStateInvalid = errors.New("payment is in unexpected state")

	// ErrCircuitOpen — circuit breaker разомкнут, вызов не выполняется.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrCompensationSkipped — компенсация уже выполнена другим участником.
	ErrCompensationSkipped = errors.New("compensation already applied")
	// ErrJobAlreadyRunning — предыдущий запуск фоновой задачи ещё не завершён.
	ErrJobAlreadyRunning = errors.New("job is already running")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsOutOfStock объединяет оба вида отказа по остатку.
func IsOutOfStock(err error) bool {
	return errors.Is(err, ErrSoldOut) || errors.Is(err, ErrStockDecrementFailed)
}

// IsBusinessError сообщает, что ошибка детерминирована и повтор вызова ничего не изменит.
// Такие ошибки не считаются отказом зависимости для circuit breaker.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrInvalidQuantity,
		ErrItemsRequired,
		ErrVariantNotFound,
		ErrNotSellable,
		ErrSoldOut,
		ErrStockDecrementFailed,
		ErrOrderNotFound,
		ErrNotOrderOwner,
		ErrInvalidTransition,
		ErrOrderNotCancelable,
		ErrOrderNotReturnable,
		ErrReturnWindowClosed,
		ErrPaymentNotFound,
		ErrPaymentExists,
		ErrPaymentStateInvalid,
		ErrCompensationSkipped,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
