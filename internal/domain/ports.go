package domain

import (
	"context"
	"time"
)

// Catalog отдаёт варианты товаров.
type Catalog interface {
	GetVariant(ctx context.Context, id int64) (ProductVariant, error)
}

// StockLedger — источник истины по остаткам.
type StockLedger interface {
	// Decrement списывает qty только если остаток не меньше qty, одной атомарной операцией.
	// false без ошибки означает нехватку остатка.
	Decrement(ctx context.Context, variantID, qty int64) (bool, error)
	// Increment безусловно возвращает qty в остаток.
	Increment(ctx context.Context, variantID, qty int64) error
	// StockLevels возвращает остатки всех вариантов для прогрева кеша.
	StockLevels(ctx context.Context) (map[int64]int64, error)
}

// ProductRepository объединяет каталог и учёт остатков одного хранилища.
type ProductRepository interface {
	Catalog
	StockLedger
}

// ReservationCache — быстрый зеркальный счётчик остатков.
// Любая операция берёт блокировку варианта; при неудаче отказывает (fail closed).
// Кеш совещательный: при расхождении с учётом прав учёт.
type ReservationCache interface {
	// Reserve уменьшает счётчик и учитывает qty как резерв в полёте до Confirm или Release.
	Reserve(ctx context.Context, variantID, qty int64) (bool, error)
	// Confirm снимает резерв в полёте после успешного списания в учёте.
	Confirm(ctx context.Context, variantID, qty int64) error
	// Release отменяет неподтверждённый резерв.
	Release(ctx context.Context, variantID, qty int64) error
	// Restock зеркалит возврат уже проданного товара в учёт.
	Restock(ctx context.Context, variantID, qty int64) error
	Reset(ctx context.Context, levels map[int64]int64) error
	Available(ctx context.Context, variantID int64) (int64, bool, error)
}

// Unlock снимает блокировку, если она всё ещё принадлежит владельцу.
type Unlock func(ctx context.Context) error

// Locker выдаёт именованные блокировки с ограниченным временем удержания.
type Locker interface {
	// TryLock делает одну попытку. ok=false означает, что блокировка занята.
	TryLock(ctx context.Context, key string, hold time.Duration) (unlock Unlock, ok bool, err error)
}

// Transactor выполняет fn в одной единице работы. Репозитории, получившие ctx из fn,
// участвуют в той же транзакции; вложенный вызов присоединяется к внешней.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderDateField — поле даты, по которому фильтруется пакет планировщика.
type OrderDateField string

const (
	OrderDateCreated         OrderDateField = "created_at"
	OrderDateDeliveryEnd     OrderDateField = "delivery_end_at"
	OrderDateReturnRequested OrderDateField = "return_requested_at"
)

// OrderBatchQuery описывает выборку status = X AND date < Before AND id > AfterID ORDER BY id LIMIT n.
type OrderBatchQuery struct {
	Status    OrderStatus
	DateField OrderDateField
	Before    time.Time
	AfterID   int64
	Limit     int
	// OnlyReturnable дополнительно требует returnable = true.
	OnlyReturnable bool
}

// OrderHistoryQuery — история заказов владельца, от новых к старым, курсор по id.
type OrderHistoryQuery struct {
	OwnerID  int64
	From     time.Time
	To       time.Time
	BeforeID int64
	Limit    int
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ со снимками и присваивает идентификаторы.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ со снимками или ErrOrderNotFound.
	Get(ctx context.Context, id int64) (Order, error)
	// Save применяет изменения статуса с учётом optimistic locking.
	// Ожидает order.Version равной сохранённой, после записи версия увеличивается на 1.
	Save(ctx context.Context, order Order) error
	// FindBatch возвращает заказы без снимков.
	FindBatch(ctx context.Context, query OrderBatchQuery) ([]Order, error)
	// ListByOwner возвращает заказы со снимками.
	ListByOwner(ctx context.Context, query OrderHistoryQuery) ([]Order, error)
}

// StalePaymentQuery выбирает платежи, зависшие в Statuses дольше порога.
type StalePaymentQuery struct {
	Statuses      []PaymentStatus
	UpdatedBefore time.Time
	AfterID       int64
	Limit         int
}

// PaymentRepository хранит платежи.
type PaymentRepository interface {
	// Create возвращает ErrPaymentExists, если у заказа уже есть платёж.
	Create(ctx context.Context, payment Payment) (Payment, error)
	GetByOrder(ctx context.Context, orderID int64) (Payment, error)
	// CompareAndSetStatus меняет статус только если текущий равен from.
	CompareAndSetStatus(ctx context.Context, paymentID int64, from, to PaymentStatus, at time.Time) (bool, error)
	FindStale(ctx context.Context, query StalePaymentQuery) ([]Payment, error)
}

// CartService — коллаборатор корзины: после оформления убирает купленные позиции.
type CartService interface {
	RemoveItem(ctx context.Context, ownerID, variantID int64) error
	Clear(ctx context.Context, ownerID int64) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID int64) ([]TimelineEvent, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
