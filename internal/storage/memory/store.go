package memory

import "github.com/vladislavdragonenkov/shopsaga/internal/domain"

// Store собирает все in-memory репозитории с общим Transactor.
type Store struct {
	Products *ProductRepository
	Orders   domain.OrderRepository
	Payments domain.PaymentRepository
	Outbox   *OutboxRepository
	Timeline domain.TimelineRepository
	Carts    *CartRepository
	Tx       *Transactor
}

// NewStore создаёт пустое хранилище для локального запуска и тестов.
func NewStore() *Store {
	return &Store{
		Products: NewProductRepository(),
		Orders:   NewOrderRepository(),
		Payments: NewPaymentRepository(),
		Outbox:   NewOutboxRepository(),
		Timeline: NewTimelineRepository(),
		Carts:    NewCartRepository(),
		Tx:       NewTransactor(),
	}
}
