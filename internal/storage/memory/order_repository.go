package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu             sync.RWMutex
	items          map[int64]domain.Order
	nextID         int64
	nextSnapshotID int64
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[int64]domain.Order),
	}
}

func cloneOrder(order domain.Order) domain.Order {
	if order.Items != nil {
		items := make([]domain.OrderProductSnapshot, len(order.Items))
		copy(items, order.Items)
		order.Items = items
	}
	return order
}

// Create назначает идентификаторы заказу и снимкам и сохраняет копию.
func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	order.ID = r.nextID
	order.Version = 0
	order = cloneOrder(order)
	for i := range order.Items {
		r.nextSnapshotID++
		order.Items[i].ID = r.nextSnapshotID
		order.Items[i].OrderID = order.ID
	}
	r.items[order.ID] = order

	id := order.ID
	recordUndo(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		r.mu.Unlock()
	})
	return cloneOrder(order), nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id int64) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking). Снимки позиций не меняются.
func (r *orderRepositoryInMemory) Save(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	order.Items = current.Items
	order.OwnerID = current.OwnerID
	order.CreatedAt = current.CreatedAt
	order.TotalAmount = current.TotalAmount
	order.Version++
	r.items[order.ID] = order

	recordUndo(ctx, func() {
		r.mu.Lock()
		r.items[current.ID] = current
		r.mu.Unlock()
	})
	return nil
}

func orderDate(order domain.Order, field domain.OrderDateField) time.Time {
	switch field {
	case domain.OrderDateDeliveryEnd:
		return order.DeliveryEndAt
	case domain.OrderDateReturnRequested:
		return order.ReturnRequestedAt
	default:
		return order.CreatedAt
	}
}

// FindBatch реализует курсорную выборку планировщика. Снимки не возвращаются.
func (r *orderRepositoryInMemory) FindBatch(_ context.Context, query domain.OrderBatchQuery) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, query.Limit)
	for _, order := range r.items {
		if order.Status != query.Status || order.ID <= query.AfterID {
			continue
		}
		if query.OnlyReturnable && !order.Returnable {
			continue
		}
		date := orderDate(order, query.DateField)
		if date.IsZero() || !date.Before(query.Before) {
			continue
		}
		order.Items = nil
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

// ListByOwner возвращает заказы владельца от новых к старым.
func (r *orderRepositoryInMemory) ListByOwner(_ context.Context, query domain.OrderHistoryQuery) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.OwnerID != query.OwnerID {
			continue
		}
		if query.BeforeID > 0 && order.ID >= query.BeforeID {
			continue
		}
		if !query.From.IsZero() && order.CreatedAt.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && order.CreatedAt.After(query.To) {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
