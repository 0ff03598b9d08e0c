package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

type paymentRepositoryInMemory struct {
	mu      sync.RWMutex
	byID    map[int64]domain.Payment
	byOrder map[int64]int64
	nextID  int64
}

// NewPaymentRepository создаёт in-memory хранилище платежей.
func NewPaymentRepository() domain.PaymentRepository {
	return &paymentRepositoryInMemory{
		byID:    make(map[int64]domain.Payment),
		byOrder: make(map[int64]int64),
	}
}

// Create сохраняет платёж; второй платёж на тот же заказ отклоняется.
func (r *paymentRepositoryInMemory) Create(ctx context.Context, payment domain.Payment) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byOrder[payment.OrderID]; exists {
		return domain.Payment{}, domain.ErrPaymentExists
	}
	r.nextID++
	payment.ID = r.nextID
	r.byID[payment.ID] = payment
	r.byOrder[payment.OrderID] = payment.ID

	recordUndo(ctx, func() {
		r.mu.Lock()
		delete(r.byID, payment.ID)
		delete(r.byOrder, payment.OrderID)
		r.mu.Unlock()
	})
	return payment, nil
}

func (r *paymentRepositoryInMemory) GetByOrder(_ context.Context, orderID int64) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byOrder[orderID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return r.byID[id], nil
}

// CompareAndSetStatus атомарно меняет статус, если текущий совпадает с from.
func (r *paymentRepositoryInMemory) CompareAndSetStatus(ctx context.Context, paymentID int64, from, to domain.PaymentStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[paymentID]
	if !ok {
		return false, domain.ErrPaymentNotFound
	}
	if current.Status != from {
		return false, nil
	}
	updated := current
	updated.Status = to
	updated.UpdatedAt = at
	if to == domain.PaymentStatusCompleted {
		updated.CompletedAt = at
	}
	r.byID[paymentID] = updated

	recordUndo(ctx, func() {
		r.mu.Lock()
		r.byID[current.ID] = current
		r.mu.Unlock()
	})
	return true, nil
}

func (r *paymentRepositoryInMemory) FindStale(_ context.Context, query domain.StalePaymentQuery) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Payment, 0, query.Limit)
	for _, p := range r.byID {
		if p.ID <= query.AfterID || !p.UpdatedAt.Before(query.UpdatedBefore) {
			continue
		}
		if !containsStatus(query.Statuses, p.Status) {
			continue
		}
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

func containsStatus(statuses []domain.PaymentStatus, status domain.PaymentStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
