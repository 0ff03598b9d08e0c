package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// timelineRepositoryInMemory хранит события в памяти (для разработки/тестов).
type timelineRepositoryInMemory struct {
	mu     sync.RWMutex
	events map[int64][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{events: make(map[int64][]domain.TimelineEvent)}
}

// Append добавляет событие в хранилище.
func (r *timelineRepositoryInMemory) Append(ctx context.Context, event domain.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.events[event.OrderID])
	r.events[event.OrderID] = append(r.events[event.OrderID], event)
	sort.SliceStable(r.events[event.OrderID], func(i, j int) bool {
		return r.events[event.OrderID][i].Occurred.Before(r.events[event.OrderID][j].Occurred)
	})

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		events := r.events[event.OrderID]
		for i := len(events) - 1; i >= 0; i-- {
			if events[i] == event {
				r.events[event.OrderID] = append(events[:i], events[i+1:]...)
				break
			}
		}
		if before == 0 && len(r.events[event.OrderID]) == 0 {
			delete(r.events, event.OrderID)
		}
	})
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepositoryInMemory) List(_ context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
