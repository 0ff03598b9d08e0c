package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// CartRepository — корзины покупателей в памяти. Наполнение корзины вне зоны сервиса,
// поэтому Put нужен только для сидирования и тестов.
type CartRepository struct {
	mu    sync.Mutex
	carts map[int64]map[int64]int64
}

// NewCartRepository создаёт пустое хранилище корзин.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[int64]map[int64]int64)}
}

// Put кладёт позицию в корзину владельца.
func (r *CartRepository) Put(ownerID, variantID, qty int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[ownerID]
	if !ok {
		cart = make(map[int64]int64)
		r.carts[ownerID] = cart
	}
	cart[variantID] = qty
}

// Items возвращает копию корзины.
func (r *CartRepository) Items(ownerID int64) map[int64]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[int64]int64, len(r.carts[ownerID]))
	for k, v := range r.carts[ownerID] {
		result[k] = v
	}
	return result
}

// RemoveItem удаляет позицию из корзины.
func (r *CartRepository) RemoveItem(_ context.Context, ownerID, variantID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.carts[ownerID], variantID)
	return nil
}

// Clear очищает корзину владельца.
func (r *CartRepository) Clear(_ context.Context, ownerID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.carts, ownerID)
	return nil
}

var _ domain.CartService = (*CartRepository)(nil)
