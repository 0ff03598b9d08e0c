package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

type cartRepository struct {
	store *Store
}

// NewCartRepository возвращает операции над корзиной, нужные после оформления заказа.
func NewCartRepository(store *Store) domain.CartService {
	return &cartRepository{store: store}
}

func (r *cartRepository) RemoveItem(ctx context.Context, ownerID, variantID int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.store.conn(ctx).ExecContext(ctx,
		`DELETE FROM cart_items WHERE owner_id = $1 AND variant_id = $2`, ownerID, variantID); err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	return nil
}

func (r *cartRepository) Clear(ctx context.Context, ownerID int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.store.conn(ctx).ExecContext(ctx, `DELETE FROM cart_items WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

var _ domain.CartService = (*cartRepository)(nil)
