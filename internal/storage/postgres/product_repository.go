package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// ProductRepository — каталог и учёт остатков в PostgreSQL.
type ProductRepository struct {
	store *Store
}

// NewProductRepository создаёт PostgreSQL-реализацию каталога и StockLedger.
func NewProductRepository(store *Store) *ProductRepository {
	return &ProductRepository{store: store}
}

// Upsert вставляет вариант (ID = 0) или перезаписывает существующий.
func (r *ProductRepository) Upsert(ctx context.Context, v domain.ProductVariant) (domain.ProductVariant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if v.ID == 0 {
		err := r.store.conn(ctx).QueryRowContext(ctx, `
			INSERT INTO product_variants (product_id, name, price, stock, visible)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id
		`, v.ProductID, v.Name, v.Price, v.Stock, v.Visible).Scan(&v.ID)
		if err != nil {
			return domain.ProductVariant{}, fmt.Errorf("insert product variant: %w", err)
		}
		return v, nil
	}

	if _, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO product_variants (id, product_id, name, price, stock, visible)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE
		SET product_id = EXCLUDED.product_id,
		    name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    stock = EXCLUDED.stock,
		    visible = EXCLUDED.visible,
		    updated_at = NOW()
	`, v.ID, v.ProductID, v.Name, v.Price, v.Stock, v.Visible); err != nil {
		return domain.ProductVariant{}, fmt.Errorf("upsert product variant: %w", err)
	}
	return v, nil
}

// GetVariant возвращает вариант с текущим остатком.
func (r *ProductRepository) GetVariant(ctx context.Context, id int64) (domain.ProductVariant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var v domain.ProductVariant
	err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, product_id, name, price, stock, visible
		FROM product_variants
		WHERE id = $1
	`, id).Scan(&v.ID, &v.ProductID, &v.Name, &v.Price, &v.Stock, &v.Visible)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProductVariant{}, domain.ErrVariantNotFound
		}
		return domain.ProductVariant{}, fmt.Errorf("select product variant: %w", err)
	}
	return v, nil
}

// Decrement — условное списание одним UPDATE. Ноль затронутых строк при существующем
// варианте означает нехватку остатка.
func (r *ProductRepository) Decrement(ctx context.Context, variantID, qty int64) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE product_variants
		SET stock = stock - $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND stock >= $2
	`, variantID, qty)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	exists, err := r.exists(ctx, variantID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrVariantNotFound
	}
	return false, nil
}

// Increment безусловно возвращает qty в остаток.
func (r *ProductRepository) Increment(ctx context.Context, variantID, qty int64) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE product_variants
		SET stock = stock + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, variantID, qty)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrVariantNotFound
	}
	return nil
}

// StockLevels читает остатки всех вариантов.
func (r *ProductRepository) StockLevels(ctx context.Context) (map[int64]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.conn(ctx).QueryContext(ctx, `SELECT id, stock FROM product_variants`)
	if err != nil {
		return nil, fmt.Errorf("select stock levels: %w", err)
	}
	defer rows.Close()

	levels := make(map[int64]int64)
	for rows.Next() {
		var id, stock int64
		if err := rows.Scan(&id, &stock); err != nil {
			return nil, fmt.Errorf("scan stock level: %w", err)
		}
		levels[id] = stock
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock levels: %w", err)
	}
	return levels, nil
}

func (r *ProductRepository) exists(ctx context.Context, id int64) (bool, error) {
	var found int64
	err := r.store.conn(ctx).QueryRowContext(ctx, `SELECT id FROM product_variants WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check variant exists: %w", err)
}

var _ domain.ProductRepository = (*ProductRepository)(nil)
