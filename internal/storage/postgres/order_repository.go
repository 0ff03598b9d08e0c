package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

const orderColumns = `id, owner_id, status, returnable, total_amount, created_at, updated_at,
	delivery_start_at, delivery_end_at, return_requested_at, version`

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

// Create вставляет заказ и снимки. Если вызывающий не открыл транзакцию, открывает свою.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.store.WithinTx(ctx, func(ctx context.Context) error {
		conn := r.store.conn(ctx)
		order.Version = 0
		if err := conn.QueryRowContext(ctx, `
			INSERT INTO orders (
				owner_id, status, returnable, total_amount, created_at, updated_at,
				delivery_start_at, delivery_end_at, return_requested_at, version
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0)
			RETURNING id
		`,
			order.OwnerID, string(order.Status), order.Returnable, order.TotalAmount,
			order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
			nullTime(order.DeliveryStartAt), nullTime(order.DeliveryEndAt), nullTime(order.ReturnRequestedAt),
		).Scan(&order.ID); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		items := make([]domain.OrderProductSnapshot, len(order.Items))
		for i, item := range order.Items {
			item.OrderID = order.ID
			if err := conn.QueryRowContext(ctx, `
				INSERT INTO order_snapshots (
					order_id, variant_id, product_name, price, quantity, total_amount
				) VALUES ($1,$2,$3,$4,$5,$6)
				RETURNING id
			`,
				item.OrderID, item.VariantID, item.ProductName, item.Price, item.Quantity, item.TotalAmount,
			).Scan(&item.ID); err != nil {
				return fmt.Errorf("insert order snapshot: %w", err)
			}
			items[i] = item
		}
		order.Items = items
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, []int64{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	return order, nil
}

// Save обновляет изменяемые поля заказа. Снимки и сумма не трогаются.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	conn := r.store.conn(ctx)
	res, err := conn.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    returnable = $2,
		    updated_at = $3,
		    delivery_start_at = $4,
		    delivery_end_at = $5,
		    return_requested_at = $6,
		    version = version + 1
		WHERE id = $7
		  AND version = $8
	`,
		string(order.Status),
		order.Returnable,
		order.UpdatedAt.UTC(),
		nullTime(order.DeliveryStartAt),
		nullTime(order.DeliveryEndAt),
		nullTime(order.ReturnRequestedAt),
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, conn, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}
	return nil
}

func dateColumn(field domain.OrderDateField) (string, error) {
	switch field {
	case domain.OrderDateCreated:
		return "created_at", nil
	case domain.OrderDateDeliveryEnd:
		return "delivery_end_at", nil
	case domain.OrderDateReturnRequested:
		return "return_requested_at", nil
	default:
		return "", fmt.Errorf("unsupported order date field %q", field)
	}
}

// FindBatch — курсорная выборка: status = $1 AND <date> < $2 AND id > $3 ORDER BY id LIMIT $4.
func (r *orderRepository) FindBatch(ctx context.Context, query domain.OrderBatchQuery) ([]domain.Order, error) {
	column, err := dateColumn(query.DateField)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	sqlText := `SELECT ` + orderColumns + ` FROM orders
		WHERE status = $1
		  AND ` + column + ` < $2
		  AND id > $3`
	if query.OnlyReturnable {
		sqlText += ` AND returnable = TRUE`
	}
	sqlText += ` ORDER BY id LIMIT $4`

	rows, err := r.store.conn(ctx).QueryContext(ctx, sqlText,
		string(query.Status), query.Before.UTC(), query.AfterID, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("find order batch: %w", err)
	}
	return collectOrders(rows)
}

// ListByOwner возвращает историю заказов от новых к старым.
func (r *orderRepository) ListByOwner(ctx context.Context, query domain.OrderHistoryQuery) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.conn(ctx).QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE owner_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		  AND ($4::bigint = 0 OR id < $4::bigint)
		ORDER BY id DESC
		LIMIT $5
	`, query.OwnerID, nullTime(query.From), nullTime(query.To), query.BeforeID, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("list orders by owner: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderProductSnapshot, error) {
	rows, err := r.store.conn(ctx).QueryContext(ctx, `
		SELECT id, order_id, variant_id, product_name, price, quantity, total_amount
		FROM order_snapshots
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order snapshots: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]domain.OrderProductSnapshot, len(orderIDs))
	for rows.Next() {
		var item domain.OrderProductSnapshot
		if err := rows.Scan(&item.ID, &item.OrderID, &item.VariantID, &item.ProductName,
			&item.Price, &item.Quantity, &item.TotalAmount); err != nil {
			return nil, fmt.Errorf("scan order snapshot: %w", err)
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order snapshots: %w", err)
	}
	return result, nil
}

func (r *orderRepository) orderExists(ctx context.Context, conn executor, orderID int64) (bool, error) {
	var id int64
	err := conn.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                                 domain.Order
		status                                string
		deliveryStart, deliveryEnd, returnReq sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.OwnerID, &status, &order.Returnable, &order.TotalAmount,
		&order.CreatedAt, &order.UpdatedAt, &deliveryStart, &deliveryEnd, &returnReq, &order.Version,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.DeliveryStartAt = timeOrZero(deliveryStart)
	order.DeliveryEndAt = timeOrZero(deliveryEnd)
	order.ReturnRequestedAt = timeOrZero(returnReq)
	return order, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
