package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

type paymentRepository struct {
	store *Store
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{store: store}
}

// Create вставляет платёж. ON CONFLICT не прерывает внешнюю транзакцию при гонке за заказ.
func (r *paymentRepository) Create(ctx context.Context, payment domain.Payment) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.store.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO payments (order_id, status, amount, created_at, updated_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id
	`,
		payment.OrderID, string(payment.Status), payment.Amount,
		payment.CreatedAt.UTC(), payment.UpdatedAt.UTC(), nullTime(payment.CompletedAt),
	).Scan(&payment.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return domain.Payment{}, domain.ErrPaymentExists
		}
		return domain.Payment{}, fmt.Errorf("insert payment: %w", err)
	}
	return payment, nil
}

func (r *paymentRepository) GetByOrder(ctx context.Context, orderID int64) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	p, err := scanPayment(r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, order_id, status, amount, created_at, updated_at, completed_at
		FROM payments
		WHERE order_id = $1
	`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	return p, nil
}

// CompareAndSetStatus делает UPDATE ... WHERE status = from, поэтому победитель гонки ровно один.
func (r *paymentRepository) CompareAndSetStatus(ctx context.Context, paymentID int64, from, to domain.PaymentStatus, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var completedAt sql.NullTime
	if to == domain.PaymentStatusCompleted {
		completedAt = nullTime(at)
	}

	conn := r.store.conn(ctx)
	res, err := conn.ExecContext(ctx, `
		UPDATE payments
		SET status = $3,
		    updated_at = $4,
		    completed_at = COALESCE($5::timestamptz, completed_at)
		WHERE id = $1
		  AND status = $2
	`, paymentID, string(from), string(to), at.UTC(), completedAt)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	var id int64
	err = conn.QueryRowContext(ctx, `SELECT id FROM payments WHERE id = $1`, paymentID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrPaymentNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check payment exists: %w", err)
	}
	return false, nil
}

func (r *paymentRepository) FindStale(ctx context.Context, query domain.StalePaymentQuery) ([]domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	statuses := make([]string, len(query.Statuses))
	for i, s := range query.Statuses {
		statuses[i] = string(s)
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, `
		SELECT id, order_id, status, amount, created_at, updated_at, completed_at
		FROM payments
		WHERE status = ANY($1)
		  AND updated_at < $2
		  AND id > $3
		ORDER BY id
		LIMIT $4
	`, statuses, query.UpdatedBefore.UTC(), query.AfterID, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("find stale payments: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Payment, 0, query.Limit)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return result, nil
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		p         domain.Payment
		status    string
		completed sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.OrderID, &status, &p.Amount, &p.CreatedAt, &p.UpdatedAt, &completed); err != nil {
		return domain.Payment{}, err
	}
	p.Status = domain.PaymentStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.CompletedAt = timeOrZero(completed)
	return p, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
