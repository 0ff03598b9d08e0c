// Package client описывает межсервисные вызовы, которыми пользуются сага и фоновые задачи,
// и их устойчивые обёртки.
package client

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/resilience"
)

// ProductClient — вызовы сервиса товаров.
type ProductClient interface {
	GetVariant(ctx context.Context, variantID int64) (domain.ProductVariant, error)
	// DecrementStock условно списывает qty. false означает, что остатка не хватило.
	DecrementStock(ctx context.Context, variantID, qty int64) (bool, error)
	// UpdateStock применяет знаковую дельту. Положительная дельта возвращает товар безусловно,
	// отрицательная работает как DecrementStock.
	UpdateStock(ctx context.Context, variantID, delta int64) (bool, error)
}

// LocalProductClient вызывает каталог и учёт остатков в том же процессе.
type LocalProductClient struct {
	products domain.ProductRepository
}

// NewLocalProductClient создаёт клиента поверх репозитория товаров.
func NewLocalProductClient(products domain.ProductRepository) *LocalProductClient {
	return &LocalProductClient{products: products}
}

func (c *LocalProductClient) GetVariant(ctx context.Context, variantID int64) (domain.ProductVariant, error) {
	return c.products.GetVariant(ctx, variantID)
}

func (c *LocalProductClient) DecrementStock(ctx context.Context, variantID, qty int64) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	return c.products.Decrement(ctx, variantID, qty)
}

func (c *LocalProductClient) UpdateStock(ctx context.Context, variantID, delta int64) (bool, error) {
	switch {
	case delta > 0:
		if err := c.products.Increment(ctx, variantID, delta); err != nil {
			return false, err
		}
		return true, nil
	case delta < 0:
		return c.DecrementStock(ctx, variantID, -delta)
	default:
		return false, domain.ErrInvalidQuantity
	}
}

// ResilientProductClient добавляет retry и circuit breaker.
// Списание выполняется без повторов: неясный исход повторного списания мог бы задвоить его.
type ResilientProductClient struct {
	next   ProductClient
	policy *resilience.Client
}

// NewResilientProductClient оборачивает next политикой policy.
func NewResilientProductClient(next ProductClient, policy *resilience.Client) *ResilientProductClient {
	return &ResilientProductClient{next: next, policy: policy}
}

func (c *ResilientProductClient) GetVariant(ctx context.Context, variantID int64) (domain.ProductVariant, error) {
	var variant domain.ProductVariant
	err := c.policy.Execute(ctx, "get_variant", func(ctx context.Context) error {
		v, err := c.next.GetVariant(ctx, variantID)
		if err != nil {
			return err
		}
		variant = v
		return nil
	})
	return variant, err
}

func (c *ResilientProductClient) DecrementStock(ctx context.Context, variantID, qty int64) (bool, error) {
	var ok bool
	err := c.policy.ExecuteOnce(ctx, "decrement_stock", func(ctx context.Context) error {
		res, err := c.next.DecrementStock(ctx, variantID, qty)
		if err != nil {
			return err
		}
		ok = res
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("decrement stock of variant %d: %w", variantID, err)
	}
	return ok, nil
}

func (c *ResilientProductClient) UpdateStock(ctx context.Context, variantID, delta int64) (bool, error) {
	if delta < 0 {
		return c.DecrementStock(ctx, variantID, -delta)
	}
	var ok bool
	err := c.policy.Execute(ctx, "update_stock", func(ctx context.Context) error {
		res, err := c.next.UpdateStock(ctx, variantID, delta)
		if err != nil {
			return err
		}
		ok = res
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("update stock of variant %d by %d: %w", variantID, delta, err)
	}
	return ok, nil
}

var (
	_ ProductClient = (*LocalProductClient)(nil)
	_ ProductClient = (*ResilientProductClient)(nil)
)
