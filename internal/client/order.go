package client

import (
	"context"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/resilience"
)

// OrderClient читает заказ со снимками позиций. Используется компенсациями,
// которым нужно знать, что возвращать на склад.
type OrderClient interface {
	GetOrderDetails(ctx context.Context, orderID int64) (domain.Order, error)
}

// LocalOrderClient читает заказы из репозитория того же процесса.
type LocalOrderClient struct {
	orders domain.OrderRepository
}

func NewLocalOrderClient(orders domain.OrderRepository) *LocalOrderClient {
	return &LocalOrderClient{orders: orders}
}

func (c *LocalOrderClient) GetOrderDetails(ctx context.Context, orderID int64) (domain.Order, error) {
	return c.orders.Get(ctx, orderID)
}

// ResilientOrderClient повторяет чтение при временных отказах.
type ResilientOrderClient struct {
	next   OrderClient
	policy *resilience.Client
}

func NewResilientOrderClient(next OrderClient, policy *resilience.Client) *ResilientOrderClient {
	return &ResilientOrderClient{next: next, policy: policy}
}

func (c *ResilientOrderClient) GetOrderDetails(ctx context.Context, orderID int64) (domain.Order, error) {
	var order domain.Order
	err := c.policy.Execute(ctx, "get_order_details", func(ctx context.Context) error {
		o, err := c.next.GetOrderDetails(ctx, orderID)
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	return order, err
}

var (
	_ OrderClient = (*LocalOrderClient)(nil)
	_ OrderClient = (*ResilientOrderClient)(nil)
)
