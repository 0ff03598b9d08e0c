package client

import (
	"context"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/resilience"
)

// ResilientCartClient оборачивает коллаборатор корзины.
type ResilientCartClient struct {
	next   domain.CartService
	policy *resilience.Client
}

func NewResilientCartClient(next domain.CartService, policy *resilience.Client) *ResilientCartClient {
	return &ResilientCartClient{next: next, policy: policy}
}

func (c *ResilientCartClient) RemoveItem(ctx context.Context, ownerID, variantID int64) error {
	return c.policy.Execute(ctx, "cart_remove_item", func(ctx context.Context) error {
		return c.next.RemoveItem(ctx, ownerID, variantID)
	})
}

func (c *ResilientCartClient) Clear(ctx context.Context, ownerID int64) error {
	return c.policy.Execute(ctx, "cart_clear", func(ctx context.Context) error {
		return c.next.Clear(ctx, ownerID)
	})
}

var _ domain.CartService = (*ResilientCartClient)(nil)
