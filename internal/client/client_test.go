package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/resilience"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/memory"
)

var errUnavailable = errors.New("product service unavailable")

func newPolicy() *resilience.Client {
	return resilience.NewClient("test",
		resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Microsecond, MaxDelay: time.Microsecond, BackoffFactor: 2},
		resilience.BreakerConfig{FailureThreshold: 100},
		log.New().WithField("test", "client"),
	)
}

func seedProducts(t *testing.T, stock int64) (*memory.ProductRepository, int64) {
	t.Helper()
	products := memory.NewProductRepository()
	v := products.Upsert(domain.ProductVariant{Name: "T-shirt", Price: decimal.NewFromInt(10), Stock: stock, Visible: true})
	return products, v.ID
}

func stockOf(t *testing.T, products *memory.ProductRepository, id int64) int64 {
	t.Helper()
	v, err := products.GetVariant(context.Background(), id)
	require.NoError(t, err)
	return v.Stock
}

func TestLocalProductClientUpdateStock(t *testing.T) {
	ctx := context.Background()
	products, id := seedProducts(t, 5)
	c := NewLocalProductClient(products)

	ok, err := c.UpdateStock(ctx, id, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(8), stockOf(t, products, id))

	ok, err = c.UpdateStock(ctx, id, -10)
	require.NoError(t, err)
	assert.False(t, ok, "negative delta beyond stock must be refused")
	assert.Equal(t, int64(8), stockOf(t, products, id))

	ok, err = c.UpdateStock(ctx, id, -8)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), stockOf(t, products, id))

	_, err = c.UpdateStock(ctx, id, 0)
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestLocalProductClientDecrementRejectsNonPositive(t *testing.T) {
	products, id := seedProducts(t, 5)
	c := NewLocalProductClient(products)

	_, err := c.DecrementStock(context.Background(), id, 0)
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestResilientProductClientDoesNotRetryDecrement(t *testing.T) {
	mock := NewMockProductClient(nil)
	mock.DecrementErr = errUnavailable
	c := NewResilientProductClient(mock, newPolicy())

	_, err := c.DecrementStock(context.Background(), 1, 1)
	require.ErrorIs(t, err, errUnavailable)

	decrements, _ := mock.Calls()
	assert.Equal(t, 1, decrements)
}

func TestResilientProductClientRetriesIncrement(t *testing.T) {
	products, id := seedProducts(t, 0)
	mock := NewMockProductClient(NewLocalProductClient(products))
	mock.UpdateErr = errUnavailable
	mock.FailUpdateAfter = 0
	c := NewResilientProductClient(mock, newPolicy())

	_, err := c.UpdateStock(context.Background(), id, 2)
	require.ErrorIs(t, err, errUnavailable)
	_, updates := mock.Calls()
	assert.Equal(t, 3, updates, "increment is retried up to MaxAttempts")
	assert.Equal(t, int64(0), stockOf(t, products, id))
}

func TestResilientProductClientPassesBusinessErrors(t *testing.T) {
	products := memory.NewProductRepository()
	c := NewResilientProductClient(NewLocalProductClient(products), newPolicy())

	_, err := c.GetVariant(context.Background(), 404)
	require.ErrorIs(t, err, domain.ErrVariantNotFound)
}

func TestResilientOrderClient(t *testing.T) {
	ctx := context.Background()
	orders := memory.NewOrderRepository()
	products, id := seedProducts(t, 1)
	variant, err := products.GetVariant(ctx, id)
	require.NoError(t, err)

	snap, err := domain.NewSnapshot(variant, 1)
	require.NoError(t, err)
	order, err := domain.NewOrder(7, []domain.OrderProductSnapshot{snap}, time.Now())
	require.NoError(t, err)
	created, err := orders.Create(ctx, order)
	require.NoError(t, err)

	c := NewResilientOrderClient(NewLocalOrderClient(orders), newPolicy())
	got, err := c.GetOrderDetails(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, id, got.Items[0].VariantID)

	_, err = c.GetOrderDetails(ctx, created.ID+100)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestResilientCartClient(t *testing.T) {
	ctx := context.Background()
	carts := memory.NewCartRepository()
	carts.Put(1, 10, 2)
	carts.Put(1, 11, 1)

	c := NewResilientCartClient(carts, newPolicy())
	require.NoError(t, c.RemoveItem(ctx, 1, 10))
	assert.Len(t, carts.Items(1), 1)
	require.NoError(t, c.Clear(ctx, 1))
	assert.Empty(t, carts.Items(1))
}
