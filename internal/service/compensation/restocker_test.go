package compensation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopsaga/internal/client"
	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/events"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/memory"
)

func TestCancelOrderByOwnerRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	variant := f.addVariant(t, 10)
	order, _ := f.placeOrder(t, 5, time.Now(), StockLine{VariantID: variant, Quantity: 4})
	require.Equal(t, int64(6), f.stock(t, variant))

	canceled, err := f.restocker.CancelOrder(ctx, CancelRequest{OrderID: order.ID, OwnerID: 5, Source: SourceCancel})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, canceled.Status)
	assert.Equal(t, int64(10), f.stock(t, variant))
	assert.Equal(t, int64(10), f.cached(t, variant))

	pending := f.store.Outbox.AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, events.OrderCanceled, pending[0].EventType)

	_, err = f.restocker.CancelOrder(ctx, CancelRequest{OrderID: order.ID, OwnerID: 5, Source: SourceCancel})
	require.ErrorIs(t, err, domain.ErrOrderNotCancelable)
	assert.Equal(t, int64(10), f.stock(t, variant), "second cancel must not restock")
}

func TestCancelOrderRejectsForeignOwner(t *testing.T) {
	f := newFixture(t)
	variant := f.addVariant(t, 3)
	order, _ := f.placeOrder(t, 5, time.Now(), StockLine{VariantID: variant, Quantity: 1})

	_, err := f.restocker.CancelOrder(context.Background(), CancelRequest{OrderID: order.ID, OwnerID: 6})
	require.ErrorIs(t, err, domain.ErrNotOrderOwner)
	assert.Equal(t, int64(2), f.stock(t, variant))

	stored, err := f.store.Orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOrdered, stored.Status)
}

func TestCancelOrderRollsBackOnRestockFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.addVariant(t, 5)
	second := f.addVariant(t, 5)
	order, _ := f.placeOrder(t, 1, time.Now(),
		StockLine{VariantID: first, Quantity: 2},
		StockLine{VariantID: second, Quantity: 3},
	)

	f.products.UpdateErr = errors.New("product service down")
	f.products.FailUpdateAfter = 1

	_, err := f.restocker.CancelOrder(ctx, CancelRequest{OrderID: order.ID, OwnerID: 1})
	require.Error(t, err)

	assert.Equal(t, int64(3), f.stock(t, first), "partial restock must be rolled back")
	assert.Equal(t, int64(2), f.stock(t, second))
	stored, err := f.store.Orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOrdered, stored.Status)
	assert.Empty(t, f.store.Outbox.AllPending())
}

// interleavedProducts перед возвратом второго варианта даёт конкурентному покупателю
// списать первый вариант, затем отказывает.
type interleavedProducts struct {
	client.ProductClient
	store         *memory.Store
	first, second int64
	taken         bool
}

func (p *interleavedProducts) UpdateStock(ctx context.Context, variantID, delta int64) (bool, error) {
	if variantID == p.second {
		p.taken, _ = p.store.Products.Decrement(context.Background(), p.first, 2)
		return false, errors.New("product service down")
	}
	return p.ProductClient.UpdateStock(ctx, variantID, delta)
}

func TestCancelOrderRollbackKeepsStockNonNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.addVariant(t, 2)
	second := f.addVariant(t, 5)
	order, _ := f.placeOrder(t, 1, time.Now(),
		StockLine{VariantID: first, Quantity: 2},
		StockLine{VariantID: second, Quantity: 1},
	)
	require.Zero(t, f.stock(t, first))

	products := &interleavedProducts{
		ProductClient: client.NewLocalProductClient(f.store.Products),
		store:         f.store,
		first:         first,
		second:        second,
	}
	restocker := NewRestocker(RestockerDeps{
		Tx:       f.store.Tx,
		Orders:   f.store.Orders,
		Products: products,
		Emitter:  events.NewEmitter(f.store.Outbox, f.store.Timeline, nil, nil),
	})

	_, err := restocker.CancelOrder(ctx, CancelRequest{OrderID: order.ID, OwnerID: 1})
	require.Error(t, err)

	assert.False(t, products.taken, "uncommitted restock must not be sold")
	assert.Zero(t, f.stock(t, first))
	assert.Equal(t, int64(4), f.stock(t, second))
}

func TestCancelOrderGuardSkips(t *testing.T) {
	f := newFixture(t)
	variant := f.addVariant(t, 5)
	order, _ := f.placeOrder(t, 1, time.Now(), StockLine{VariantID: variant, Quantity: 1})

	_, err := f.restocker.CancelOrder(context.Background(), CancelRequest{
		OrderID: order.ID,
		Guard:   func(context.Context) error { return domain.ErrCompensationSkipped },
	})
	require.ErrorIs(t, err, domain.ErrCompensationSkipped)
	assert.Equal(t, int64(4), f.stock(t, variant))
}

func TestCompleteReturnRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	variant := f.addVariant(t, 5)
	order, _ := f.placeOrder(t, 1, time.Now(), StockLine{VariantID: variant, Quantity: 2})

	stored, err := f.store.Orders.Get(ctx, order.ID)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, stored.StartShipping(now))
	require.NoError(t, stored.Deliver(now))
	require.NoError(t, stored.RequestReturn(1, now))
	require.NoError(t, f.store.Orders.Save(ctx, stored))

	returned, err := f.restocker.CompleteReturn(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReturned, returned.Status)
	assert.False(t, returned.Returnable)
	assert.Equal(t, int64(5), f.stock(t, variant))
	assert.Equal(t, int64(5), f.cached(t, variant))

	_, err = f.restocker.CompleteReturn(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, int64(5), f.stock(t, variant))
}

func TestRestockLinesContinuesAfterFailure(t *testing.T) {
	f := newFixture(t)
	variant := f.addVariant(t, 0)

	err := f.restocker.RestockLines(context.Background(), []StockLine{
		{VariantID: 999, Quantity: 1},
		{VariantID: variant, Quantity: 2},
	}, SourceSaga)
	require.ErrorIs(t, err, domain.ErrVariantNotFound)
	assert.Equal(t, int64(2), f.stock(t, variant))
	assert.Equal(t, int64(2), f.cached(t, variant))
}
