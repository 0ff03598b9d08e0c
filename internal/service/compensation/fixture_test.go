package compensation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopsaga/internal/cache"
	"github.com/vladislavdragonenkov/shopsaga/internal/client"
	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/lock"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/events"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/memory"
)

type fixture struct {
	store     *memory.Store
	cache     *cache.MemoryReservationCache
	products  *client.MockProductClient
	restocker *Restocker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	reservations := cache.NewMemoryReservationCache(lock.NewLocalLocker(), lock.AcquireOptions{Wait: time.Second}, nil)
	products := client.NewMockProductClient(client.NewLocalProductClient(store.Products))

	restocker := NewRestocker(RestockerDeps{
		Tx:           store.Tx,
		Orders:       store.Orders,
		Products:     products,
		Reservations: reservations,
		Emitter:      events.NewEmitter(store.Outbox, store.Timeline, nil, nil),
		Logger:       log.New().WithField("test", "compensation"),
	})
	return &fixture{store: store, cache: reservations, products: products, restocker: restocker}
}

func (f *fixture) addVariant(t *testing.T, stock int64) int64 {
	t.Helper()
	v := f.store.Products.Upsert(domain.ProductVariant{
		Name:    "Sneakers",
		Price:   decimal.NewFromInt(50),
		Stock:   stock,
		Visible: true,
	})
	levels, err := f.store.Products.StockLevels(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.cache.Reset(context.Background(), levels))
	return v.ID
}

// placeOrder списывает остаток и создаёт заказ с платежом в обход саги.
func (f *fixture) placeOrder(t *testing.T, ownerID int64, updatedAt time.Time, lines ...StockLine) (domain.Order, domain.Payment) {
	t.Helper()
	ctx := context.Background()

	snaps := make([]domain.OrderProductSnapshot, 0, len(lines))
	for _, line := range lines {
		ok, err := f.store.Products.Decrement(ctx, line.VariantID, line.Quantity)
		require.NoError(t, err)
		require.True(t, ok)
		reserved, err := f.cache.Reserve(ctx, line.VariantID, line.Quantity)
		require.NoError(t, err)
		require.True(t, reserved)
		require.NoError(t, f.cache.Confirm(ctx, line.VariantID, line.Quantity))

		variant, err := f.store.Products.GetVariant(ctx, line.VariantID)
		require.NoError(t, err)
		snap, err := domain.NewSnapshot(variant, line.Quantity)
		require.NoError(t, err)
		snaps = append(snaps, snap)
	}

	order, err := domain.NewOrder(ownerID, snaps, updatedAt)
	require.NoError(t, err)
	order, err = f.store.Orders.Create(ctx, order)
	require.NoError(t, err)

	payment, err := f.store.Payments.Create(ctx, domain.NewPendingPayment(order.ID, order.TotalAmount, updatedAt))
	require.NoError(t, err)
	return order, payment
}

func (f *fixture) stock(t *testing.T, variantID int64) int64 {
	t.Helper()
	v, err := f.store.Products.GetVariant(context.Background(), variantID)
	require.NoError(t, err)
	return v.Stock
}

func (f *fixture) cached(t *testing.T, variantID int64) int64 {
	t.Helper()
	v, ok, err := f.cache.Available(context.Background(), variantID)
	require.NoError(t, err)
	require.True(t, ok)
	return v
}
