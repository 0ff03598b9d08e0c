package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopsaga/internal/config"
	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/saga"
)

const scenarioCatalog = `[{"id":1,"product_id":1,"name":"Sneakers","price":"99.90","stock":20}]`

func scenarioComponents(t *testing.T, env map[string]string) *components {
	t.Helper()
	if env == nil {
		env = map[string]string{}
	}
	env[config.EnvSeedCatalog] = scenarioCatalog
	c, _ := buildTestComponents(t, testConfig(t, env))
	return c
}

func ledgerStock(t *testing.T, c *components, variantID int64) int64 {
	t.Helper()
	v, err := c.storage.products.GetVariant(context.Background(), variantID)
	require.NoError(t, err)
	return v.Stock
}

func cachedStock(t *testing.T, c *components, variantID int64) int64 {
	t.Helper()
	available, ok, err := c.reservations.Available(context.Background(), variantID)
	require.NoError(t, err)
	require.True(t, ok)
	return available
}

func TestConcurrentLargeOrdersOnlyOneWins(t *testing.T) {
	c := scenarioComponents(t, nil)
	ctx := context.Background()

	quantities := []int64{18, 10}
	errs := make([]error, len(quantities))
	var wg sync.WaitGroup
	for i, qty := range quantities {
		i, qty := i, qty
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.orchestrator.PlaceOrder(ctx, saga.PlaceOrderRequest{OwnerID: int64(i + 1), VariantID: 1, Quantity: qty})
		}()
	}
	wg.Wait()

	var winner int64
	wins := 0
	for i, err := range errs {
		if err == nil {
			wins++
			winner = quantities[i]
			continue
		}
		assert.True(t, domain.IsOutOfStock(err), err)
	}
	require.Equal(t, 1, wins)
	assert.Equal(t, 20-winner, ledgerStock(t, c, 1))
	assert.Equal(t, 20-winner, cachedStock(t, c, 1))
}

func TestHundredBuyersForTwentyUnits(t *testing.T) {
	c := scenarioComponents(t, nil)
	ctx := context.Background()

	var succeeded, soldOut atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.orchestrator.PlaceOrder(ctx, saga.PlaceOrderRequest{OwnerID: int64(i + 1), VariantID: 1, Quantity: 1})
			switch {
			case err == nil:
				succeeded.Add(1)
			case domain.IsOutOfStock(err):
				soldOut.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), succeeded.Load())
	assert.Equal(t, int64(80), soldOut.Load())
	assert.Zero(t, ledgerStock(t, c, 1))
	assert.Zero(t, cachedStock(t, c, 1))

	orders, err := c.storage.orders.FindBatch(ctx, domain.OrderBatchQuery{
		Status:    domain.OrderStatusOrdered,
		DateField: domain.OrderDateCreated,
		Before:    time.Now().Add(time.Minute),
		Limit:     1000,
	})
	require.NoError(t, err)
	assert.Len(t, orders, 20)
}

func TestStuckPaymentIsCanceledAndRestockedOnce(t *testing.T) {
	c := scenarioComponents(t, map[string]string{"SHOP_COMPENSATOR_THRESHOLD": "5m"})
	ctx := context.Background()

	order, err := c.orchestrator.PlaceOrder(ctx, saga.PlaceOrderRequest{OwnerID: 1, VariantID: 1, Quantity: 3})
	require.NoError(t, err)
	require.Equal(t, int64(17), ledgerStock(t, c, 1))

	payment, err := c.processor.Initiate(ctx, order.ID)
	require.NoError(t, err)
	_, err = c.storage.payments.CompareAndSetStatus(ctx, payment.ID, domain.PaymentStatusPending,
		domain.PaymentStatusProcessing, time.Now().Add(-6*time.Minute))
	require.NoError(t, err)

	res, err := c.timeoutWorker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Compensated)

	status, err := c.processor.Status(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCanceled, status)

	stored, err := c.storage.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, stored.Status)
	assert.Equal(t, int64(20), ledgerStock(t, c, 1))
	assert.Equal(t, int64(20), cachedStock(t, c, 1))

	res, err = c.timeoutWorker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Compensated)
	assert.Equal(t, int64(20), ledgerStock(t, c, 1))
}

func TestReturnOfDeliveredOrderRestocks(t *testing.T) {
	c := scenarioComponents(t, map[string]string{
		"SHOP_LIFECYCLE_SHIP_AFTER":           "1ms",
		"SHOP_LIFECYCLE_DELIVER_AFTER":        "1ms",
		"SHOP_LIFECYCLE_RETURN_PROCESS_AFTER": "1ms",
	})
	ctx := context.Background()

	order, err := c.orchestrator.PlaceOrder(ctx, saga.PlaceOrderRequest{OwnerID: 7, VariantID: 1, Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, int64(18), ledgerStock(t, c, 1))

	time.Sleep(5 * time.Millisecond)
	report, err := c.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Shipped)
	assert.Equal(t, 1, report.Delivered)

	delivered, err := c.storage.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusDelivered, delivered.Status)
	require.True(t, delivered.Returnable)

	_, err = c.orchestrator.RequestReturn(ctx, order.ID, 8)
	assert.ErrorIs(t, err, domain.ErrNotOrderOwner)

	requested, err := c.orchestrator.RequestReturn(ctx, order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReturnRequest, requested.Status)
	assert.Equal(t, int64(18), ledgerStock(t, c, 1))

	time.Sleep(5 * time.Millisecond)
	report, err = c.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Returned)

	returned, err := c.storage.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReturned, returned.Status)
	assert.Equal(t, int64(20), ledgerStock(t, c, 1))
	assert.Equal(t, int64(20), cachedStock(t, c, 1))
}
