package compensation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

func newTestTimeoutWorker(f *fixture, now time.Time, options ...TimeoutOption) *TimeoutWorker {
	w := NewTimeoutWorker(f.store.Payments, f.restocker, options...)
	w.now = func() time.Time { return now }
	return w
}

func TestTimeoutWorkerRestocksExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	variant := f.addVariant(t, 10)
	order, payment := f.placeOrder(t, 1, now.Add(-6*time.Minute), StockLine{VariantID: variant, Quantity: 3})

	w := newTestTimeoutWorker(f, now)

	res, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, TimeoutResult{Compensated: 1}, res)
	assert.Equal(t, int64(10), f.stock(t, variant))

	stored, err := f.store.Payments.GetByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCanceled, stored.Status)
	assert.Equal(t, payment.ID, stored.ID)

	storedOrder, err := f.store.Orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, storedOrder.Status)

	res, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, TimeoutResult{}, res)
	assert.Equal(t, int64(10), f.stock(t, variant))
}

func TestTimeoutWorkerIgnoresFreshPayments(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	variant := f.addVariant(t, 10)
	f.placeOrder(t, 1, now.Add(-4*time.Minute), StockLine{VariantID: variant, Quantity: 3})

	res, err := newTestTimeoutWorker(f, now).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Compensated)
	assert.Equal(t, int64(7), f.stock(t, variant))
}

func TestTimeoutWorkerPagesThroughBatches(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	variant := f.addVariant(t, 10)
	for i := 0; i < 5; i++ {
		f.placeOrder(t, int64(i+1), now.Add(-time.Hour), StockLine{VariantID: variant, Quantity: 1})
	}

	res, err := newTestTimeoutWorker(f, now, WithBatchSize(2)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Compensated)
	assert.Equal(t, int64(10), f.stock(t, variant))
}

func TestTimeoutWorkerCancelsPaymentOfShippedOrderWithoutRestock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	variant := f.addVariant(t, 10)
	order, _ := f.placeOrder(t, 1, now.Add(-time.Hour), StockLine{VariantID: variant, Quantity: 2})

	stored, err := f.store.Orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.NoError(t, stored.StartShipping(now))
	require.NoError(t, f.store.Orders.Save(ctx, stored))

	res, err := newTestTimeoutWorker(f, now).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Compensated)
	assert.Equal(t, int64(8), f.stock(t, variant))

	payment, err := f.store.Payments.GetByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCanceled, payment.Status)
}

// racingPayments меняет статус платежа между выборкой и компенсацией.
type racingPayments struct {
	domain.PaymentRepository
	once sync.Once
}

func (r *racingPayments) FindStale(ctx context.Context, query domain.StalePaymentQuery) ([]domain.Payment, error) {
	batch, err := r.PaymentRepository.FindStale(ctx, query)
	r.once.Do(func() {
		for _, p := range batch {
			_, _ = r.PaymentRepository.CompareAndSetStatus(ctx, p.ID, p.Status, domain.PaymentStatusProcessing, time.Now())
		}
	})
	return batch, err
}

func TestTimeoutWorkerSkipsPaymentChangedConcurrently(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	variant := f.addVariant(t, 10)
	f.placeOrder(t, 1, now.Add(-time.Hour), StockLine{VariantID: variant, Quantity: 2})

	w := NewTimeoutWorker(&racingPayments{PaymentRepository: f.store.Payments}, f.restocker)
	w.now = func() time.Time { return now }

	res, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TimeoutResult{Skipped: 1}, res)
	assert.Equal(t, int64(8), f.stock(t, variant))
}

type blockingPayments struct {
	domain.PaymentRepository
	entered chan struct{}
	release chan struct{}
}

func (b *blockingPayments) FindStale(ctx context.Context, query domain.StalePaymentQuery) ([]domain.Payment, error) {
	close(b.entered)
	<-b.release
	return nil, nil
}

func TestTimeoutWorkerRunsDoNotOverlap(t *testing.T) {
	f := newFixture(t)
	repo := &blockingPayments{
		PaymentRepository: f.store.Payments,
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	w := NewTimeoutWorker(repo, f.restocker)

	done := make(chan error, 1)
	go func() {
		_, err := w.RunOnce(context.Background())
		done <- err
	}()
	<-repo.entered

	_, err := w.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrJobAlreadyRunning)

	close(repo.release)
	require.NoError(t, <-done)
}

func TestNewTimeoutWorkerDefaults(t *testing.T) {
	w := NewTimeoutWorker(nil, nil, WithInterval(-1), WithThreshold(0), WithBatchSize(0))
	assert.Equal(t, defaultTimeoutInterval, w.interval)
	assert.Equal(t, defaultTimeoutThreshold, w.threshold)
	assert.Equal(t, defaultTimeoutBatchSize, w.batchSize)
}
