package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

var errTransient = errors.New("connection reset")

func newTestClient(maxAttempts, threshold int) *Client {
	c := NewClient("product",
		RetryConfig{MaxAttempts: maxAttempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2},
		BreakerConfig{FailureThreshold: threshold, OpenTimeout: time.Minute},
		log.New().WithField("test", "resilience"),
	)
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Positive(t, cfg.InitialDelay)
	assert.Positive(t, cfg.MaxDelay)
	assert.Greater(t, cfg.BackoffFactor, 1.0)
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	c := newTestClient(3, 10)

	attempts := 0
	err := c.Execute(context.Background(), "get", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, CircuitClosed, c.Breaker().State())
}

func TestExecuteReturnsBusinessErrorWithoutRetry(t *testing.T) {
	c := newTestClient(3, 1)

	attempts := 0
	err := c.Execute(context.Background(), "get", func(context.Context) error {
		attempts++
		return domain.ErrVariantNotFound
	})

	require.ErrorIs(t, err, domain.ErrVariantNotFound)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, CircuitClosed, c.Breaker().State(), "business errors must not trip the breaker")
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	c := newTestClient(2, 10)

	attempts := 0
	err := c.Execute(context.Background(), "get", func(context.Context) error {
		attempts++
		return errTransient
	})

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, attempts)
}

func TestExecuteFailsFastWhenOpen(t *testing.T) {
	c := newTestClient(1, 2)
	failing := func(context.Context) error { return errTransient }

	_ = c.Execute(context.Background(), "get", failing)
	_ = c.Execute(context.Background(), "get", failing)
	require.Equal(t, CircuitOpen, c.Breaker().State())

	called := false
	err := c.Execute(context.Background(), "get", func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.False(t, called)
}

func TestExecuteOnceDoesNotRetry(t *testing.T) {
	c := newTestClient(5, 10)

	attempts := 0
	err := c.ExecuteOnce(context.Background(), "decrement", func(context.Context) error {
		attempts++
		return errTransient
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecuteStopsOnContextCancel(t *testing.T) {
	c := newTestClient(5, 10)
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := c.Execute(ctx, "get", func(context.Context) error {
		attempts++
		cancel()
		return errTransient
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestExecuteAppliesAttemptTimeout(t *testing.T) {
	c := newTestClient(1, 10)
	c.retry.AttemptTimeout = 10 * time.Millisecond

	err := c.Execute(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
}
