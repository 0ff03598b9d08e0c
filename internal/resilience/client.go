// Package resilience оборачивает вызовы коллабораторов повторными попытками
// с экспоненциальной задержкой и circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// AttemptTimeout ограничивает одну попытку; 0 снимает ограничение.
	AttemptTimeout time.Duration
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		BackoffFactor:  2.0,
		AttemptTimeout: 3 * time.Second,
	}
}

// Client выполняет операции через breaker и retry.
type Client struct {
	name    string
	retry   RetryConfig
	breaker *CircuitBreaker
	logger  *log.Entry
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewClient создаёт устойчивого клиента с собственным breaker.
func NewClient(name string, retry RetryConfig, breaker BreakerConfig, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.New().WithField("component", "resilient-client")
	}
	def := DefaultRetryConfig()
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = def.MaxAttempts
	}
	if retry.InitialDelay <= 0 {
		retry.InitialDelay = def.InitialDelay
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = def.MaxDelay
	}
	if retry.BackoffFactor < 1 {
		retry.BackoffFactor = def.BackoffFactor
	}
	logger = logger.WithField("client", name)
	return &Client{
		name:    name,
		retry:   retry,
		breaker: NewCircuitBreaker(name, breaker, logger),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Breaker даёт доступ к состоянию breaker (метрики, health).
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// Execute выполняет fn с повторами. Бизнес-ошибки возвращаются сразу и не влияют на breaker.
func (c *Client) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return c.execute(ctx, operation, c.retry.MaxAttempts, fn)
}

// ExecuteOnce выполняет fn один раз под защитой breaker. Для неидемпотентных вызовов,
// повтор которых после неясного исхода может задвоить эффект.
func (c *Client) ExecuteOnce(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return c.execute(ctx, operation, 1, fn)
}

func (c *Client) execute(ctx context.Context, operation string, attempts int, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := c.retry.InitialDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.breaker.Allow(); err != nil {
			return fmt.Errorf("%s %s: %w", c.name, operation, err)
		}

		err := c.attempt(ctx, fn)
		switch {
		case err == nil:
			c.breaker.RecordSuccess()
			if attempt > 1 {
				c.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("operation succeeded after retry")
			}
			return nil
		case domain.IsBusinessError(err):
			c.breaker.Release()
			return err
		case ctx.Err() != nil:
			c.breaker.Release()
			return ctx.Err()
		}

		c.breaker.RecordFailure()
		lastErr = err

		if attempt < attempts {
			c.logger.WithFields(log.Fields{
				"operation": operation,
				"attempt":   attempt,
				"delay":     delay,
			}).WithError(err).Warn("operation failed, retrying")

			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			delay = time.Duration(float64(delay) * c.retry.BackoffFactor)
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}
	}

	c.logger.WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": attempts,
	}).WithError(lastErr).Error("operation failed after all attempts")
	return fmt.Errorf("%s %s failed after %d attempts: %w", c.name, operation, attempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.retry.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.retry.AttemptTimeout)
	defer cancel()

	err := fn(attemptCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("attempt timed out after %s: %w", c.retry.AttemptTimeout, err)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
