package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/shopsaga/internal/resilience"
)

// Pinger умеет проверить соединение (например, *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewPostgresChecker проверяет доступность базы.
func NewPostgresChecker(db Pinger) *SimpleChecker {
	return NewSimpleChecker("postgres", func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		return nil
	})
}

// NewRedisChecker проверяет доступность Redis.
func NewRedisChecker(client redis.Cmdable) *SimpleChecker {
	return NewSimpleChecker("redis", func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	})
}

// BreakerChecker сообщает degraded, если хотя бы один circuit breaker не замкнут.
// Сервис при этом продолжает принимать запросы, поэтому readiness не падает.
type BreakerChecker struct {
	breakers []*resilience.CircuitBreaker
}

func NewBreakerChecker(breakers ...*resilience.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{breakers: breakers}
}

func (c *BreakerChecker) Check(context.Context) Check {
	start := time.Now()
	var notClosed []string
	for _, b := range c.breakers {
		if state := b.State(); state != resilience.CircuitClosed {
			notClosed = append(notClosed, b.Name()+"="+state.String())
		}
	}
	check := Check{Name: "circuit-breakers", Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if len(notClosed) > 0 {
		check.Status = StatusDegraded
		check.Message = strings.Join(notClosed, ", ")
	}
	return check
}
