package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// DefaultStatusTTL — время жизни закешированного статуса оплаты.
const DefaultStatusTTL = 5 * time.Minute

const orderStatusKeyPrefix = "order_status:"

func orderStatusKey(orderID int64) string {
	return orderStatusKeyPrefix + strconv.FormatInt(orderID, 10)
}

// RedisStatusCache кладёт итог оплаты заказа в Redis с TTL.
type RedisStatusCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStatusCache создаёт кеш статусов оплаты.
func NewRedisStatusCache(client redis.Cmdable, ttl time.Duration) *RedisStatusCache {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &RedisStatusCache{client: client, ttl: ttl}
}

func (c *RedisStatusCache) Set(ctx context.Context, orderID int64, status domain.PaymentStatus) error {
	if err := c.client.Set(ctx, orderStatusKey(orderID), string(status), c.ttl).Err(); err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	return nil
}

func (c *RedisStatusCache) Get(ctx context.Context, orderID int64) (domain.PaymentStatus, bool, error) {
	v, err := c.client.Get(ctx, orderStatusKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get order status: %w", err)
	}
	return domain.PaymentStatus(v), true, nil
}

type statusEntry struct {
	status    domain.PaymentStatus
	expiresAt time.Time
}

// MemoryStatusCache хранит статусы в памяти процесса с тем же TTL.
type MemoryStatusCache struct {
	mu      sync.Mutex
	entries map[int64]statusEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStatusCache создаёт кеш статусов в памяти.
func NewMemoryStatusCache(ttl time.Duration) *MemoryStatusCache {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &MemoryStatusCache{entries: make(map[int64]statusEntry), ttl: ttl, now: time.Now}
}

func (c *MemoryStatusCache) Set(_ context.Context, orderID int64, status domain.PaymentStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[orderID] = statusEntry{status: status, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryStatusCache) Get(_ context.Context, orderID int64) (domain.PaymentStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[orderID]
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, orderID)
		return "", false, nil
	}
	return e.status, true, nil
}
