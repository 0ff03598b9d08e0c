package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/lock"
)

// reserveScript возвращает -1, если ключа нет, 0 при нехватке и 1 после списания.
// Списанное количество добавляется к резервам в полёте (KEYS[2]).
var reserveScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
	return -1
end
if tonumber(current) >= tonumber(ARGV[1]) then
	redis.call("DECRBY", KEYS[1], ARGV[1])
	redis.call("INCRBY", KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// settleScript снимает qty с резервов в полёте; при ARGV[2] == "1" возвращает qty в счётчик.
var settleScript = redis.NewScript(`
local left = tonumber(redis.call("GET", KEYS[2]) or "0") - tonumber(ARGV[1])
if left > 0 then
	redis.call("SET", KEYS[2], left)
else
	redis.call("DEL", KEYS[2])
end
if ARGV[2] == "1" and redis.call("EXISTS", KEYS[1]) == 1 then
	redis.call("INCRBY", KEYS[1], ARGV[1])
end
return 1
`)

// restockScript увеличивает только существующий счётчик.
var restockScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("INCRBY", KEYS[1], ARGV[1])
end
return -1
`)

// raiseScript поднимает счётчик до остатка учёта за вычетом резервов в полёте, но не понижает его.
var raiseScript = redis.NewScript(`
local target = tonumber(ARGV[1]) - tonumber(redis.call("GET", KEYS[2]) or "0")
if target < 0 then
	target = 0
end
local current = redis.call("GET", KEYS[1])
if current and tonumber(current) >= target then
	return 0
end
redis.call("SET", KEYS[1], target)
return 1
`)

// RedisReservationCache хранит зеркало остатков в Redis под ключами product_stock:<id>.
type RedisReservationCache struct {
	client redis.Cmdable
	guard  variantGuard
	ledger domain.Catalog
	logger *log.Entry
}

// NewRedisReservationCache создаёт кеш резервов. Для блокировок вариантов используется locker.
func NewRedisReservationCache(client redis.Cmdable, locker domain.Locker, opts lock.AcquireOptions, logger *log.Entry, options ...Option) *RedisReservationCache {
	if logger == nil {
		logger = log.New().WithField("component", "reservation-cache")
	}
	return &RedisReservationCache{
		client: client,
		guard:  variantGuard{locker: locker, opts: opts, logger: logger},
		ledger: collectOptions(options).ledger,
		logger: logger,
	}
}

func counterKeys(variantID int64) []string {
	return []string{StockKey(variantID), inflightKey(variantID)}
}

// Reserve уменьшает счётчик, если в нём не меньше qty. Отказ перепроверяется по учёту.
func (c *RedisReservationCache) Reserve(ctx context.Context, variantID, qty int64) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrInvalidQuantity
	}

	var reserved bool
	err := c.guard.withLock(ctx, variantID, func() error {
		res, err := reserveScript.Run(ctx, c.client, counterKeys(variantID), qty).Int()
		if err != nil {
			return fmt.Errorf("reserve script: %w", err)
		}
		if res == 1 {
			reserved = true
			return nil
		}

		entry := c.logger.WithField("variant_id", variantID)
		stock, ok := ledgerStock(ctx, c.ledger, variantID, c.logger)
		if !ok {
			if res < 0 {
				entry.Warn("stock counter missing in cache, refusing reservation")
			}
			return nil
		}
		raised, err := raiseScript.Run(ctx, c.client, counterKeys(variantID), stock).Int()
		if err != nil {
			return fmt.Errorf("raise script: %w", err)
		}
		if raised == 0 {
			return nil
		}
		entry.WithField("ledger_stock", stock).Info("stock counter raised from ledger")
		if res, err = reserveScript.Run(ctx, c.client, counterKeys(variantID), qty).Int(); err != nil {
			return fmt.Errorf("reserve script: %w", err)
		}
		reserved = res == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return reserved, nil
}

// Confirm снимает резерв в полёте после списания в учёте.
func (c *RedisReservationCache) Confirm(ctx context.Context, variantID, qty int64) error {
	return c.settle(ctx, variantID, qty, "0")
}

// Release возвращает неподтверждённый резерв в счётчик.
func (c *RedisReservationCache) Release(ctx context.Context, variantID, qty int64) error {
	return c.settle(ctx, variantID, qty, "1")
}

func (c *RedisReservationCache) settle(ctx context.Context, variantID, qty int64, giveBack string) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return c.guard.withLock(ctx, variantID, func() error {
		if err := settleScript.Run(ctx, c.client, counterKeys(variantID), qty, giveBack).Err(); err != nil {
			return fmt.Errorf("settle script: %w", err)
		}
		return nil
	})
}

// Restock зеркалит возврат товара. Отсутствующий счётчик не создаётся: его засеет Reserve.
func (c *RedisReservationCache) Restock(ctx context.Context, variantID, qty int64) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return c.guard.withLock(ctx, variantID, func() error {
		if err := restockScript.Run(ctx, c.client, []string{StockKey(variantID)}, qty).Err(); err != nil {
			return fmt.Errorf("restock script: %w", err)
		}
		return nil
	})
}

// Reset перезаписывает счётчики значениями из учёта и обнуляет резервы в полёте.
func (c *RedisReservationCache) Reset(ctx context.Context, levels map[int64]int64) error {
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, stock := range levels {
			pipe.Set(ctx, StockKey(id), stock, 0)
			pipe.Del(ctx, inflightKey(id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset stock counters: %w", err)
	}
	return nil
}

// Available читает счётчик без блокировки.
func (c *RedisReservationCache) Available(ctx context.Context, variantID int64) (int64, bool, error) {
	v, err := c.client.Get(ctx, StockKey(variantID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get stock counter: %w", err)
	}
	return v, true, nil
}

var _ domain.ReservationCache = (*RedisReservationCache)(nil)
