package cache

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/lock"
)

// MemoryReservationCache держит зеркало остатков в памяти процесса для запуска без Redis.
type MemoryReservationCache struct {
	mu       sync.Mutex
	counters map[int64]int64
	inflight map[int64]int64
	guard    variantGuard
	ledger   domain.Catalog
}

// NewMemoryReservationCache создаёт кеш; locker обычно lock.LocalLocker.
func NewMemoryReservationCache(locker domain.Locker, opts lock.AcquireOptions, logger *log.Entry, options ...Option) *MemoryReservationCache {
	if logger == nil {
		logger = log.New().WithField("component", "reservation-cache")
	}
	o := collectOptions(options)
	return &MemoryReservationCache{
		counters: make(map[int64]int64),
		inflight: make(map[int64]int64),
		guard:    variantGuard{locker: locker, opts: opts, logger: logger},
		ledger:   o.ledger,
	}
}

func (c *MemoryReservationCache) Reserve(ctx context.Context, variantID, qty int64) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	var reserved bool
	err := c.guard.withLock(ctx, variantID, func() error {
		if reserved = c.take(variantID, qty); reserved {
			return nil
		}
		stock, ok := ledgerStock(ctx, c.ledger, variantID, c.guard.logger)
		if ok && c.raise(variantID, stock) {
			c.guard.logger.WithFields(log.Fields{"variant_id": variantID, "ledger_stock": stock}).
				Info("stock counter raised from ledger")
			reserved = c.take(variantID, qty)
		}
		return nil
	})
	return reserved, err
}

func (c *MemoryReservationCache) take(variantID, qty int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.counters[variantID]
	if !ok || current < qty {
		return false
	}
	c.counters[variantID] = current - qty
	c.inflight[variantID] += qty
	return true
}

// raise поднимает счётчик до stock минус резервы в полёте. Понижать счётчик нельзя:
// списание в учёте и Confirm не атомарны, и прочитанный остаток может быть уже уменьшен.
func (c *MemoryReservationCache) raise(variantID, stock int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := max(stock-c.inflight[variantID], 0)
	if current, ok := c.counters[variantID]; ok && current >= target {
		return false
	}
	c.counters[variantID] = target
	return true
}

func (c *MemoryReservationCache) Confirm(ctx context.Context, variantID, qty int64) error {
	return c.settle(ctx, variantID, qty, false)
}

func (c *MemoryReservationCache) Release(ctx context.Context, variantID, qty int64) error {
	return c.settle(ctx, variantID, qty, true)
}

func (c *MemoryReservationCache) settle(ctx context.Context, variantID, qty int64, giveBack bool) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return c.guard.withLock(ctx, variantID, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()

		if left := c.inflight[variantID] - qty; left > 0 {
			c.inflight[variantID] = left
		} else {
			delete(c.inflight, variantID)
		}
		if _, ok := c.counters[variantID]; ok && giveBack {
			c.counters[variantID] += qty
		}
		return nil
	})
}

// Restock возвращает qty в существующий счётчик. Отсутствующий счётчик засеется из учёта.
func (c *MemoryReservationCache) Restock(ctx context.Context, variantID, qty int64) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return c.guard.withLock(ctx, variantID, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.counters[variantID]; ok {
			c.counters[variantID] += qty
		}
		return nil
	})
}

func (c *MemoryReservationCache) Reset(_ context.Context, levels map[int64]int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters = make(map[int64]int64, len(levels))
	c.inflight = make(map[int64]int64)
	for id, stock := range levels {
		c.counters[id] = stock
	}
	return nil
}

func (c *MemoryReservationCache) Available(_ context.Context, variantID int64) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.counters[variantID]
	return v, ok, nil
}

var _ domain.ReservationCache = (*MemoryReservationCache)(nil)
