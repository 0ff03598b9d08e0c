// Package cache содержит быстрые зеркала состояния: счётчики резервов остатков
// и статусы оплаты заказов.
package cache

import (
	"context"
	"errors"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/lock"
)

const (
	stockKeyPrefix     = "product_stock:"
	inflightKeyPrefix  = "product_stock_inflight:"
	stockLockKeyPrefix = "stock-lock:"
)

// StockKey возвращает ключ счётчика варианта.
func StockKey(variantID int64) string {
	return stockKeyPrefix + strconv.FormatInt(variantID, 10)
}

func inflightKey(variantID int64) string {
	return inflightKeyPrefix + strconv.FormatInt(variantID, 10)
}

// Option настраивает кеш резервов.
type Option func(*options)

type options struct {
	ledger domain.Catalog
}

// WithLedger включает сверку с учётом. Отказ счётчика перепроверяется по остатку в ledger
// под блокировкой варианта; счётчик при этом только повышается до остатка за вычетом
// резервов в полёте.
func WithLedger(ledger domain.Catalog) Option {
	return func(o *options) { o.ledger = ledger }
}

func collectOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ledgerStock читает остаток варианта в учёте. ok=false, если сверка невозможна.
func ledgerStock(ctx context.Context, ledger domain.Catalog, variantID int64, logger *log.Entry) (int64, bool) {
	if ledger == nil {
		return 0, false
	}
	variant, err := ledger.GetVariant(ctx, variantID)
	if err != nil {
		if !errors.Is(err, domain.ErrVariantNotFound) {
			logger.WithError(err).WithField("variant_id", variantID).Warn("ledger read for cache reconcile failed")
		}
		return 0, false
	}
	return variant.Stock, true
}

func stockLockKey(variantID int64) string {
	return stockLockKeyPrefix + strconv.FormatInt(variantID, 10)
}

// variantGuard сериализует операции над одним вариантом через Locker.
type variantGuard struct {
	locker domain.Locker
	opts   lock.AcquireOptions
	logger *log.Entry
}

func (g variantGuard) withLock(ctx context.Context, variantID int64, fn func() error) error {
	unlock, err := lock.Acquire(ctx, g.locker, stockLockKey(variantID), g.opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			g.logger.WithError(err).WithField("variant_id", variantID).Warn("failed to release stock lock")
		}
	}()
	return fn()
}
