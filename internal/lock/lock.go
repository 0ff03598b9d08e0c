// Package lock выдаёт именованные блокировки с ограниченным временем удержания:
// распределённые через Redis и локальные для одного процесса.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

const (
	// DefaultHold — сколько блокировка живёт без явного снятия.
	DefaultHold = 30 * time.Second
	// DefaultWait — сколько ждать освобождения занятой блокировки.
	DefaultWait = 60 * time.Second

	minRetryInterval = 5 * time.Millisecond
	maxRetryInterval = 100 * time.Millisecond
)

// AcquireOptions задаёт тайминги ожидания блокировки.
type AcquireOptions struct {
	Hold time.Duration
	Wait time.Duration
}

func (o AcquireOptions) withDefaults() AcquireOptions {
	if o.Hold <= 0 {
		o.Hold = DefaultHold
	}
	if o.Wait <= 0 {
		o.Wait = DefaultWait
	}
	return o
}

// Acquire повторяет TryLock, пока блокировка не освободится или не истечёт Wait.
// По истечении возвращает domain.ErrLockNotAcquired.
func Acquire(ctx context.Context, locker domain.Locker, key string, opts AcquireOptions) (domain.Unlock, error) {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.Wait)
	interval := minRetryInterval

	for {
		unlock, ok, err := locker.TryLock(ctx, key, opts.Hold)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return unlock, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockNotAcquired)
		}
		if interval > remaining {
			interval = remaining
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		interval *= 2
		if interval > maxRetryInterval {
			interval = maxRetryInterval
		}
	}
}
