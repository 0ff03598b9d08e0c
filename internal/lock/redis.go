package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// releaseScript удаляет ключ, только если значение совпадает с токеном владельца.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisStore описывает операции go-redis, которые использует RedisLocker.
type redisStore interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLocker реализует domain.Locker через SET NX PX с токеном владельца.
type RedisLocker struct {
	client redisStore
	prefix string
}

// NewRedisLocker создаёт распределённый Locker. prefix добавляется ко всем ключам.
func NewRedisLocker(client redisStore, prefix string) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	return &RedisLocker{client: client, prefix: prefix}, nil
}

// TryLock делает одну попытку захвата на hold.
func (l *RedisLocker) TryLock(ctx context.Context, key string, hold time.Duration) (domain.Unlock, bool, error) {
	if key == "" {
		return nil, false, errors.New("lock key is required")
	}
	if hold <= 0 {
		hold = DefaultHold
	}

	fullKey := l.prefix + key
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, fullKey, owner, hold).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{fullKey}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", fullKey, err)
		}
		return nil
	}
	return unlock, true, nil
}

var _ domain.Locker = (*RedisLocker)(nil)
