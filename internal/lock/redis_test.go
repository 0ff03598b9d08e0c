package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("SHOP_REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis is not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLocker_OwnerCheckedRelease(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	prefix := "test:" + uuid.NewString() + ":"

	locker, err := NewRedisLocker(client, prefix)
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}

	unlock, ok, err := locker.TryLock(ctx, "job", 200*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("first lock must succeed, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := locker.TryLock(ctx, "job", time.Second); ok {
		t.Fatal("lock must be exclusive")
	}

	time.Sleep(300 * time.Millisecond)
	_, ok, err = locker.TryLock(ctx, "job", time.Second)
	if err != nil || !ok {
		t.Fatalf("expired lock must be re-acquirable, ok=%v err=%v", ok, err)
	}

	// просроченный владелец не может снять чужую блокировку
	if err := unlock(ctx); err != nil {
		t.Fatalf("stale unlock: %v", err)
	}
	if exists, _ := client.Exists(ctx, prefix+"job").Result(); exists != 1 {
		t.Fatal("stale unlock must not delete the new owner's key")
	}
}

func TestNewRedisLocker_RequiresClient(t *testing.T) {
	if _, err := NewRedisLocker(nil, ""); err == nil {
		t.Fatal("expected error for nil client")
	}
}
