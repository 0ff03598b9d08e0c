package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

func TestLocalLocker_ExclusiveUntilUnlock(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "stock-lock:1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock must succeed, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx, "stock-lock:1", time.Minute); ok {
		t.Fatal("second lock must fail while held")
	}
	if _, ok, _ := l.TryLock(ctx, "stock-lock:2", time.Minute); !ok {
		t.Fatal("other key must be independent")
	}
	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, ok, _ := l.TryLock(ctx, "stock-lock:1", time.Minute); !ok {
		t.Fatal("lock must be free after unlock")
	}
}

func TestLocalLocker_HoldExpires(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	staleUnlock, _, _ := l.TryLock(ctx, "k", 30*time.Second)
	now = now.Add(31 * time.Second)

	_, ok, _ := l.TryLock(ctx, "k", 30*time.Second)
	if !ok {
		t.Fatal("expired hold must be taken over")
	}
	// снятие просроченным владельцем не трогает нового
	_ = staleUnlock(ctx)
	if _, ok, _ := l.TryLock(ctx, "k", 30*time.Second); ok {
		t.Fatal("stale owner must not release the new holder")
	}
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, _, _ := l.TryLock(ctx, "k", time.Minute)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = unlock(ctx)
	}()

	got, err := Acquire(ctx, l, "k", AcquireOptions{Hold: time.Second, Wait: time.Second})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_ = got(ctx)
}

func TestAcquire_TimesOut(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()
	_, _, _ = l.TryLock(ctx, "k", time.Minute)

	_, err := Acquire(ctx, l, "k", AcquireOptions{Hold: time.Second, Wait: 30 * time.Millisecond})
	if !errors.Is(err, domain.ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}
}

func TestAcquire_SerializesCriticalSection(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := Acquire(ctx, l, "k", AcquireOptions{Hold: time.Second, Wait: 5 * time.Second})
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			_ = unlock(ctx)
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("critical section must be exclusive, saw %d holders", maxSeen)
	}
}
