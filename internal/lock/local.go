package lock

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

type localEntry struct {
	token     uint64
	expiresAt time.Time
}

// LocalLocker реализует Locker в пределах одного процесса с теми же правилами истечения, что у Redis.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]localEntry
	seq     uint64
	now     func() time.Time
}

// NewLocalLocker создаёт in-process Locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]localEntry), now: time.Now}
}

// TryLock захватывает ключ, если он свободен или удержание истекло.
func (l *LocalLocker) TryLock(_ context.Context, key string, hold time.Duration) (domain.Unlock, bool, error) {
	if hold <= 0 {
		hold = DefaultHold
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if current, held := l.entries[key]; held && now.Before(current.expiresAt) {
		return nil, false, nil
	}
	l.seq++
	token := l.seq
	l.entries[key] = localEntry{token: token, expiresAt: now.Add(hold)}

	unlock := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, ok := l.entries[key]; ok && current.token == token {
			delete(l.entries, key)
		}
		return nil
	}
	return unlock, true, nil
}

var _ domain.Locker = (*LocalLocker)(nil)
