package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

type journalKey struct{}

// journal копит обратные операции текущей единицы работы и отложенные до фиксации изменения.
type journal struct {
	undo     []func()
	onCommit []func()
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
	j.onCommit = nil
}

func (j *journal) commit() {
	for _, fn := range j.onCommit {
		fn()
	}
	j.onCommit = nil
}

// recordUndo регистрирует откат изменения, если операция выполняется внутри WithinTx.
func recordUndo(ctx context.Context, fn func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.undo = append(j.undo, fn)
	}
}

// applyOnCommit выполняет fn сразу вне транзакции или откладывает до её фиксации.
// Так чужие запросы не видят незафиксированное изменение.
func applyOnCommit(ctx context.Context, fn func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.onCommit = append(j.onCommit, fn)
		return
	}
	fn()
}

// Transactor — in-memory единица работы: транзакции выполняются последовательно,
// при ошибке изменения откатываются по журналу в обратном порядке.
type Transactor struct {
	mu sync.Mutex
}

// NewTransactor создаёт in-memory Transactor.
func NewTransactor() *Transactor {
	return &Transactor{}
}

// WithinTx выполняет fn атомарно относительно других транзакций этого Transactor.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, nested := ctx.Value(journalKey{}).(*journal); nested {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	j := &journal{}
	defer func() {
		if p := recover(); p != nil {
			j.rollback()
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	j.commit()
	return nil
}

var _ domain.Transactor = (*Transactor)(nil)
