package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

type variantRecord struct {
	variant domain.ProductVariant
	stock   atomic.Int64
}

// ProductRepository — каталог и учёт остатков в памяти.
// Остаток каждого варианта меняется только CAS-операциями над атомарным счётчиком.
type ProductRepository struct {
	mu       sync.RWMutex
	variants map[int64]*variantRecord
	nextID   int64
}

// NewProductRepository создаёт пустой каталог.
func NewProductRepository() *ProductRepository {
	return &ProductRepository{variants: make(map[int64]*variantRecord)}
}

// Upsert добавляет или заменяет вариант вместе с остатком. Нулевой ID назначается автоматически.
func (r *ProductRepository) Upsert(variant domain.ProductVariant) domain.ProductVariant {
	r.mu.Lock()
	defer r.mu.Unlock()

	if variant.ID == 0 {
		r.nextID++
		variant.ID = r.nextID
	} else if variant.ID > r.nextID {
		r.nextID = variant.ID
	}
	rec := &variantRecord{variant: variant}
	rec.stock.Store(variant.Stock)
	r.variants[variant.ID] = rec
	return variant
}

// SetVisible скрывает или возвращает вариант в продажу.
func (r *ProductRepository) SetVisible(id int64, visible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.variants[id]
	if !ok {
		return domain.ErrVariantNotFound
	}
	rec.variant.Visible = visible
	return nil
}

func (r *ProductRepository) record(id int64) (*variantRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.variants[id]
	if !ok {
		return nil, domain.ErrVariantNotFound
	}
	return rec, nil
}

// GetVariant возвращает вариант с текущим остатком.
func (r *ProductRepository) GetVariant(_ context.Context, id int64) (domain.ProductVariant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.variants[id]
	if !ok {
		return domain.ProductVariant{}, domain.ErrVariantNotFound
	}
	variant := rec.variant
	variant.Stock = rec.stock.Load()
	return variant, nil
}

// Decrement списывает qty, только если остаток не меньше qty.
func (r *ProductRepository) Decrement(ctx context.Context, variantID, qty int64) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	rec, err := r.record(variantID)
	if err != nil {
		return false, err
	}
	for {
		current := rec.stock.Load()
		if current < qty {
			return false, nil
		}
		if rec.stock.CompareAndSwap(current, current-qty) {
			recordUndo(ctx, func() { rec.stock.Add(qty) })
			return true, nil
		}
	}
}

// Increment безусловно возвращает qty в остаток. Внутри транзакции возврат становится
// виден только после фиксации.
func (r *ProductRepository) Increment(ctx context.Context, variantID, qty int64) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	rec, err := r.record(variantID)
	if err != nil {
		return err
	}
	applyOnCommit(ctx, func() { rec.stock.Add(qty) })
	return nil
}

// StockLevels возвращает снимок остатков всех вариантов.
func (r *ProductRepository) StockLevels(_ context.Context) (map[int64]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	levels := make(map[int64]int64, len(r.variants))
	for id, rec := range r.variants {
		levels[id] = rec.stock.Load()
	}
	return levels, nil
}

// List возвращает варианты по возрастанию ID (используется при сидировании и в тестах).
func (r *ProductRepository) List() []domain.ProductVariant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.ProductVariant, 0, len(r.variants))
	for _, rec := range r.variants {
		v := rec.variant
		v.Stock = rec.stock.Load()
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

var _ domain.ProductRepository = (*ProductRepository)(nil)
