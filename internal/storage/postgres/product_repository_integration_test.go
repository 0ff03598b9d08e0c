package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

func TestProductRepository_PostgresConditionalDecrement(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewProductRepository(store)
	variant := seedVariantForIntegrationTest(t, store, 3)
	ctx := context.Background()

	ok, err := repo.Decrement(ctx, variant.ID, 3)
	if err != nil || !ok {
		t.Fatalf("expected success, ok=%v err=%v", ok, err)
	}
	ok, err = repo.Decrement(ctx, variant.ID, 1)
	if err != nil || ok {
		t.Fatalf("expected refusal on empty stock, ok=%v err=%v", ok, err)
	}
	if _, err := repo.Decrement(ctx, 9999, 1); !errors.Is(err, domain.ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound, got %v", err)
	}
	if err := repo.Increment(ctx, variant.ID, 2); err != nil {
		t.Fatalf("increment: %v", err)
	}

	levels, err := repo.StockLevels(ctx)
	if err != nil {
		t.Fatalf("stock levels: %v", err)
	}
	if levels[variant.ID] != 2 {
		t.Fatalf("expected stock 2, got %d", levels[variant.ID])
	}
}

func TestProductRepository_PostgresConcurrentDecrement(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewProductRepository(store)
	variant := seedVariantForIntegrationTest(t, store, 20)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := repo.Decrement(ctx, variant.ID, 1); err == nil && ok {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 20 {
		t.Fatalf("expected exactly 20 successful decrements, got %d", succeeded.Load())
	}
	got, _ := repo.GetVariant(ctx, variant.ID)
	if got.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", got.Stock)
	}
}
