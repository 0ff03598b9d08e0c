package client

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// MockProductClient — конфигурируемая заглушка ProductClient для тестов.
// Если Next задан, успешные вызовы делегируются ему.
type MockProductClient struct {
	Next ProductClient

	GetVariantErr error
	DecrementErr  error
	UpdateErr     error
	// FailUpdateAfter задаёт, сколько вызовов UpdateStock пройдут до возврата UpdateErr.
	FailUpdateAfter int

	mu             sync.Mutex
	DecrementCalls int
	UpdateCalls    int
	Deltas         map[int64]int64
}

// NewMockProductClient возвращает mock с успешным сценарием по умолчанию.
func NewMockProductClient(next ProductClient) *MockProductClient {
	return &MockProductClient{Next: next, Deltas: make(map[int64]int64)}
}

func (m *MockProductClient) GetVariant(ctx context.Context, variantID int64) (domain.ProductVariant, error) {
	if m.GetVariantErr != nil {
		return domain.ProductVariant{}, m.GetVariantErr
	}
	if m.Next == nil {
		return domain.ProductVariant{}, domain.ErrVariantNotFound
	}
	return m.Next.GetVariant(ctx, variantID)
}

func (m *MockProductClient) DecrementStock(ctx context.Context, variantID, qty int64) (bool, error) {
	m.mu.Lock()
	m.DecrementCalls++
	m.mu.Unlock()

	if m.DecrementErr != nil {
		return false, m.DecrementErr
	}
	if m.Next == nil {
		return true, nil
	}
	return m.Next.DecrementStock(ctx, variantID, qty)
}

func (m *MockProductClient) UpdateStock(ctx context.Context, variantID, delta int64) (bool, error) {
	m.mu.Lock()
	m.UpdateCalls++
	fail := m.UpdateErr != nil && m.UpdateCalls > m.FailUpdateAfter
	if !fail {
		m.Deltas[variantID] += delta
	}
	m.mu.Unlock()

	if fail {
		return false, m.UpdateErr
	}
	if m.Next == nil {
		return true, nil
	}
	return m.Next.UpdateStock(ctx, variantID, delta)
}

// Calls возвращает счётчики вызовов под блокировкой.
func (m *MockProductClient) Calls() (decrements, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DecrementCalls, m.UpdateCalls
}

var _ ProductClient = (*MockProductClient)(nil)
