package coupon

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MockRepo is an in-memory Repo with optional hooks.
type MockRepo struct {
	mu      sync.Mutex
	coupons map[uuid.UUID]*Coupon

	GetByCodeFunc      func(ctx context.Context, tenantID uuid.UUID, code string) (*Coupon, error)
	IncrementUsageFunc func(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
}

func NewMockRepo(coupons ...*Coupon) *MockRepo {
	m := &MockRepo{coupons: make(map[uuid.UUID]*Coupon)}
	for _, c := range coupons {
		m.coupons[c.ID] = c
	}
	return m
}

func (m *MockRepo) Create(ctx context.Context, c *Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.coupons[c.ID] = &cp
	return nil
}

func (m *MockRepo) GetByCode(ctx context.Context, tenantID uuid.UUID, code string) (*Coupon, error) {
	if m.GetByCodeFunc != nil {
		return m.GetByCodeFunc(ctx, tenantID, code)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.coupons {
		if c.TenantID == tenantID && c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockRepo) List(ctx context.Context, tenantID uuid.UUID) ([]*Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Coupon
	for _, c := range m.coupons {
		if c.TenantID == tenantID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockRepo) IncrementUsage(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	if m.IncrementUsageFunc != nil {
		return m.IncrementUsageFunc(ctx, tenantID, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[id]
	if !ok || c.TenantID != tenantID || c.Exhausted() {
		return false, nil
	}
	c.UsageCount++
	return true, nil
}

func (m *MockRepo) DecrementUsage(ctx context.Context, tenantID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.coupons[id]; ok && c.TenantID == tenantID && c.UsageCount > 0 {
		c.UsageCount--
	}
	return nil
}

func (m *MockRepo) usage(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[id].UsageCount
}
