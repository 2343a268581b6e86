package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/appetiteclub/checkout/services/order/internal/coupon"
	"github.com/google/uuid"
)

type CouponRepo struct {
	mu      sync.RWMutex
	coupons map[uuid.UUID]coupon.Coupon
}

func NewCouponRepo() *CouponRepo {
	return &CouponRepo{coupons: make(map[uuid.UUID]coupon.Coupon)}
}

func (r *CouponRepo) Create(ctx context.Context, c *coupon.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.coupons {
		if existing.TenantID == c.TenantID && existing.Code == c.Code {
			return fmt.Errorf("coupon %s already exists", c.Code)
		}
	}
	r.coupons[c.ID] = *c
	return nil
}

func (r *CouponRepo) GetByCode(ctx context.Context, tenantID uuid.UUID, code string) (*coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.coupons {
		if c.TenantID == tenantID && c.Code == code {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *CouponRepo) List(ctx context.Context, tenantID uuid.UUID) ([]*coupon.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*coupon.Coupon{}
	for _, c := range r.coupons {
		if c.TenantID == tenantID {
			cp := c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *CouponRepo) IncrementUsage(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[id]
	if !ok || c.TenantID != tenantID || c.Exhausted() {
		return false, nil
	}
	c.UsageCount++
	r.coupons[id] = c
	return true, nil
}

func (r *CouponRepo) DecrementUsage(ctx context.Context, tenantID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[id]
	if !ok || c.TenantID != tenantID || c.UsageCount <= 0 {
		return nil
	}
	c.UsageCount--
	r.coupons[id] = c
	return nil
}
