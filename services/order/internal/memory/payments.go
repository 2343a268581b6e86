package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/payment"
	"github.com/google/uuid"
)

type PaymentRepo struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]payment.Payment
}

func NewPaymentRepo() *PaymentRepo {
	return &PaymentRepo{payments: make(map[uuid.UUID]payment.Payment)}
}

func copyPayment(p payment.Payment) *payment.Payment {
	p.Refunds = append([]payment.Refund{}, p.Refunds...)
	return &p
}

func (r *PaymentRepo) Create(ctx context.Context, p *payment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.ID]; ok {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	if p.ProviderPaymentID != "" {
		for _, existing := range r.payments {
			if existing.ProviderPaymentID == p.ProviderPaymentID {
				return fmt.Errorf("provider payment %s already recorded", p.ProviderPaymentID)
			}
		}
	}
	r.payments[p.ID] = *copyPayment(*p)
	return nil
}

func (r *PaymentRepo) Get(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	return copyPayment(p), nil
}

func (r *PaymentRepo) GetByProviderID(ctx context.Context, providerPaymentID string) (*payment.Payment, error) {
	if providerPaymentID == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.payments {
		if p.ProviderPaymentID == providerPaymentID {
			return copyPayment(p), nil
		}
	}
	return nil, nil
}

func (r *PaymentRepo) ListByOrder(ctx context.Context, tenantID, orderID uuid.UUID) ([]*payment.Payment, error) {
	return r.filter(func(p payment.Payment) bool {
		return p.TenantID == tenantID && p.OrderID == orderID
	}), nil
}

func (r *PaymentRepo) ListExpiredPending(ctx context.Context, before time.Time) ([]*payment.Payment, error) {
	return r.filter(func(p payment.Payment) bool {
		return p.Method == payment.MethodPix && p.IsPending() && p.ExpiresAt != nil && p.ExpiresAt.Before(before)
	}), nil
}

func (r *PaymentRepo) filter(keep func(p payment.Payment) bool) []*payment.Payment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*payment.Payment{}
	for _, p := range r.payments {
		if keep(p) {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *PaymentRepo) Save(ctx context.Context, p *payment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.payments[p.ID]
	if !ok || stored.Version != p.Version {
		return fault.Conflict("payment")
	}
	p.Version++
	r.payments[p.ID] = *copyPayment(*p)
	return nil
}
