package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/checkout/pkg/event"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockRepo keeps payments in memory and enforces the version check.
type MockRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]Payment

	SaveFunc func(ctx context.Context, p *Payment) error
}

func NewMockRepo() *MockRepo {
	return &MockRepo{payments: make(map[uuid.UUID]Payment)}
}

func clonePayment(p Payment) *Payment {
	p.Refunds = append([]Refund(nil), p.Refunds...)
	return &p
}

func (m *MockRepo) Create(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; ok {
		return fmt.Errorf("duplicate payment %s", p.ID)
	}
	m.payments[p.ID] = *clonePayment(*p)
	return nil
}

func (m *MockRepo) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	return clonePayment(p), nil
}

func (m *MockRepo) GetByProviderID(ctx context.Context, providerID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ProviderPaymentID == providerID {
			return clonePayment(p), nil
		}
	}
	return nil, nil
}

func (m *MockRepo) ListByOrder(ctx context.Context, tenantID, orderID uuid.UUID) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	for _, p := range m.payments {
		if p.TenantID == tenantID && p.OrderID == orderID {
			out = append(out, clonePayment(p))
		}
	}
	return out, nil
}

func (m *MockRepo) ListExpiredPending(ctx context.Context, before time.Time) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	for _, p := range m.payments {
		if p.Method == MethodPix && p.IsPending() && p.ExpiresAt != nil && p.ExpiresAt.Before(before) {
			out = append(out, clonePayment(p))
		}
	}
	return out, nil
}

func (m *MockRepo) Save(ctx context.Context, p *Payment) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[p.ID]
	if !ok || stored.Version != p.Version {
		return fault.Conflict("payment")
	}
	p.Version++
	m.payments[p.ID] = *clonePayment(*p)
	return nil
}

// MockGateway is a scripted Gateway.
type MockGateway struct {
	mu        sync.Mutex
	charges   int
	refunds   []decimal.Decimal
	cancelled []string

	CreatePixChargeFunc func(ctx context.Context, amount decimal.Decimal, description string) (Charge, error)
	SubmitRefundFunc    func(ctx context.Context, providerID string, amount decimal.Decimal) (string, error)
	CancelPixChargeFunc func(ctx context.Context, providerID string) error
}

func (g *MockGateway) Name() string {
	return "mock"
}

func (g *MockGateway) CreatePixCharge(ctx context.Context, amount decimal.Decimal, description string) (Charge, error) {
	if g.CreatePixChargeFunc != nil {
		return g.CreatePixChargeFunc(ctx, amount, description)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges++
	return Charge{
		ProviderPaymentID: fmt.Sprintf("pix-%d", g.charges),
		QRPayload:         "000201",
		ExpiresAt:         time.Now().Add(30 * time.Minute),
		TransactionID:     fmt.Sprintf("txid%d", g.charges),
	}, nil
}

func (g *MockGateway) SubmitRefund(ctx context.Context, providerID string, amount decimal.Decimal) (string, error) {
	if g.SubmitRefundFunc != nil {
		return g.SubmitRefundFunc(ctx, providerID, amount)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, amount)
	return fmt.Sprintf("refund-%d", len(g.refunds)), nil
}

func (g *MockGateway) CancelPixCharge(ctx context.Context, providerID string) error {
	if g.CancelPixChargeFunc != nil {
		return g.CancelPixChargeFunc(ctx, providerID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, providerID)
	return nil
}

func (g *MockGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

// MockObserver counts settlement callbacks.
type MockObserver struct {
	mu    sync.Mutex
	calls int

	PaymentSettledFunc func(ctx context.Context, p *Payment) error
}

func (o *MockObserver) PaymentSettled(ctx context.Context, p *Payment) error {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()
	if o.PaymentSettledFunc != nil {
		return o.PaymentSettledFunc(ctx, p)
	}
	return nil
}

func (o *MockObserver) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// MockPublisher records published payloads per topic.
type MockPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{messages: make(map[string][][]byte)}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[topic] = append(m.messages[topic], msg)
	return nil
}

func (m *MockPublisher) Count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[topic])
}

func (m *MockPublisher) countEvents(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, raw := range m.messages[event.PaymentsStatusTopic] {
		var evt event.PaymentStatusEvent
		if json.Unmarshal(raw, &evt) == nil && evt.EventType == eventType {
			n++
		}
	}
	return n
}
