package order

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/checkout/pkg/enums/paymentstatus"
	"github.com/appetiteclub/checkout/services/order/internal/catalog"
	"github.com/appetiteclub/checkout/services/order/internal/coupon"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/loyalty"
	"github.com/appetiteclub/checkout/services/order/internal/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockPublisher records published messages.
type MockPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte

	PublishFunc func(ctx context.Context, topic string, msg []byte) error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{messages: make(map[string][][]byte)}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[topic] = append(m.messages[topic], msg)
	return nil
}

func (m *MockPublisher) count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[topic])
}

type MockSubscriber struct {
	SubscribeFunc func(ctx context.Context, topic string, handler events.HandlerFunc) error
}

func (m *MockSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, topic, handler)
	}
	return nil
}

// MockRepo stores copies of orders and enforces the version check.
type MockRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]Order
	queue  map[string]int

	CreateFunc func(ctx context.Context, o *Order) error
	SaveFunc   func(ctx context.Context, o *Order) error
}

func NewMockRepo() *MockRepo {
	return &MockRepo{orders: make(map[uuid.UUID]Order), queue: make(map[string]int)}
}

func cloneOrder(o Order) *Order {
	o.Items = append([]Item(nil), o.Items...)
	o.History = append([]HistoryEntry(nil), o.History...)
	return &o
}

func (m *MockRepo) Create(ctx context.Context, o *Order) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("duplicate order %s", o.ID)
	}
	m.orders[o.ID] = *cloneOrder(*o)
	return nil
}

func (m *MockRepo) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (m *MockRepo) List(ctx context.Context, tenantID uuid.UUID, status string) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if o.TenantID == tenantID && (status == "" || o.Status == status) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MockRepo) FindActiveByTable(ctx context.Context, tenantID, tableID uuid.UUID) (*Order, error) {
	list, _ := m.List(ctx, tenantID, "")
	for _, o := range list {
		if o.TableID != nil && *o.TableID == tableID && !o.IsTerminal() {
			return o, nil
		}
	}
	return nil, nil
}

func (m *MockRepo) Save(ctx context.Context, o *Order) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %s not stored", o.ID)
	}
	if stored.Version != o.Version {
		return fault.Conflict("order")
	}
	o.Version++
	m.orders[o.ID] = *cloneOrder(*o)
	return nil
}

func (m *MockRepo) NextQueuePosition(ctx context.Context, tenantID uuid.UUID, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID.String() + day
	m.queue[key]++
	return m.queue[key], nil
}

// MockLedger keeps payments in memory. Settlement is driven by tests through
// the observer directly.
type MockLedger struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*payment.Payment
	refunds  int
	observer payment.SettlementObserver

	OpenPixIntentFunc func(ctx context.Context, tenantID, orderID uuid.UUID, amount decimal.Decimal) (*payment.Payment, error)
	RefundFunc        func(ctx context.Context, tenantID, paymentID uuid.UUID, amount decimal.Decimal) error
}

func NewMockLedger() *MockLedger {
	return &MockLedger{payments: make(map[uuid.UUID]*payment.Payment)}
}

func (m *MockLedger) add(p *payment.Payment) *payment.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return p
}

func (m *MockLedger) paid(tenantID, orderID uuid.UUID, amount string) *payment.Payment {
	p := payment.NewPayment(tenantID, orderID, payment.MethodPix, decimal.RequireFromString(amount))
	p.Status = paymentstatus.Statuses.Paid.Name
	p.ProviderPaymentID = "sbx_" + p.ID.String()
	return m.add(p)
}

func (m *MockLedger) ListByOrder(ctx context.Context, tenantID, orderID uuid.UUID) ([]*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*payment.Payment
	for _, p := range m.payments {
		if p.TenantID == tenantID && p.OrderID == orderID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockLedger) OpenPixIntent(ctx context.Context, tenantID, orderID uuid.UUID, amount decimal.Decimal, description, actor string) (*payment.Payment, error) {
	if m.OpenPixIntentFunc != nil {
		return m.OpenPixIntentFunc(ctx, tenantID, orderID, amount)
	}
	p := payment.NewPayment(tenantID, orderID, payment.MethodPix, amount)
	p.ProviderPaymentID = "sbx_" + p.ID.String()
	return m.add(p), nil
}

func (m *MockLedger) StoreOffline(ctx context.Context, tenantID, orderID uuid.UUID, method payment.Method, amount decimal.Decimal, actor string) (*payment.Payment, error) {
	p := payment.NewPayment(tenantID, orderID, method, amount)
	p.Status = paymentstatus.Statuses.Paid.Name
	return m.add(p), nil
}

// Settle hands the payment to the observer the way the ledger does.
func (m *MockLedger) Settle(ctx context.Context, p *payment.Payment) error {
	if m.observer == nil {
		return nil
	}
	return m.observer.PaymentSettled(ctx, p)
}

func (m *MockLedger) Refund(ctx context.Context, tenantID, paymentID uuid.UUID, amount decimal.Decimal, reason, actor string) (*payment.Payment, error) {
	if m.RefundFunc != nil {
		if err := m.RefundFunc(ctx, tenantID, paymentID, amount); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.TenantID != tenantID {
		return nil, fault.NotFound("payment")
	}
	if amount.GreaterThan(p.RefundableAmount()) {
		return nil, fault.RefundExceedsPayment("too much")
	}
	p.Refunds = append(p.Refunds, payment.Refund{ID: apt.GenerateNewID(), Amount: amount, Reason: reason})
	m.refunds++
	cp := *p
	return &cp, nil
}

func (m *MockLedger) refundCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refunds
}

// MockCatalog serves a fixed menu.
type MockCatalog struct {
	products map[uuid.UUID]*catalog.Product
}

func NewMockCatalog(products ...*catalog.Product) *MockCatalog {
	m := &MockCatalog{products: make(map[uuid.UUID]*catalog.Product)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *MockCatalog) GetProduct(ctx context.Context, tenantID, productID uuid.UUID) (*catalog.Product, error) {
	p, ok := m.products[productID]
	if !ok || p.TenantID != tenantID {
		return nil, fault.NotFound("product")
	}
	cp := *p
	return &cp, nil
}

type MockResolver struct {
	ResolveFunc func(ctx context.Context, tenantID uuid.UUID, phone, name string) (uuid.UUID, error)
}

func (m *MockResolver) ResolveCustomer(ctx context.Context, tenantID uuid.UUID, phone, name string) (uuid.UUID, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, tenantID, phone, name)
	}
	return uuid.NewSHA1(tenantID, []byte(phone)), nil
}

// MockCoupons accepts one code.
type MockCoupons struct {
	coupon *coupon.Coupon
	used   int
}

func (m *MockCoupons) Validate(ctx context.Context, tenantID uuid.UUID, code string, orderValue decimal.Decimal) (*coupon.Coupon, error) {
	if m.coupon == nil || m.coupon.TenantID != tenantID || coupon.NormalizeCode(code) != m.coupon.Code {
		return nil, fault.NotFound("coupon")
	}
	if orderValue.LessThan(m.coupon.MinOrderValue) {
		return nil, fault.CouponBelowMinimum(code, m.coupon.MinOrderValue.String())
	}
	return m.coupon, nil
}

func (m *MockCoupons) RegisterUsage(ctx context.Context, tenantID uuid.UUID, c *coupon.Coupon) error {
	m.used++
	return nil
}

func (m *MockCoupons) ReleaseUsage(ctx context.Context, tenantID uuid.UUID, c *coupon.Coupon) error {
	m.used--
	return nil
}

// MockLoyalty counts accrual calls.
type MockLoyalty struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int

	ProcessFunc func(ctx context.Context, tenantID, orderID uuid.UUID) (*loyalty.Accrual, error)
}

func NewMockLoyalty() *MockLoyalty {
	return &MockLoyalty{calls: make(map[uuid.UUID]int)}
}

func (m *MockLoyalty) ProcessOrderPoints(ctx context.Context, tenantID, orderID uuid.UUID) (*loyalty.Accrual, error) {
	m.mu.Lock()
	m.calls[orderID]++
	m.mu.Unlock()
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, tenantID, orderID)
	}
	return &loyalty.Accrual{OrderID: orderID}, nil
}

func (m *MockLoyalty) callCount(orderID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[orderID]
}
