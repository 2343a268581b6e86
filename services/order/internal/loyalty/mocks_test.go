package loyalty

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type balanceKey struct {
	tenant   uuid.UUID
	customer uuid.UUID
}

// MockStore keeps the ledger and balances in memory. Append holds the mutex
// for the whole check-insert-apply sequence.
type MockStore struct {
	mu       sync.Mutex
	programs map[uuid.UUID]*Program
	balances map[balanceKey]*Balance
	txs      []*Transaction

	AppendFunc func(ctx context.Context, tx *Transaction) (Outcome, error)
}

func NewMockStore() *MockStore {
	return &MockStore{
		programs: make(map[uuid.UUID]*Program),
		balances: make(map[balanceKey]*Balance),
	}
}

func (m *MockStore) GetProgram(ctx context.Context, tenantID uuid.UUID) (*Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.programs[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MockStore) SaveProgram(ctx context.Context, p *Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.programs[p.TenantID] = &cp
	return nil
}

func (m *MockStore) GetBalance(ctx context.Context, tenantID, customerID uuid.UUID) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[balanceKey{tenantID, customerID}]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *MockStore) Append(ctx context.Context, tx *Transaction) (Outcome, error) {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.Type == Earn && tx.OrderID != nil {
		for _, existing := range m.txs {
			if existing.TenantID == tx.TenantID && existing.Type == Earn &&
				existing.OrderID != nil && *existing.OrderID == *tx.OrderID {
				return Duplicate, nil
			}
		}
	}

	key := balanceKey{tx.TenantID, tx.CustomerID}
	b, ok := m.balances[key]
	if !ok {
		b = &Balance{TenantID: tx.TenantID, CustomerID: tx.CustomerID}
	}
	if tx.Points < 0 && b.Balance+tx.Points < 0 {
		return Insufficient, nil
	}

	cp := *tx
	m.txs = append(m.txs, &cp)
	b.Apply(tx)
	m.balances[key] = b
	return Applied, nil
}

func (m *MockStore) ListTransactions(ctx context.Context, tenantID, customerID uuid.UUID) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Transaction
	for _, tx := range m.txs {
		if tx.TenantID == tenantID && tx.CustomerID == customerID {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockStore) ReplaceBalance(ctx context.Context, b *Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.balances[balanceKey{b.TenantID, b.CustomerID}] = &cp
	return nil
}

// corrupt overwrites the cached balance without touching the ledger.
func (m *MockStore) corrupt(tenantID, customerID uuid.UUID, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey{tenantID, customerID}].Balance = balance
}

// MockOrders serves fixed order facts.
type MockOrders struct {
	mu     sync.Mutex
	orders map[uuid.UUID]OrderFacts

	LoyaltyFactsFunc func(ctx context.Context, tenantID, orderID uuid.UUID) (OrderFacts, error)
}

func NewMockOrders(facts ...OrderFacts) *MockOrders {
	m := &MockOrders{orders: make(map[uuid.UUID]OrderFacts)}
	for _, f := range facts {
		m.orders[f.OrderID] = f
	}
	return m
}

func (m *MockOrders) LoyaltyFacts(ctx context.Context, tenantID, orderID uuid.UUID) (OrderFacts, error) {
	if m.LoyaltyFactsFunc != nil {
		return m.LoyaltyFactsFunc(ctx, tenantID, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.orders[orderID]
	if !ok || f.TenantID != tenantID {
		return OrderFacts{}, errNotFound
	}
	return f, nil
}
