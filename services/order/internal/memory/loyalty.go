package memory

import (
	"context"
	"sync"

	"github.com/appetiteclub/checkout/services/order/internal/loyalty"
	"github.com/google/uuid"
)

type customerKey struct {
	tenantID   uuid.UUID
	customerID uuid.UUID
}

// LoyaltyStore applies every append under one mutex, which gives the same
// guarantees the unique earn index and conditional debit give in mongo.
type LoyaltyStore struct {
	mu       sync.Mutex
	programs map[uuid.UUID]loyalty.Program
	ledger   map[customerKey][]loyalty.Transaction
	balances map[customerKey]loyalty.Balance
	earned   map[customerKey]map[uuid.UUID]bool
}

func NewLoyaltyStore() *LoyaltyStore {
	return &LoyaltyStore{
		programs: make(map[uuid.UUID]loyalty.Program),
		ledger:   make(map[customerKey][]loyalty.Transaction),
		balances: make(map[customerKey]loyalty.Balance),
		earned:   make(map[customerKey]map[uuid.UUID]bool),
	}
}

func (s *LoyaltyStore) GetProgram(ctx context.Context, tenantID uuid.UUID) (*loyalty.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.programs[tenantID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *LoyaltyStore) SaveProgram(ctx context.Context, p *loyalty.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs[p.TenantID] = *p
	return nil
}

func (s *LoyaltyStore) GetBalance(ctx context.Context, tenantID, customerID uuid.UUID) (*loyalty.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[customerKey{tenantID, customerID}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *LoyaltyStore) Append(ctx context.Context, tx *loyalty.Transaction) (loyalty.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := customerKey{tx.TenantID, tx.CustomerID}
	b, ok := s.balances[key]
	if !ok {
		b = loyalty.Balance{TenantID: tx.TenantID, CustomerID: tx.CustomerID}
	}

	if tx.Type == loyalty.Earn && tx.OrderID != nil {
		if s.earned[key][*tx.OrderID] {
			return loyalty.Duplicate, nil
		}
		// Earn entries are unique per order across customers too.
		for k, orders := range s.earned {
			if k.tenantID == tx.TenantID && orders[*tx.OrderID] {
				return loyalty.Duplicate, nil
			}
		}
	}
	if tx.Points < 0 && b.Balance+tx.Points < 0 {
		return loyalty.Insufficient, nil
	}

	s.ledger[key] = append(s.ledger[key], *tx)
	b.Apply(tx)
	s.balances[key] = b
	if tx.Type == loyalty.Earn && tx.OrderID != nil {
		if s.earned[key] == nil {
			s.earned[key] = make(map[uuid.UUID]bool)
		}
		s.earned[key][*tx.OrderID] = true
	}
	return loyalty.Applied, nil
}

func (s *LoyaltyStore) ListTransactions(ctx context.Context, tenantID, customerID uuid.UUID) ([]*loyalty.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.ledger[customerKey{tenantID, customerID}]
	out := make([]*loyalty.Transaction, 0, len(entries))
	for i := range entries {
		tx := entries[i]
		out = append(out, &tx)
	}
	return out, nil
}

func (s *LoyaltyStore) ReplaceBalance(ctx context.Context, b *loyalty.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[customerKey{b.TenantID, b.CustomerID}] = *b
	return nil
}
