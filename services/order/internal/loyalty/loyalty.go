package loyalty

import (
	"context"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	Earn   TransactionType = "earn"
	Redeem TransactionType = "redeem"
	Expire TransactionType = "expire"
)

// Transaction is an immutable ledger entry. Points are signed: earn entries
// are positive, redeem and expire entries negative.
type Transaction struct {
	ID          uuid.UUID       `json:"id" bson:"_id"`
	TenantID    uuid.UUID       `json:"tenant_id" bson:"tenant_id"`
	CustomerID  uuid.UUID       `json:"customer_id" bson:"customer_id"`
	Type        TransactionType `json:"type" bson:"type"`
	Points      int64           `json:"points" bson:"points"`
	OrderID     *uuid.UUID      `json:"order_id,omitempty" bson:"order_id,omitempty"`
	Description string          `json:"description,omitempty" bson:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at" bson:"created_at"`
}

func NewTransaction(tenantID, customerID uuid.UUID, typ TransactionType, points int64) *Transaction {
	return &Transaction{
		ID:         apt.GenerateNewID(),
		TenantID:   tenantID,
		CustomerID: customerID,
		Type:       typ,
		Points:     points,
		CreatedAt:  time.Now().UTC(),
	}
}

func (t *Transaction) GetID() uuid.UUID {
	return t.ID
}

func (t *Transaction) ResourceType() string {
	return "loyalty-transaction"
}

// Balance caches the signed sum of a customer's ledger.
type Balance struct {
	TenantID      uuid.UUID `json:"tenant_id" bson:"tenant_id"`
	CustomerID    uuid.UUID `json:"customer_id" bson:"customer_id"`
	Balance       int64     `json:"balance" bson:"balance"`
	TotalEarned   int64     `json:"total_earned" bson:"total_earned"`
	TotalRedeemed int64     `json:"total_redeemed" bson:"total_redeemed"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}

func (b *Balance) GetTenantID() uuid.UUID {
	return b.TenantID
}

// Apply folds tx into the balance.
func (b *Balance) Apply(tx *Transaction) {
	b.Balance += tx.Points
	switch tx.Type {
	case Earn:
		b.TotalEarned += tx.Points
	case Redeem:
		b.TotalRedeemed -= tx.Points
	}
	b.UpdatedAt = tx.CreatedAt
}

// Program is a tenant's accrual rule: pointsPerCurrency points for every
// full currencyValue spent, for orders of at least minOrderValue.
type Program struct {
	TenantID          uuid.UUID       `json:"tenant_id" bson:"_id"`
	PointsPerCurrency int64           `json:"points_per_currency" bson:"points_per_currency"`
	CurrencyValue     decimal.Decimal `json:"currency_value" bson:"currency_value"`
	MinOrderValue     decimal.Decimal `json:"min_order_value" bson:"min_order_value"`
	Active            bool            `json:"active" bson:"active"`
	UpdatedAt         time.Time       `json:"updated_at" bson:"updated_at"`
}

func (p *Program) PointsFor(total decimal.Decimal) int64 {
	if !p.Active || !p.CurrencyValue.IsPositive() || p.PointsPerCurrency <= 0 {
		return 0
	}
	if total.LessThan(p.MinOrderValue) {
		return 0
	}
	units := total.Div(p.CurrencyValue).Floor().IntPart()
	return units * p.PointsPerCurrency
}

// OrderFacts is what accrual needs to know about an order.
type OrderFacts struct {
	OrderID    uuid.UUID
	TenantID   uuid.UUID
	CustomerID uuid.UUID
	Total      decimal.Decimal
	Status     string
}

type OrderSource interface {
	// LoyaltyFacts fails with NotFound when the tenant does not own the order.
	LoyaltyFacts(ctx context.Context, tenantID, orderID uuid.UUID) (OrderFacts, error)
}

type Outcome int

const (
	Applied Outcome = iota
	// Duplicate means an earn entry for the same order already exists.
	Duplicate
	// Insufficient means a debit would take the balance below zero.
	Insufficient
)

type Store interface {
	GetProgram(ctx context.Context, tenantID uuid.UUID) (*Program, error)
	SaveProgram(ctx context.Context, p *Program) error
	// GetBalance returns nil, nil for a customer with no ledger yet.
	GetBalance(ctx context.Context, tenantID, customerID uuid.UUID) (*Balance, error)
	// Append inserts tx and applies it to the cached balance as one unit.
	// At most one earn entry exists per order; a debit never overdraws.
	Append(ctx context.Context, tx *Transaction) (Outcome, error)
	ListTransactions(ctx context.Context, tenantID, customerID uuid.UUID) ([]*Transaction, error)
	ReplaceBalance(ctx context.Context, b *Balance) error
}
