package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/checkout/pkg/enums/orderstatus"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/lock"
	"github.com/appetiteclub/checkout/services/order/internal/money"
	"github.com/appetiteclub/checkout/services/order/internal/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ReasonCredited         = "credited"
	ReasonAlreadyProcessed = "already_processed"
	ReasonNotDelivered     = "order_not_delivered"
	ReasonNoProgram        = "no_active_program"
	ReasonNoPoints         = "below_minimum_or_zero"
	ReasonNoCustomer       = "no_customer"
)

// Accrual reports what ProcessOrderPoints did.
type Accrual struct {
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Points     int64     `json:"points"`
	Credited   bool      `json:"credited"`
	Reason     string    `json:"reason"`
}

type Service struct {
	store  Store
	orders OrderSource
	locker lock.Locker
	logger apt.Logger
}

func NewService(store Store, orders OrderSource, locker lock.Locker, logger apt.Logger) *Service {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Service{
		store:  store,
		orders: orders,
		locker: locker,
		logger: logger.With("component", "Loyalty"),
	}
}

// SetOrderSource wires the order lookup after construction.
func (s *Service) SetOrderSource(orders OrderSource) {
	s.orders = orders
}

// ProcessOrderPoints credits points for a delivered order exactly once.
// Calling it again, from any trigger, is a no-op.
func (s *Service) ProcessOrderPoints(ctx context.Context, tenantID, orderID uuid.UUID) (*Accrual, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	if s.orders == nil {
		return nil, fault.Transient(fmt.Errorf("order source not configured"), "process points")
	}

	facts, err := s.orders.LoyaltyFacts(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	acc := &Accrual{OrderID: orderID, CustomerID: facts.CustomerID}
	if facts.CustomerID == uuid.Nil {
		acc.Reason = ReasonNoCustomer
		return acc, nil
	}
	if facts.Status != orderstatus.Statuses.Delivered.Name {
		acc.Reason = ReasonNotDelivered
		return acc, nil
	}

	program, err := s.store.GetProgram(ctx, tenantID)
	if err != nil {
		return nil, fault.Transient(err, "load loyalty program")
	}
	if program == nil || !program.Active {
		acc.Reason = ReasonNoProgram
		return acc, nil
	}

	acc.Points = program.PointsFor(facts.Total)
	if acc.Points <= 0 {
		acc.Reason = ReasonNoPoints
		return acc, nil
	}

	tx := NewTransaction(tenantID, facts.CustomerID, Earn, acc.Points)
	tx.OrderID = &orderID
	tx.Description = "order total " + money.Format(facts.Total)

	outcome, err := s.append(ctx, tx)
	if err != nil {
		return nil, fault.Transient(err, "credit points")
	}
	if outcome == Duplicate {
		acc.Reason = ReasonAlreadyProcessed
		return acc, nil
	}

	acc.Credited = true
	acc.Reason = ReasonCredited
	s.logger.Info("loyalty points credited",
		"tenant_id", tenantID.String(), "customer_id", facts.CustomerID.String(),
		"order_id", orderID.String(), "points", acc.Points)
	return acc, nil
}

// append holds the customer lock so a concurrent RebuildBalance never
// overwrites the cache with a ledger read that misses tx.
func (s *Service) append(ctx context.Context, tx *Transaction) (Outcome, error) {
	unlock, err := s.locker.Lock(ctx, lock.LoyaltyKey(tx.TenantID, tx.CustomerID))
	if err != nil {
		return Applied, err
	}
	defer unlock()
	return s.store.Append(ctx, tx)
}

// GetCustomerBalance returns the cached balance. A customer with no ledger
// has a zero balance.
func (s *Service) GetCustomerBalance(ctx context.Context, tenantID, customerID uuid.UUID) (*Balance, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	b, err := s.store.GetBalance(ctx, tenantID, customerID)
	if err != nil {
		return nil, fault.Transient(err, "load balance")
	}
	if b == nil {
		return &Balance{TenantID: tenantID, CustomerID: customerID}, nil
	}
	if err := tenant.Check(tenantID, b, "balance"); err != nil {
		return nil, err
	}
	return b, nil
}

// RedeemPoints debits points, failing with InsufficientFunds when the
// balance does not cover them.
func (s *Service) RedeemPoints(ctx context.Context, tenantID, customerID uuid.UUID, points int64, orderID *uuid.UUID, description string) (*Transaction, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	if points <= 0 {
		return nil, fault.Validation(fault.Field("points", "must be positive"))
	}

	tx := NewTransaction(tenantID, customerID, Redeem, -points)
	tx.OrderID = orderID
	tx.Description = description

	outcome, err := s.append(ctx, tx)
	if err != nil {
		return nil, fault.Transient(err, "redeem points")
	}
	if outcome == Insufficient {
		return nil, fault.InsufficientFunds("balance does not cover %d points", points)
	}
	return tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, tenantID, customerID uuid.UUID) ([]*Transaction, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	list, err := s.store.ListTransactions(ctx, tenantID, customerID)
	if err != nil {
		return nil, fault.Transient(err, "list transactions")
	}
	return list, nil
}

// RebuildBalance recomputes the cached balance from the ledger and stores
// it. The ledger is authoritative.
func (s *Service) RebuildBalance(ctx context.Context, tenantID, customerID uuid.UUID) (*Balance, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.LoyaltyKey(tenantID, customerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	list, err := s.store.ListTransactions(ctx, tenantID, customerID)
	if err != nil {
		return nil, fault.Transient(err, "list transactions")
	}

	b := Fold(tenantID, customerID, list)
	if err := s.store.ReplaceBalance(ctx, b); err != nil {
		return nil, fault.Transient(err, "store balance")
	}
	return b, nil
}

// Fold sums a ledger into a balance.
func Fold(tenantID, customerID uuid.UUID, list []*Transaction) *Balance {
	b := &Balance{TenantID: tenantID, CustomerID: customerID, UpdatedAt: time.Now().UTC()}
	for _, tx := range list {
		b.Apply(tx)
	}
	return b
}

func (s *Service) GetProgram(ctx context.Context, tenantID uuid.UUID) (*Program, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	p, err := s.store.GetProgram(ctx, tenantID)
	if err != nil {
		return nil, fault.Transient(err, "load loyalty program")
	}
	if p == nil {
		return nil, fault.NotFound("loyalty program")
	}
	return p, nil
}

func (s *Service) SaveProgram(ctx context.Context, tenantID uuid.UUID, p *Program) error {
	if err := tenant.Require(tenantID); err != nil {
		return err
	}
	var fields []fault.FieldError
	if p.PointsPerCurrency <= 0 {
		fields = append(fields, fault.Field("points_per_currency", "must be positive"))
	}
	if !p.CurrencyValue.IsPositive() {
		fields = append(fields, fault.Field("currency_value", "must be positive"))
	}
	if p.MinOrderValue.LessThan(decimal.Zero) {
		fields = append(fields, fault.Field("min_order_value", "must not be negative"))
	}
	if len(fields) > 0 {
		return fault.Validation(fields...)
	}

	p.TenantID = tenantID
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveProgram(ctx, p); err != nil {
		return fault.Transient(err, "save loyalty program")
	}
	return nil
}
