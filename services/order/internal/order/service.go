package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/checkout/pkg/enums/orderstatus"
	"github.com/appetiteclub/checkout/pkg/event"
	"github.com/appetiteclub/checkout/services/order/internal/catalog"
	"github.com/appetiteclub/checkout/services/order/internal/coupon"
	"github.com/appetiteclub/checkout/services/order/internal/customer"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/lock"
	"github.com/appetiteclub/checkout/services/order/internal/loyalty"
	"github.com/appetiteclub/checkout/services/order/internal/money"
	"github.com/appetiteclub/checkout/services/order/internal/notify"
	"github.com/appetiteclub/checkout/services/order/internal/payment"
	"github.com/appetiteclub/checkout/services/order/internal/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const saveAttempts = 3

type PaymentLedger interface {
	ListByOrder(ctx context.Context, tenantID, orderID uuid.UUID) ([]*payment.Payment, error)
	OpenPixIntent(ctx context.Context, tenantID, orderID uuid.UUID, amount decimal.Decimal, description, actor string) (*payment.Payment, error)
	StoreOffline(ctx context.Context, tenantID, orderID uuid.UUID, method payment.Method, amount decimal.Decimal, actor string) (*payment.Payment, error)
	Settle(ctx context.Context, p *payment.Payment) error
	Refund(ctx context.Context, tenantID, paymentID uuid.UUID, amount decimal.Decimal, reason, actor string) (*payment.Payment, error)
}

type LoyaltyAccruer interface {
	ProcessOrderPoints(ctx context.Context, tenantID, orderID uuid.UUID) (*loyalty.Accrual, error)
}

type CouponValidator interface {
	Validate(ctx context.Context, tenantID uuid.UUID, code string, orderValue decimal.Decimal) (*coupon.Coupon, error)
	RegisterUsage(ctx context.Context, tenantID uuid.UUID, c *coupon.Coupon) error
	ReleaseUsage(ctx context.Context, tenantID uuid.UUID, c *coupon.Coupon) error
}

type Settings struct {
	// DeliveryFee is charged on delivery orders only.
	DeliveryFee decimal.Decimal
	// AutoAcceptPaid moves a pending order to Preparing once it is paid.
	AutoAcceptPaid     bool
	DefaultPrepMinutes int
}

type ServiceDeps struct {
	Repo      Repo
	Payments  PaymentLedger
	Loyalty   LoyaltyAccruer
	Coupons   CouponValidator
	Catalog   catalog.Catalog
	Customers customer.Resolver
	Tables    TableGuard
	Locker    lock.Locker
	Publisher events.Publisher
	Notifier  notify.Notifier
}

// Service runs the order state machine. Each mutation of one order holds the
// order lock and commits with a version check; events go out after commit.
type Service struct {
	repo      Repo
	payments  PaymentLedger
	loyalty   LoyaltyAccruer
	coupons   CouponValidator
	catalog   catalog.Catalog
	customers customer.Resolver
	tables    TableGuard
	locker    lock.Locker
	publisher events.Publisher
	notifier  notify.Notifier
	settings  Settings
	logger    apt.Logger
	now       func() time.Time
}

func NewService(deps ServiceDeps, settings Settings, logger apt.Logger) *Service {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	if settings.DefaultPrepMinutes <= 0 {
		settings.DefaultPrepMinutes = 30
	}
	return &Service{
		repo:      deps.Repo,
		payments:  deps.Payments,
		loyalty:   deps.Loyalty,
		coupons:   deps.Coupons,
		catalog:   deps.Catalog,
		customers: deps.Customers,
		tables:    deps.Tables,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		settings:  settings,
		logger:    logger.With("component", "OrderService"),
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type AddonInput struct {
	AddonID  uuid.UUID `json:"addon_id"`
	Quantity int       `json:"quantity"`
}

type ItemInput struct {
	ProductID uuid.UUID    `json:"product_id"`
	Quantity  int          `json:"quantity"`
	Notes     string       `json:"notes"`
	Addons    []AddonInput `json:"addons"`
}

type CreateInput struct {
	Type            Type        `json:"type"`
	CustomerName    string      `json:"customer_name"`
	CustomerPhone   string      `json:"customer_phone"`
	DeliveryAddress string      `json:"delivery_address"`
	TableID         *uuid.UUID  `json:"table_id"`
	Items           []ItemInput `json:"items"`
	CouponCode      string      `json:"coupon_code"`
	PaymentMethod   string      `json:"payment_method"`
	Notes           string      `json:"notes"`
}

func (in CreateInput) validate() []fault.FieldError {
	var fields []fault.FieldError
	if !in.Type.Valid() {
		fields = append(fields, fault.Field("type", "must be delivery, counter or table"))
	}
	fields = append(fields, validateItems(in.Items)...)

	hasAddress := strings.TrimSpace(in.DeliveryAddress) != ""
	if in.Type == Delivery && !hasAddress {
		fields = append(fields, fault.Field("delivery_address", "required for delivery orders"))
	}
	if in.Type != Delivery && hasAddress {
		fields = append(fields, fault.Field("delivery_address", "only delivery orders carry an address"))
	}

	hasTable := in.TableID != nil && *in.TableID != uuid.Nil
	if in.Type == Table && !hasTable {
		fields = append(fields, fault.Field("table_id", "required for table orders"))
	}
	if in.Type != Table && in.TableID != nil {
		fields = append(fields, fault.Field("table_id", "only table orders carry a table"))
	}

	if strings.TrimSpace(in.CustomerName) == "" {
		fields = append(fields, fault.Field("customer.name", "required"))
	}
	if in.Type == Delivery && strings.TrimSpace(in.CustomerPhone) == "" {
		fields = append(fields, fault.Field("customer.phone", "required for delivery orders"))
	}

	if in.PaymentMethod != "" && !payment.Method(in.PaymentMethod).Valid() {
		fields = append(fields, fault.Field("payment_method", "must be pix, credit, debit or cash"))
	}
	return fields
}

func validateItems(items []ItemInput) []fault.FieldError {
	var fields []fault.FieldError
	if len(items) == 0 {
		return append(fields, fault.Field("items", "at least one item is required"))
	}
	for i, it := range items {
		if it.ProductID == uuid.Nil {
			fields = append(fields, fault.Field(fmt.Sprintf("items[%d].product_id", i), "required"))
		}
		if it.Quantity <= 0 {
			fields = append(fields, fault.Field(fmt.Sprintf("items[%d].quantity", i), "must be positive"))
		}
		for j, a := range it.Addons {
			if a.AddonID == uuid.Nil || a.Quantity <= 0 {
				fields = append(fields, fault.Field(fmt.Sprintf("items[%d].addons[%d]", i, j), "needs an addon id and a positive quantity"))
			}
		}
	}
	return fields
}

// Created is the outcome of Create. The order is committed even when the
// Pix intent could not be opened; PaymentErr then tells the caller to retry
// OpenPix.
type Created struct {
	Order      *Order
	Payment    *payment.Payment
	PaymentErr error
}

// Create validates the request, snapshots catalog prices, applies the
// coupon and stores a pending order. A Pix order also gets its intent.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, in CreateInput, actor string) (*Created, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	if fields := in.validate(); len(fields) > 0 {
		return nil, fault.Validation(fields...)
	}

	var phone string
	if strings.TrimSpace(in.CustomerPhone) != "" {
		var err error
		if phone, err = customer.NormalizePhone(in.CustomerPhone); err != nil {
			return nil, err
		}
	}

	if in.Type == Table && s.tables != nil {
		if err := s.tables.Allow(ctx, tenantID, *in.TableID, "create_order"); err != nil {
			return nil, err
		}
	}

	items, err := s.priceItems(ctx, tenantID, in.Items)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := NewOrder(tenantID, in.Type, actor, now)
	o.CustomerName = strings.TrimSpace(in.CustomerName)
	o.CustomerPhone = phone
	o.DeliveryAddress = strings.TrimSpace(in.DeliveryAddress)
	o.TableID = in.TableID
	o.Items = items
	o.PaymentMethod = in.PaymentMethod
	o.Notes = in.Notes
	if in.Type == Delivery {
		o.DeliveryFee = s.settings.DeliveryFee
	}
	if err := o.Recompute(); err != nil {
		return nil, err
	}

	var applied *coupon.Coupon
	if code := strings.TrimSpace(in.CouponCode); code != "" {
		if s.coupons == nil {
			return nil, fault.NotFound("coupon")
		}
		if applied, err = s.coupons.Validate(ctx, tenantID, code, o.Subtotal); err != nil {
			return nil, err
		}
		o.CouponCode = applied.Code
		o.Discount = &AppliedDiscount{Type: applied.DiscountType, Value: applied.DiscountValue, MaxAmount: applied.MaxDiscount}
		if err := o.Recompute(); err != nil {
			return nil, err
		}
	}

	if phone != "" && s.customers != nil {
		if o.CustomerID, err = s.customers.ResolveCustomer(ctx, tenantID, phone, o.CustomerName); err != nil {
			return nil, err
		}
	}

	if o.QueuePosition, err = s.repo.NextQueuePosition(ctx, tenantID, now.Format(time.DateOnly)); err != nil {
		return nil, fault.Transient(err, "assign queue position")
	}

	if applied != nil {
		if err := s.coupons.RegisterUsage(ctx, tenantID, applied); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Create(ctx, o); err != nil {
		if applied != nil {
			if rerr := s.coupons.ReleaseUsage(ctx, tenantID, applied); rerr != nil {
				s.logger.Error("coupon usage not released", "code", applied.Code, "error", rerr)
			}
		}
		return nil, fault.Transient(err, "store order")
	}

	s.logger.Info("order created", "tenant_id", tenantID.String(), "order_id", o.ID.String(),
		"total", money.Format(o.Total), "queue_position", o.QueuePosition)
	s.announce(ctx, o, event.EventOrderCreated, "", actor, "")

	created := &Created{Order: o}
	if payment.Method(in.PaymentMethod) == payment.MethodPix {
		created.Payment, created.PaymentErr = s.OpenPix(ctx, tenantID, o.ID, actor)
		if created.PaymentErr != nil {
			s.logger.Error("pix intent not opened for new order", "order_id", o.ID.String(), "error", created.PaymentErr)
		}
	}
	return created, nil
}

// priceItems copies current catalog prices onto new items.
func (s *Service) priceItems(ctx context.Context, tenantID uuid.UUID, inputs []ItemInput) ([]Item, error) {
	if s.catalog == nil {
		return nil, fault.Transient(errors.New("no catalog configured"), "price items")
	}

	now := s.now().UTC()
	items := make([]Item, 0, len(inputs))
	for i, in := range inputs {
		field := fmt.Sprintf("items[%d]", i)
		p, err := s.catalog.GetProduct(ctx, tenantID, in.ProductID)
		if errors.Is(err, fault.ErrNotFound) {
			return nil, fault.Validation(fault.Field(field+".product_id", "unknown product"))
		}
		if err != nil {
			return nil, err
		}
		if !p.Active {
			return nil, fault.Validation(fault.Field(field+".product_id", p.Name+" is unavailable"))
		}

		item := Item{
			ID:        apt.GenerateNewID(),
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  in.Quantity,
			Notes:     in.Notes,
			CreatedAt: now,
		}
		for j, ai := range in.Addons {
			a, ok := p.Addon(ai.AddonID)
			if !ok || !a.Active {
				return nil, fault.Validation(fault.Field(fmt.Sprintf("%s.addons[%d]", field, j), "addon unavailable"))
			}
			item.Addons = append(item.Addons, ItemAddon{AddonID: a.ID, Name: a.Name, UnitPrice: a.Price, Quantity: ai.Quantity})
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Order, error) {
	o, err := s.repo.Get(ctx, id)
	return tenant.Scoped(tenantID, "order", o, err)
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, status string) ([]*Order, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	if status != "" && orderstatus.ByName(status) == nil {
		return nil, fault.Validation(fault.Field("status", "unknown status "+status))
	}
	list, err := s.repo.List(ctx, tenantID, status)
	if err != nil {
		return nil, fault.Transient(err, "list orders")
	}
	return list, nil
}

type PaymentSummary struct {
	ID                uuid.UUID       `json:"id"`
	Method            payment.Method  `json:"method"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Refunded          decimal.Decimal `json:"refunded"`
	ProviderPaymentID string          `json:"provider_payment_id,omitempty"`
	QRPayload         string          `json:"qr_payload,omitempty"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
}

// Snapshot is the order read model handed to controllers and UIs.
type Snapshot struct {
	Order       *Order           `json:"order"`
	Payments    []PaymentSummary `json:"payments"`
	AmountPaid  decimal.Decimal  `json:"amount_paid"`
	Outstanding decimal.Decimal  `json:"outstanding"`
}

func (s *Service) Snapshot(ctx context.Context, tenantID, id uuid.UUID) (*Snapshot, error) {
	o, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.listPayments(ctx, o)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Order: o, Payments: make([]PaymentSummary, 0, len(payments))}
	for _, p := range payments {
		snap.Payments = append(snap.Payments, PaymentSummary{
			ID:                p.ID,
			Method:            p.Method,
			Status:            p.Status,
			Amount:            p.Amount,
			Refunded:          p.RefundedAmount(),
			ProviderPaymentID: p.ProviderPaymentID,
			QRPayload:         p.QRPayload,
			ExpiresAt:         p.ExpiresAt,
			PaidAt:            p.PaidAt,
		})
	}
	snap.AmountPaid = netPaid(payments)
	snap.Outstanding = outstanding(o, payments)
	return snap, nil
}

func (s *Service) listPayments(ctx context.Context, o *Order) ([]*payment.Payment, error) {
	if s.payments == nil {
		return nil, nil
	}
	return s.payments.ListByOrder(ctx, o.TenantID, o.ID)
}

// netPaid is what paid payments captured minus what was refunded.
func netPaid(payments []*payment.Payment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		if p.IsPaid() {
			sum = sum.Add(p.Amount).Sub(p.RefundedAmount())
		}
	}
	return sum
}

func outstanding(o *Order, payments []*payment.Payment) decimal.Decimal {
	due := o.Total.Sub(netPaid(payments))
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// mutate applies fn to the freshly loaded order under its lock and saves the
// result. A version conflict reloads and reapplies.
func (s *Service) mutate(ctx context.Context, tenantID, id uuid.UUID, fn func(o *Order) error) (*Order, string, error) {
	unlock, err := s.locker.Lock(ctx, lock.OrderKey(id))
	if err != nil {
		return nil, "", err
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		o, err := s.Get(ctx, tenantID, id)
		if err != nil {
			return nil, "", err
		}
		previous := o.Status
		if err := fn(o); err != nil {
			return nil, "", err
		}

		err = s.repo.Save(ctx, o)
		if errors.Is(err, fault.ErrConflict) && attempt < saveAttempts {
			s.logger.Debug("order save conflict, retrying", "order_id", id.String(), "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, "", fault.Transient(err, "save order")
		}
		return o, previous, nil
	}
}

// Accept moves a pending order to Preparing. Zero minutes means the default
// preparation time.
func (s *Service) Accept(ctx context.Context, tenantID, id uuid.UUID, minutes int, notes, actor string) (*Order, error) {
	if minutes == 0 {
		minutes = s.settings.DefaultPrepMinutes
	}
	o, previous, err := s.mutate(ctx, tenantID, id, func(o *Order) error {
		return o.Accept(minutes, notes, actor, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, o, event.EventOrderStatusChange, previous, actor, notes)
	return o, nil
}

func (s *Service) Reject(ctx context.Context, tenantID, id uuid.UUID, reason, notes, actor string) (*Order, error) {
	o, previous, err := s.mutate(ctx, tenantID, id, func(o *Order) error {
		return o.Reject(strings.TrimSpace(reason), notes, actor, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, o, event.EventOrderStatusChange, previous, actor, reason)
	s.refundCapturedPayments(ctx, o, "order rejected: "+reason)
	return o, nil
}

// UpdateStatus takes one progress edge. Reaching Delivered triggers loyalty
// accrual.
func (s *Service) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status, actor string) (*Order, error) {
	o, previous, err := s.mutate(ctx, tenantID, id, func(o *Order) error {
		return o.Advance(status, actor, "", s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, o, event.EventOrderStatusChange, previous, actor, "")
	if o.Status == orderstatus.Statuses.Delivered.Name {
		s.accrue(ctx, o)
	}
	return o, nil
}

// Cancel ends a non-terminal order. Money already captured is refunded;
// refunds that fail are announced on the refunds-required topic.
func (s *Service) Cancel(ctx context.Context, tenantID, id uuid.UUID, reason, actor string) (*Order, error) {
	o, previous, err := s.mutate(ctx, tenantID, id, func(o *Order) error {
		return o.Cancel(reason, actor, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, o, event.EventOrderStatusChange, previous, actor, reason)
	s.refundCapturedPayments(ctx, o, "order cancelled: "+reason)
	return o, nil
}

// AddItems appends items to a pending order that has no open or captured
// payment, recomputing every amount.
func (s *Service) AddItems(ctx context.Context, tenantID, id uuid.UUID, inputs []ItemInput, actor string) (*Order, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	if fields := validateItems(inputs); len(fields) > 0 {
		return nil, fault.Validation(fields...)
	}
	items, err := s.priceItems(ctx, tenantID, inputs)
	if err != nil {
		return nil, err
	}

	o, _, err := s.mutate(ctx, tenantID, id, func(o *Order) error {
		if o.IsTerminal() {
			return fault.AlreadyFinalized(o.Status)
		}
		if o.Status != orderstatus.Statuses.Pending.Name {
			return fault.OrderLocked("order is " + o.Status + ", items can no longer be added")
		}
		payments, err := s.listPayments(ctx, o)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.IsPending() || p.IsPaid() {
				return fault.OrderLocked("order has a " + p.Status + " payment")
			}
		}
		return o.AddItems(items, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, o, event.EventOrderItemsAdded, o.Status, actor, fmt.Sprintf("%d items added", len(items)))
	return o, nil
}

// CloseTableAccount hands over the table's active order, moving it from
// Ready to Delivered.
func (s *Service) CloseTableAccount(ctx context.Context, tenantID, tableID uuid.UUID, actor string) (*Order, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	active, err := s.repo.FindActiveByTable(ctx, tenantID, tableID)
	if err != nil {
		return nil, fault.Transient(err, "find table order")
	}
	if active == nil || active.TenantID != tenantID {
		return nil, fault.NoActiveOrder(tableID.String())
	}

	o, previous, err := s.mutate(ctx, tenantID, active.ID, func(o *Order) error {
		return o.Advance(orderstatus.Statuses.Delivered.Name, actor, "table account closed", s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, o, event.EventOrderStatusChange, previous, actor, "table account closed")
	s.accrue(ctx, o)
	return o, nil
}

// OpenPix opens a Pix intent for what is still owed on the order. An order
// with a pending intent keeps that one.
func (s *Service) OpenPix(ctx context.Context, tenantID, id uuid.UUID, actor string) (*payment.Payment, error) {
	if s.payments == nil {
		return nil, fault.Transient(errors.New("no payment ledger configured"), "open pix intent")
	}

	unlock, err := s.locker.Lock(ctx, lock.OrderKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if o.Status == orderstatus.Statuses.Cancelled.Name || o.Status == orderstatus.Statuses.Rejected.Name {
		return nil, fault.AlreadyFinalized(o.Status)
	}

	payments, err := s.listPayments(ctx, o)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		if p.Method == payment.MethodPix && p.IsPending() {
			return nil, fault.OrderLocked("order already has a pending pix payment")
		}
	}
	due := outstanding(o, payments)
	if !due.IsPositive() {
		return nil, fault.OrderLocked("order is already paid")
	}

	return s.payments.OpenPixIntent(ctx, tenantID, o.ID, due, fmt.Sprintf("Order #%d", o.QueuePosition), actor)
}

// RecordOfflinePayment records cash or card money taken at the counter. The
// outstanding check and the ledger write happen under the order lock; the
// settlement calls back into PaymentSettled, so it runs after the lock is
// released. An order with a pending Pix intent takes no offline payment.
func (s *Service) RecordOfflinePayment(ctx context.Context, tenantID, id uuid.UUID, method payment.Method, amount decimal.Decimal, actor string) (*payment.Payment, error) {
	if s.payments == nil {
		return nil, fault.Transient(errors.New("no payment ledger configured"), "record payment")
	}

	p, err := s.storeOffline(ctx, tenantID, id, method, amount, actor)
	if err != nil {
		return nil, err
	}
	if err := s.payments.Settle(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Service) storeOffline(ctx context.Context, tenantID, id uuid.UUID, method payment.Method, amount decimal.Decimal, actor string) (*payment.Payment, error) {
	unlock, err := s.locker.Lock(ctx, lock.OrderKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if o.Status == orderstatus.Statuses.Cancelled.Name || o.Status == orderstatus.Statuses.Rejected.Name {
		return nil, fault.AlreadyFinalized(o.Status)
	}
	payments, err := s.listPayments(ctx, o)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		if p.Method == payment.MethodPix && p.IsPending() {
			return nil, fault.OrderLocked("order has a pending pix payment")
		}
	}
	if due := outstanding(o, payments); amount.GreaterThan(due) {
		return nil, fault.Validation(fault.Field("amount", "exceeds the outstanding "+money.Format(due)))
	}

	return s.payments.StoreOffline(ctx, tenantID, o.ID, method, amount, actor)
}

// PaymentSettled reacts to a paid payment. Money captured for a cancelled or
// rejected order is refunded, money captured beyond the order total is
// refunded from this payment, a pending order may be auto-accepted, and a
// delivered order gets its loyalty points. Every branch is safe to repeat.
func (s *Service) PaymentSettled(ctx context.Context, p *payment.Payment) error {
	o, err := s.Get(ctx, p.TenantID, p.OrderID)
	if err != nil {
		return err
	}

	if o.Status != orderstatus.Statuses.Cancelled.Name && o.Status != orderstatus.Statuses.Rejected.Name {
		if err := s.refundExcess(ctx, o, p); err != nil {
			return err
		}
	}

	switch o.Status {
	case orderstatus.Statuses.Cancelled.Name, orderstatus.Statuses.Rejected.Name:
		s.refundCaptured(ctx, o, p, "payment captured after order "+o.Status)
		return nil

	case orderstatus.Statuses.Pending.Name:
		if !s.settings.AutoAcceptPaid {
			return nil
		}
		accepted, previous, err := s.mutate(ctx, o.TenantID, o.ID, func(o *Order) error {
			return o.Accept(s.settings.DefaultPrepMinutes, "payment confirmed", tenant.SystemActor, s.now().UTC())
		})
		if errors.Is(err, fault.ErrInvalidTransition) || errors.Is(err, fault.ErrOrderAlreadyFinalized) {
			return nil
		}
		if err != nil {
			return err
		}
		s.announce(ctx, accepted, event.EventOrderStatusChange, previous, tenant.SystemActor, "payment confirmed")
		return nil

	case orderstatus.Statuses.Delivered.Name:
		if s.loyalty == nil {
			return nil
		}
		_, err := s.loyalty.ProcessOrderPoints(ctx, o.TenantID, o.ID)
		return err
	}
	return nil
}

// LoyaltyFacts exposes what accrual needs about an order.
func (s *Service) LoyaltyFacts(ctx context.Context, tenantID, orderID uuid.UUID) (loyalty.OrderFacts, error) {
	o, err := s.Get(ctx, tenantID, orderID)
	if err != nil {
		return loyalty.OrderFacts{}, err
	}
	return loyalty.OrderFacts{
		OrderID:    o.ID,
		TenantID:   o.TenantID,
		CustomerID: o.CustomerID,
		Total:      o.Total,
		Status:     o.Status,
	}, nil
}

func (s *Service) accrue(ctx context.Context, o *Order) {
	if s.loyalty == nil {
		return
	}
	acc, err := s.loyalty.ProcessOrderPoints(ctx, o.TenantID, o.ID)
	if err != nil {
		s.logger.Error("loyalty accrual failed", "order_id", o.ID.String(), "error", err)
		return
	}
	s.logger.Debug("loyalty accrual", "order_id", o.ID.String(), "points", acc.Points, "reason", acc.Reason)
}

func (s *Service) refundCapturedPayments(ctx context.Context, o *Order, reason string) {
	payments, err := s.listPayments(ctx, o)
	if err != nil {
		s.logger.Error("cannot list payments to refund", "order_id", o.ID.String(), "error", err)
		s.publishRefundRequired(ctx, o, nil, o.Total, reason, err)
		return
	}
	for _, p := range payments {
		if p.IsPaid() {
			s.refundCaptured(ctx, o, p, reason)
		}
	}
}

// refundCaptured returns whatever is still refundable on p. A refund the
// ledger cannot submit is handed over on the refunds-required topic.
func (s *Service) refundCaptured(ctx context.Context, o *Order, p *payment.Payment, reason string) {
	amount := p.RefundableAmount()
	if !amount.IsPositive() {
		return
	}

	_, err := s.payments.Refund(ctx, o.TenantID, p.ID, amount, reason, tenant.SystemActor)
	if err == nil || errors.Is(err, fault.ErrRefundExceedsPayment) {
		return
	}

	s.logger.Error("refund of captured payment failed", "order_id", o.ID.String(), "payment_id", p.ID.String(), "error", err)
	s.publishRefundRequired(ctx, o, p, amount, reason, err)
}

// refundExcess returns from p whatever the order has captured beyond its
// total. It runs under the order lock so two settlements never both refund
// the same excess.
func (s *Service) refundExcess(ctx context.Context, o *Order, p *payment.Payment) error {
	unlock, err := s.locker.Lock(ctx, lock.OrderKey(o.ID))
	if err != nil {
		return err
	}
	defer unlock()

	payments, err := s.listPayments(ctx, o)
	if err != nil {
		return fault.Transient(err, "list payments")
	}
	excess := netPaid(payments).Sub(o.Total)
	if !excess.IsPositive() {
		return nil
	}

	var current *payment.Payment
	for _, candidate := range payments {
		if candidate.ID == p.ID {
			current = candidate
		}
	}
	if current == nil {
		current = p
	}
	amount := decimal.Min(excess, current.RefundableAmount())
	if !amount.IsPositive() {
		return nil
	}

	reason := "payment exceeds order total"
	s.logger.Info("refunding overpayment", "order_id", o.ID.String(), "payment_id", p.ID.String(), "amount", money.Format(amount))
	_, err = s.payments.Refund(ctx, o.TenantID, p.ID, amount, reason, tenant.SystemActor)
	if err == nil || errors.Is(err, fault.ErrRefundExceedsPayment) {
		return nil
	}
	s.logger.Error("overpayment refund failed", "order_id", o.ID.String(), "payment_id", p.ID.String(), "error", err)
	s.publishRefundRequired(ctx, o, p, amount, reason, err)
	return nil
}

func (s *Service) publishRefundRequired(ctx context.Context, o *Order, p *payment.Payment, amount decimal.Decimal, reason string, cause error) {
	evt := event.RefundRequiredEvent{
		EventType:  event.EventRefundRequired,
		OccurredAt: s.now().UTC(),
		TenantID:   o.TenantID.String(),
		OrderID:    o.ID.String(),
		Amount:     money.Format(amount),
		Reason:     reason,
	}
	if p != nil {
		evt.PaymentID = p.ID.String()
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	s.publish(ctx, event.RefundsRequiredTopic, evt, o.ID)
}

func (s *Service) announce(ctx context.Context, o *Order, eventType, previous, actor, note string) {
	evt := event.OrderStatusEvent{
		EventType:      eventType,
		OccurredAt:     s.now().UTC(),
		TenantID:       o.TenantID.String(),
		OrderID:        o.ID.String(),
		Status:         o.Status,
		PreviousStatus: previous,
		Total:          money.Format(o.Total),
		Actor:          actor,
		Note:           note,
		QueuePosition:  o.QueuePosition,
	}
	if o.TableID != nil {
		evt.TableID = o.TableID.String()
	}

	s.notifier.Notify(eventType, o.TenantID, map[string]any{
		"order_id":        evt.OrderID,
		"status":          evt.Status,
		"previous_status": evt.PreviousStatus,
		"total":           evt.Total,
		"queue_position":  evt.QueuePosition,
	})
	s.publish(ctx, event.OrdersStatusTopic, evt, o.ID)
}

func (s *Service) publish(ctx context.Context, topic string, evt any, orderID uuid.UUID) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("cannot encode order event", "topic", topic, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		s.logger.Error("cannot publish order event", "topic", topic, "order_id", orderID.String(), "error", err)
	}
}
