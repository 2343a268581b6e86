package coupon

import (
	"context"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/money"
	"github.com/appetiteclub/checkout/services/order/internal/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Validator decides whether a coupon may be applied to an order value.
// Validate never mutates usage. The order flow calls RegisterUsage before it
// stores the order and ReleaseUsage when that store fails.
type Validator struct {
	repo   Repo
	logger apt.Logger
	now    func() time.Time
}

func NewValidator(repo Repo, logger apt.Logger) *Validator {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Validator{
		repo:   repo,
		logger: logger.With("component", "CouponValidator"),
		now:    time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

func (v *Validator) Validate(ctx context.Context, tenantID uuid.UUID, code string, orderValue decimal.Decimal) (*Coupon, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	code = NormalizeCode(code)
	if code == "" {
		return nil, fault.Validation(fault.Field("coupon_code", "required"))
	}

	c, err := v.repo.GetByCode(ctx, tenantID, code)
	if err != nil {
		return nil, fault.Transient(err, "load coupon")
	}
	if c == nil || !c.Active || c.TenantID != tenantID {
		return nil, fault.NotFound("coupon")
	}

	if !c.InWindow(v.now()) {
		return nil, fault.CouponExpired(code)
	}
	if orderValue.LessThan(c.MinOrderValue) {
		return nil, fault.CouponBelowMinimum(code, money.Format(c.MinOrderValue))
	}
	if c.Exhausted() {
		return nil, fault.CouponExhausted(code)
	}

	return c, nil
}

// RegisterUsage consumes one use of c. Losing the race for the last use
// yields CouponExhausted.
func (v *Validator) RegisterUsage(ctx context.Context, tenantID uuid.UUID, c *Coupon) error {
	if err := tenant.Check(tenantID, c, "coupon"); err != nil {
		return err
	}
	ok, err := v.repo.IncrementUsage(ctx, tenantID, c.ID)
	if err != nil {
		return fault.Transient(err, "register coupon usage")
	}
	if !ok {
		return fault.CouponExhausted(c.Code)
	}
	v.logger.Debug("coupon usage registered", "tenant_id", tenantID.String(), "code", c.Code)
	return nil
}

// ReleaseUsage returns a use taken by RegisterUsage for an order that was
// never stored.
func (v *Validator) ReleaseUsage(ctx context.Context, tenantID uuid.UUID, c *Coupon) error {
	if err := tenant.Check(tenantID, c, "coupon"); err != nil {
		return err
	}
	if err := v.repo.DecrementUsage(ctx, tenantID, c.ID); err != nil {
		return fault.Transient(err, "release coupon usage")
	}
	v.logger.Debug("coupon usage released", "tenant_id", tenantID.String(), "code", c.Code)
	return nil
}

// Create stores a new coupon after checking its rule.
func (v *Validator) Create(ctx context.Context, tenantID uuid.UUID, c *Coupon) error {
	if err := tenant.Require(tenantID); err != nil {
		return err
	}
	c.TenantID = tenantID
	if err := validateRule(c); err != nil {
		return err
	}

	existing, err := v.repo.GetByCode(ctx, tenantID, NormalizeCode(c.Code))
	if err != nil {
		return fault.Transient(err, "load coupon")
	}
	if existing != nil {
		return fault.Validation(fault.Field("code", "already exists"))
	}

	c.BeforeCreate()
	if err := v.repo.Create(ctx, c); err != nil {
		return fault.Transient(err, "create coupon")
	}
	return nil
}

func (v *Validator) List(ctx context.Context, tenantID uuid.UUID) ([]*Coupon, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	list, err := v.repo.List(ctx, tenantID)
	if err != nil {
		return nil, fault.Transient(err, "list coupons")
	}
	return list, nil
}

func validateRule(c *Coupon) error {
	var fields []fault.FieldError
	if NormalizeCode(c.Code) == "" {
		fields = append(fields, fault.Field("code", "required"))
	}
	switch c.DiscountType {
	case money.Percentage:
		if !c.DiscountValue.IsPositive() || c.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
			fields = append(fields, fault.Field("discount_value", "percentage must be in (0, 100]"))
		}
	case money.Fixed:
		if !c.DiscountValue.IsPositive() {
			fields = append(fields, fault.Field("discount_value", "must be positive"))
		}
	default:
		fields = append(fields, fault.Field("discount_type", "must be percentage or fixed"))
	}
	if c.MinOrderValue.IsNegative() {
		fields = append(fields, fault.Field("min_order_value", "must not be negative"))
	}
	if c.MaxDiscount.IsNegative() {
		fields = append(fields, fault.Field("max_discount", "must not be negative"))
	}
	if c.UsageLimit < 0 {
		fields = append(fields, fault.Field("usage_limit", "must not be negative"))
	}
	if c.ValidFrom != nil && c.ValidUntil != nil && c.ValidUntil.Before(*c.ValidFrom) {
		fields = append(fields, fault.Field("valid_until", "must not precede valid_from"))
	}
	if len(fields) > 0 {
		return fault.Validation(fields...)
	}
	return nil
}
