package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/checkout/services/order/internal/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Coupon is unique per (tenant, code). Codes are stored upper-cased.
type Coupon struct {
	ID            uuid.UUID          `json:"id" bson:"_id"`
	TenantID      uuid.UUID          `json:"tenant_id" bson:"tenant_id"`
	Code          string             `json:"code" bson:"code"`
	Description   string             `json:"description,omitempty" bson:"description,omitempty"`
	DiscountType  money.DiscountType `json:"discount_type" bson:"discount_type"`
	DiscountValue decimal.Decimal    `json:"discount_value" bson:"discount_value"`
	MinOrderValue decimal.Decimal    `json:"min_order_value" bson:"min_order_value"`
	MaxDiscount   decimal.Decimal    `json:"max_discount" bson:"max_discount"`
	ValidFrom     *time.Time         `json:"valid_from,omitempty" bson:"valid_from,omitempty"`
	ValidUntil    *time.Time         `json:"valid_until,omitempty" bson:"valid_until,omitempty"`
	UsageLimit    int                `json:"usage_limit" bson:"usage_limit"`
	UsageCount    int                `json:"usage_count" bson:"usage_count"`
	Active        bool               `json:"active" bson:"active"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" bson:"updated_at"`
}

type Repo interface {
	Create(ctx context.Context, c *Coupon) error
	// GetByCode returns nil, nil when the tenant has no such code.
	GetByCode(ctx context.Context, tenantID uuid.UUID, code string) (*Coupon, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*Coupon, error)
	// IncrementUsage bumps usage_count only while it is below usage_limit
	// (or the coupon is unlimited). It reports whether the bump happened.
	IncrementUsage(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
	// DecrementUsage gives back one use; usage_count never drops below zero.
	DecrementUsage(ctx context.Context, tenantID, id uuid.UUID) error
}

func NewCoupon(tenantID uuid.UUID, code string) *Coupon {
	return &Coupon{
		ID:       apt.GenerateNewID(),
		TenantID: tenantID,
		Code:     NormalizeCode(code),
		Active:   true,
	}
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c *Coupon) GetID() uuid.UUID {
	return c.ID
}

func (c *Coupon) ResourceType() string {
	return "coupon"
}

func (c *Coupon) SetID(id uuid.UUID) {
	c.ID = id
}

func (c *Coupon) GetTenantID() uuid.UUID {
	return c.TenantID
}

func (c *Coupon) EnsureID() {
	if c.ID == uuid.Nil {
		c.ID = apt.GenerateNewID()
	}
}

func (c *Coupon) BeforeCreate() {
	c.EnsureID()
	c.Code = NormalizeCode(c.Code)
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
}

// Discount is the rule the calculator applies for this coupon.
func (c *Coupon) Discount() *money.Discount {
	return &money.Discount{
		Type:      c.DiscountType,
		Value:     c.DiscountValue,
		MaxAmount: c.MaxDiscount,
	}
}

func (c *Coupon) Exhausted() bool {
	return c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit
}

// InWindow reports whether at falls inside the validity window. Open ends
// are unbounded.
func (c *Coupon) InWindow(at time.Time) bool {
	if c.ValidFrom != nil && at.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && at.After(*c.ValidUntil) {
		return false
	}
	return true
}
