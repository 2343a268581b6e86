package order

import (
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/checkout/pkg/enums/orderstatus"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	Delivery Type = "delivery"
	Counter  Type = "counter"
	Table    Type = "table"
)

func (t Type) Valid() bool {
	switch t {
	case Delivery, Counter, Table:
		return true
	}
	return false
}

// ItemAddon and Item are price snapshots taken when the order was placed.
type ItemAddon struct {
	AddonID   uuid.UUID       `json:"addon_id" bson:"addon_id"`
	Name      string          `json:"name" bson:"name"`
	UnitPrice decimal.Decimal `json:"unit_price" bson:"unit_price"`
	Quantity  int             `json:"quantity" bson:"quantity"`
}

type Item struct {
	ID        uuid.UUID       `json:"id" bson:"id"`
	ProductID uuid.UUID       `json:"product_id" bson:"product_id"`
	Name      string          `json:"name" bson:"name"`
	UnitPrice decimal.Decimal `json:"unit_price" bson:"unit_price"`
	Quantity  int             `json:"quantity" bson:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal" bson:"subtotal"`
	Notes     string          `json:"notes,omitempty" bson:"notes,omitempty"`
	Addons    []ItemAddon     `json:"addons,omitempty" bson:"addons,omitempty"`
	CreatedAt time.Time       `json:"created_at" bson:"created_at"`
}

func (i Item) line() money.Line {
	l := money.Line{UnitPrice: i.UnitPrice, Quantity: i.Quantity}
	for _, a := range i.Addons {
		l.Addons = append(l.Addons, money.Addon{UnitPrice: a.UnitPrice, Quantity: a.Quantity})
	}
	return l
}

// HistoryEntry is one accepted status transition.
type HistoryEntry struct {
	Status string    `json:"status" bson:"status"`
	At     time.Time `json:"at" bson:"at"`
	Actor  string    `json:"actor" bson:"actor"`
	Note   string    `json:"note,omitempty" bson:"note,omitempty"`
}

type Rejection struct {
	Reason     string    `json:"reason" bson:"reason"`
	Notes      string    `json:"notes,omitempty" bson:"notes,omitempty"`
	RejectedBy string    `json:"rejected_by" bson:"rejected_by"`
	RejectedAt time.Time `json:"rejected_at" bson:"rejected_at"`
}

// AppliedDiscount keeps the coupon rule on the order so totals can be
// recomputed without consulting the coupon again.
type AppliedDiscount struct {
	Type      money.DiscountType `json:"type" bson:"type"`
	Value     decimal.Decimal    `json:"value" bson:"value"`
	MaxAmount decimal.Decimal    `json:"max_amount" bson:"max_amount"`
}

func (d *AppliedDiscount) rule() *money.Discount {
	if d == nil {
		return nil
	}
	return &money.Discount{Type: d.Type, Value: d.Value, MaxAmount: d.MaxAmount}
}

type Order struct {
	ID               uuid.UUID        `json:"id" bson:"_id"`
	TenantID         uuid.UUID        `json:"tenant_id" bson:"tenant_id"`
	CustomerID       uuid.UUID        `json:"customer_id" bson:"customer_id"`
	CustomerName     string           `json:"customer_name,omitempty" bson:"customer_name,omitempty"`
	CustomerPhone    string           `json:"customer_phone,omitempty" bson:"customer_phone,omitempty"`
	Type             Type             `json:"type" bson:"type"`
	DeliveryAddress  string           `json:"delivery_address,omitempty" bson:"delivery_address,omitempty"`
	TableID          *uuid.UUID       `json:"table_id,omitempty" bson:"table_id,omitempty"`
	Items            []Item           `json:"items" bson:"items"`
	Subtotal         decimal.Decimal  `json:"subtotal" bson:"subtotal"`
	DiscountAmount   decimal.Decimal  `json:"discount_amount" bson:"discount_amount"`
	DeliveryFee      decimal.Decimal  `json:"delivery_fee" bson:"delivery_fee"`
	Total            decimal.Decimal  `json:"total" bson:"total"`
	CouponCode       string           `json:"coupon_code,omitempty" bson:"coupon_code,omitempty"`
	Discount         *AppliedDiscount `json:"discount,omitempty" bson:"discount,omitempty"`
	PaymentMethod    string           `json:"payment_method,omitempty" bson:"payment_method,omitempty"`
	Status           string           `json:"status" bson:"status"`
	QueuePosition    int              `json:"queue_position" bson:"queue_position"`
	EstimatedMinutes int              `json:"estimated_minutes,omitempty" bson:"estimated_minutes,omitempty"`
	Notes            string           `json:"notes,omitempty" bson:"notes,omitempty"`
	History          []HistoryEntry   `json:"history" bson:"history"`
	Rejection        *Rejection       `json:"rejection,omitempty" bson:"rejection,omitempty"`
	Version          int64            `json:"version" bson:"version"`
	CreatedAt        time.Time        `json:"created_at" bson:"created_at"`
	CreatedBy        string           `json:"created_by" bson:"created_by"`
	UpdatedAt        time.Time        `json:"updated_at" bson:"updated_at"`
}

// NewOrder returns a pending order with its first history row.
func NewOrder(tenantID uuid.UUID, typ Type, actor string, at time.Time) *Order {
	o := &Order{
		ID:        apt.GenerateNewID(),
		TenantID:  tenantID,
		Type:      typ,
		Status:    orderstatus.Statuses.Pending.Name,
		CreatedAt: at,
		CreatedBy: actor,
		UpdatedAt: at,
	}
	o.appendHistory(o.Status, actor, "", at)
	return o
}

func (o *Order) GetID() uuid.UUID {
	return o.ID
}

func (o *Order) ResourceType() string {
	return "order"
}

func (o *Order) SetID(id uuid.UUID) {
	o.ID = id
}

func (o *Order) GetTenantID() uuid.UUID {
	return o.TenantID
}

func (o *Order) IsTerminal() bool {
	return orderstatus.IsTerminal(o.Status)
}

// progress lists the edges UpdateStatus may take. Accept, Reject and Cancel
// have their own operations.
var progress = map[string][]string{
	orderstatus.Statuses.Preparing.Name:      {orderstatus.Statuses.Ready.Name},
	orderstatus.Statuses.Ready.Name:          {orderstatus.Statuses.OutForDelivery.Name, orderstatus.Statuses.Delivered.Name},
	orderstatus.Statuses.OutForDelivery.Name: {orderstatus.Statuses.Delivered.Name},
}

// CanAdvance reports whether UpdateStatus may move o to next. Delivery
// orders must go out for delivery; counter and table orders are handed over
// from Ready.
func (o *Order) CanAdvance(next string) bool {
	allowed := false
	for _, s := range progress[o.Status] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	if o.Status == orderstatus.Statuses.Ready.Name {
		if o.Type == Delivery {
			return next == orderstatus.Statuses.OutForDelivery.Name
		}
		return next == orderstatus.Statuses.Delivered.Name
	}
	return true
}

func (o *Order) guardFinal() error {
	if o.IsTerminal() {
		return fault.AlreadyFinalized(o.Status)
	}
	return nil
}

func (o *Order) Accept(minutes int, notes, actor string, at time.Time) error {
	if err := o.guardFinal(); err != nil {
		return err
	}
	if o.Status != orderstatus.Statuses.Pending.Name {
		return fault.InvalidTransition(o.Status, orderstatus.Statuses.Preparing.Name)
	}
	if minutes <= 0 {
		return fault.Validation(fault.Field("estimated_minutes", "must be positive"))
	}
	o.EstimatedMinutes = minutes
	o.move(orderstatus.Statuses.Preparing.Name, actor, notes, at)
	return nil
}

func (o *Order) Reject(reason, notes, actor string, at time.Time) error {
	if err := o.guardFinal(); err != nil {
		return err
	}
	if o.Status != orderstatus.Statuses.Pending.Name {
		return fault.InvalidTransition(o.Status, orderstatus.Statuses.Rejected.Name)
	}
	if reason == "" {
		return fault.Validation(fault.Field("reason", "required"))
	}
	o.Rejection = &Rejection{Reason: reason, Notes: notes, RejectedBy: actor, RejectedAt: at}
	o.move(orderstatus.Statuses.Rejected.Name, actor, reason, at)
	return nil
}

func (o *Order) Advance(next, actor, note string, at time.Time) error {
	if err := o.guardFinal(); err != nil {
		return err
	}
	if orderstatus.ByName(next) == nil {
		return fault.Validation(fault.Field("status", "unknown status "+next))
	}
	if !o.CanAdvance(next) {
		return fault.InvalidTransition(o.Status, next)
	}
	o.move(next, actor, note, at)
	return nil
}

func (o *Order) Cancel(reason, actor string, at time.Time) error {
	if err := o.guardFinal(); err != nil {
		return err
	}
	o.move(orderstatus.Statuses.Cancelled.Name, actor, reason, at)
	return nil
}

// AddItems appends items while the kitchen has not accepted the order.
func (o *Order) AddItems(items []Item, at time.Time) error {
	if err := o.guardFinal(); err != nil {
		return err
	}
	if o.Status != orderstatus.Statuses.Pending.Name {
		return fault.OrderLocked("order is " + o.Status + ", items can no longer be added")
	}
	o.Items = append(o.Items, items...)
	o.UpdatedAt = at
	return o.Recompute()
}

// Recompute derives every amount from the items, the applied discount and
// the delivery fee.
func (o *Order) Recompute() error {
	lines := make([]money.Line, 0, len(o.Items))
	for i := range o.Items {
		l := o.Items[i].line()
		o.Items[i].Subtotal = money.LineSubtotal(l)
		lines = append(lines, l)
	}
	b, err := money.Compute(lines, o.Discount.rule(), o.DeliveryFee)
	if err != nil {
		return err
	}
	o.Subtotal = b.Subtotal
	o.DiscountAmount = b.DiscountAmount
	o.Total = b.Total
	return nil
}

func (o *Order) move(status, actor, note string, at time.Time) {
	o.Status = status
	o.UpdatedAt = at
	o.appendHistory(status, actor, note, at)
}

func (o *Order) appendHistory(status, actor, note string, at time.Time) {
	o.History = append(o.History, HistoryEntry{Status: status, At: at, Actor: actor, Note: note})
}
