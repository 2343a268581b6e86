// Package money computes order amounts. Values are fixed-point decimals with
// two-digit scale; only the final total is rounded (half-up), so line items
// never accumulate rounding drift.
package money

import (
	"fmt"

	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/shopspring/decimal"
)

const Scale = 2

var hundred = decimal.NewFromInt(100)

type Addon struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
	Addons    []Addon
}

type DiscountType string

const (
	Percentage DiscountType = "percentage"
	Fixed      DiscountType = "fixed"
)

// Discount is the rule a validated coupon contributes. MaxAmount caps a
// percentage discount; zero means uncapped.
type Discount struct {
	Type      DiscountType
	Value     decimal.Decimal
	MaxAmount decimal.Decimal
}

type Breakdown struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	Total          decimal.Decimal `json:"total"`
}

// LineSubtotal is unit price times quantity plus each addon's price times its
// own quantity. Addons are priced per line, not per unit.
func LineSubtotal(l Line) decimal.Decimal {
	sum := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
	for _, a := range l.Addons {
		sum = sum.Add(a.UnitPrice.Mul(decimal.NewFromInt(int64(a.Quantity))))
	}
	return sum
}

func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(LineSubtotal(l))
	}
	return sum
}

// DiscountFor returns the unrounded discount for subtotal, clamped to
// [0, subtotal].
func DiscountFor(subtotal decimal.Decimal, d *Discount) decimal.Decimal {
	if d == nil || !subtotal.IsPositive() {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch d.Type {
	case Percentage:
		amount = subtotal.Mul(d.Value).Div(hundred)
		if d.MaxAmount.IsPositive() && amount.GreaterThan(d.MaxAmount) {
			amount = d.MaxAmount
		}
	case Fixed:
		amount = d.Value
	default:
		return decimal.Zero
	}

	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		return subtotal
	}
	return amount
}

// Compute produces the order breakdown. The discount is applied to the
// subtotal before the delivery fee, so the total never drops below the fee.
// The stored discount is derived from the rounded total, which keeps
// total == subtotal - discount + fee exact.
func Compute(lines []Line, d *Discount, deliveryFee decimal.Decimal) (Breakdown, error) {
	if err := ValidateLines(lines); err != nil {
		return Breakdown{}, err
	}
	if deliveryFee.IsNegative() {
		return Breakdown{}, fault.Validation(fault.Field("delivery_fee", "must not be negative"))
	}

	subtotal := Subtotal(lines)
	discount := DiscountFor(subtotal, d)
	total := Round(subtotal.Sub(discount).Add(deliveryFee))

	return Breakdown{
		Subtotal:       subtotal,
		DiscountAmount: subtotal.Add(deliveryFee).Sub(total),
		DeliveryFee:    deliveryFee,
		Total:          total,
	}, nil
}

func ValidateLines(lines []Line) error {
	if len(lines) == 0 {
		return fault.Validation(fault.Field("items", "at least one item is required"))
	}

	var fields []fault.FieldError
	for i, l := range lines {
		if l.Quantity <= 0 {
			fields = append(fields, fault.Field(fmt.Sprintf("items[%d].quantity", i), "must be positive"))
		}
		if l.UnitPrice.IsNegative() {
			fields = append(fields, fault.Field(fmt.Sprintf("items[%d].unit_price", i), "must not be negative"))
		}
		for j, a := range l.Addons {
			if a.Quantity <= 0 {
				fields = append(fields, fault.Field(fmt.Sprintf("items[%d].addons[%d].quantity", i, j), "must be positive"))
			}
			if a.UnitPrice.IsNegative() {
				fields = append(fields, fault.Field(fmt.Sprintf("items[%d].addons[%d].unit_price", i, j), "must not be negative"))
			}
		}
	}
	if len(fields) > 0 {
		return fault.Validation(fields...)
	}
	return nil
}

// Round applies half-up rounding to two decimal places. Amounts here are
// never negative, where half-up and half-away-from-zero agree.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Parse reads a caller-supplied amount. More than two decimal places is a
// validation error rather than a silent rounding.
func Parse(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fault.Validation(fault.Field(field, "not a decimal amount"))
	}
	if d.Exponent() < -Scale && !d.Equal(Round(d)) {
		return decimal.Zero, fault.Validation(fault.Field(field, "at most two decimal places"))
	}
	return d, nil
}

// ParsePositive is Parse restricted to amounts greater than zero.
func ParsePositive(field, raw string) (decimal.Decimal, error) {
	d, err := Parse(field, raw)
	if err != nil {
		return d, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fault.Validation(fault.Field(field, "must be positive"))
	}
	return d, nil
}

// Format renders an amount with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
