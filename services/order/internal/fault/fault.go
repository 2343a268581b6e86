// Package fault carries the error kinds surfaced by the ordering core.
//
// Every expected failure is a *Error with a Kind. Callers match kinds with
// errors.Is against the exported sentinels, e.g.
//
//	if errors.Is(err, fault.ErrNotFound) { ... }
//
// Unexpected failures (storage, gateways) are wrapped as Transient so callers
// know a retry is reasonable.
package fault

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindInvalidTransition Kind = "invalid_transition"
	KindAlreadyFinalized  Kind = "order_already_finalized"
	KindNotFound          Kind = "not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindRefundExceeds     Kind = "refund_exceeds_payment"
	KindOrderLocked       Kind = "order_locked"
	KindNoActiveOrder     Kind = "no_active_order"
	KindCouponExpired     Kind = "coupon_expired"
	KindCouponBelowMin    Kind = "coupon_below_minimum"
	KindCouponExhausted   Kind = "coupon_exhausted"
	KindConflict          Kind = "conflict"
	KindTransient         Kind = "transient_failure"
)

// FieldError mirrors the validation error shape used by the HTTP layer.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for i, f := range e.Fields {
		if i == 0 {
			b.WriteString(" (")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.Field)
		b.WriteString(": ")
		b.WriteString(f.Message)
		if i == len(e.Fields)-1 {
			b.WriteString(")")
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind. A conflict also reads as transient.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindTransient && e.Kind == KindConflict
}

var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrInvalidTransition     = &Error{Kind: KindInvalidTransition}
	ErrOrderAlreadyFinalized = &Error{Kind: KindAlreadyFinalized}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInsufficientFunds     = &Error{Kind: KindInsufficientFunds}
	ErrRefundExceedsPayment  = &Error{Kind: KindRefundExceeds}
	ErrOrderLocked           = &Error{Kind: KindOrderLocked}
	ErrNoActiveOrder         = &Error{Kind: KindNoActiveOrder}
	ErrCouponExpired         = &Error{Kind: KindCouponExpired}
	ErrCouponBelowMinimum    = &Error{Kind: KindCouponBelowMin}
	ErrCouponExhausted       = &Error{Kind: KindCouponExhausted}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrTransient             = &Error{Kind: KindTransient}
)

func Validation(fields ...FieldError) error {
	return &Error{Kind: KindValidation, Message: "invalid input", Fields: fields}
}

func Field(field, message string) FieldError {
	return FieldError{Field: field, Message: message}
}

func InvalidTransition(from, to string) error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf("%s -> %s is not allowed", from, to)}
}

func AlreadyFinalized(status string) error {
	return &Error{Kind: KindAlreadyFinalized, Message: fmt.Sprintf("order is %s", status)}
}

// NotFound never names the tenant that owns the entity.
func NotFound(entity string) error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

func InsufficientFunds(format string, args ...any) error {
	return &Error{Kind: KindInsufficientFunds, Message: fmt.Sprintf(format, args...)}
}

func RefundExceedsPayment(format string, args ...any) error {
	return &Error{Kind: KindRefundExceeds, Message: fmt.Sprintf(format, args...)}
}

func OrderLocked(reason string) error {
	return &Error{Kind: KindOrderLocked, Message: reason}
}

func NoActiveOrder(table string) error {
	return &Error{Kind: KindNoActiveOrder, Message: "no active order for table " + table}
}

func CouponExpired(code string) error {
	return &Error{Kind: KindCouponExpired, Message: "coupon " + code + " is not valid at this time"}
}

func CouponBelowMinimum(code, minimum string) error {
	return &Error{Kind: KindCouponBelowMin, Message: fmt.Sprintf("coupon %s requires a minimum order of %s", code, minimum)}
}

func CouponExhausted(code string) error {
	return &Error{Kind: KindCouponExhausted, Message: "coupon " + code + " has no uses left"}
}

func Conflict(entity string) error {
	return &Error{Kind: KindConflict, Message: entity + " was modified concurrently"}
}

// Transient wraps an infrastructure failure. Nil in, nil out.
func Transient(err error, op string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: KindTransient, Message: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or Transient for
// anything unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition, KindAlreadyFinalized, KindOrderLocked, KindConflict:
		return http.StatusConflict
	case KindNoActiveOrder:
		return http.StatusNotFound
	case KindInsufficientFunds, KindRefundExceeds,
		KindCouponExpired, KindCouponBelowMin, KindCouponExhausted:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}
