package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/checkout/pkg/enums/paymentstatus"
	"github.com/appetiteclub/checkout/pkg/event"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/lock"
	"github.com/appetiteclub/checkout/services/order/internal/money"
	"github.com/appetiteclub/checkout/services/order/internal/notify"
	"github.com/appetiteclub/checkout/services/order/internal/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const saveAttempts = 3

// SettlementObserver reacts to a payment reaching Paid: advancing the order,
// crediting loyalty, or refunding money captured for a cancelled order. It
// must be idempotent; it runs again on every replay until it succeeds once.
type SettlementObserver interface {
	PaymentSettled(ctx context.Context, p *Payment) error
}

type LedgerDeps struct {
	Repo      Repo
	Gateway   Gateway
	Locker    lock.Locker
	Publisher events.Publisher
	Notifier  notify.Notifier
}

// Ledger owns payment rows. Every mutation of one payment happens under its
// lock and is committed with a version check.
type Ledger struct {
	repo      Repo
	gateway   Gateway
	locker    lock.Locker
	publisher events.Publisher
	notifier  notify.Notifier
	observer  SettlementObserver
	logger    apt.Logger
	now       func() time.Time
}

func NewLedger(deps LedgerDeps, logger apt.Logger) *Ledger {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	return &Ledger{
		repo:      deps.Repo,
		gateway:   deps.Gateway,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		logger:    logger.With("component", "PaymentLedger"),
		now:       time.Now,
	}
}

// SetObserver wires the settlement callback. The order service registers
// itself here after both are built.
func (l *Ledger) SetObserver(o SettlementObserver) {
	l.observer = o
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) Get(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error) {
	p, err := l.repo.Get(ctx, id)
	return tenant.Scoped(tenantID, "payment", p, err)
}

func (l *Ledger) ListByOrder(ctx context.Context, tenantID, orderID uuid.UUID) ([]*Payment, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	list, err := l.repo.ListByOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, fault.Transient(err, "list payments")
	}
	out := list[:0]
	for _, p := range list {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

// OpenPixIntent asks the gateway for a Pix charge and records it as a
// pending payment. The caller has already checked the order.
func (l *Ledger) OpenPixIntent(ctx context.Context, tenantID, orderID uuid.UUID, amount decimal.Decimal, description, actor string) (*Payment, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	if !amount.IsPositive() || !amount.Equal(money.Round(amount)) {
		return nil, fault.Validation(fault.Field("amount", "must be a positive amount with two decimals"))
	}
	if l.gateway == nil {
		return nil, fault.Transient(errors.New("no payment gateway configured"), "create pix charge")
	}

	charge, err := l.gateway.CreatePixCharge(ctx, amount, description)
	if err != nil {
		return nil, fault.Transient(err, "create pix charge")
	}

	p := NewPayment(tenantID, orderID, MethodPix, amount)
	p.Provider = l.gateway.Name()
	p.ProviderPaymentID = charge.ProviderPaymentID
	p.QRPayload = charge.QRPayload
	p.GatewayTransactionID = charge.TransactionID
	p.RawResponse = charge.Raw
	p.CreatedBy = actor
	if !charge.ExpiresAt.IsZero() {
		expires := charge.ExpiresAt.UTC()
		p.ExpiresAt = &expires
	}
	p.BeforeCreate()

	if err := l.repo.Create(ctx, p); err != nil {
		l.logger.Error("pix charge created but payment not stored",
			"provider_payment_id", charge.ProviderPaymentID, "order_id", orderID.String(), "error", err)
		return nil, fault.Transient(err, "store payment")
	}

	l.logger.Info("pix intent opened", "payment_id", p.ID.String(), "order_id", orderID.String(), "amount", money.Format(amount))
	l.announce(ctx, p, event.EventPaymentOpened, "")
	return p, nil
}

// RecordOffline stores a payment captured outside the gateway (cash or
// card at the counter) as paid and settles it.
func (l *Ledger) RecordOffline(ctx context.Context, tenantID, orderID uuid.UUID, method Method, amount decimal.Decimal, actor string) (*Payment, error) {
	p, err := l.StoreOffline(ctx, tenantID, orderID, method, amount, actor)
	if err != nil {
		return nil, err
	}
	if err := l.settle(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

// StoreOffline stores an offline payment as paid without settling it. The
// caller runs Settle once it no longer holds the order lock.
func (l *Ledger) StoreOffline(ctx context.Context, tenantID, orderID uuid.UUID, method Method, amount decimal.Decimal, actor string) (*Payment, error) {
	if err := tenant.Require(tenantID); err != nil {
		return nil, err
	}
	if !method.Offline() {
		return nil, fault.Validation(fault.Field("method", "must be cash, credit or debit"))
	}
	if !amount.IsPositive() || !amount.Equal(money.Round(amount)) {
		return nil, fault.Validation(fault.Field("amount", "must be a positive amount with two decimals"))
	}

	paidAt := l.now().UTC()
	p := NewPayment(tenantID, orderID, method, amount)
	p.Provider = "offline"
	p.Status = paymentstatus.Statuses.Paid.Name
	p.PaidAt = &paidAt
	p.CreatedBy = actor
	p.BeforeCreate()

	if err := l.repo.Create(ctx, p); err != nil {
		return nil, fault.Transient(err, "store payment")
	}

	l.announce(ctx, p, event.EventPaymentStatusChange, "")
	return p, nil
}

// Settle runs settlement for a paid payment that is not settled yet.
func (l *Ledger) Settle(ctx context.Context, p *Payment) error {
	return l.settle(ctx, p)
}

// ReconcileWebhook applies a gateway notification. A notification for a
// payment already in a terminal status changes nothing and succeeds; only a
// still-unsettled Paid payment gets its settlement retried.
func (l *Ledger) ReconcileWebhook(ctx context.Context, n Notification) (*Payment, error) {
	if n.ProviderPaymentID == "" || paymentstatus.ByName(n.Status) == nil {
		return nil, fault.Validation(fault.Field("notification", "malformed"))
	}

	found, err := l.repo.GetByProviderID(ctx, n.ProviderPaymentID)
	if err != nil {
		return nil, fault.Transient(err, "load payment")
	}
	if found == nil {
		return nil, fault.NotFound("payment")
	}

	p, changed, err := l.applyNotification(ctx, found.ID, n)
	if err != nil {
		return nil, err
	}

	if changed {
		l.logger.Info("payment reconciled",
			"payment_id", p.ID.String(), "order_id", p.OrderID.String(), "status", p.Status)
	} else {
		l.logger.Debug("webhook replay ignored",
			"payment_id", p.ID.String(), "status", p.Status, "notified_status", n.Status)
	}

	if err := l.settle(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

func (l *Ledger) applyNotification(ctx context.Context, id uuid.UUID, n Notification) (*Payment, bool, error) {
	unlock, err := l.locker.Lock(ctx, lock.PaymentKey(id))
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		p, err := l.repo.Get(ctx, id)
		if err != nil {
			return nil, false, fault.Transient(err, "load payment")
		}
		if p == nil {
			return nil, false, fault.NotFound("payment")
		}

		if lateCapture(p, n) {
			err := l.refundLateCapture(ctx, p, n)
			if errors.Is(err, fault.ErrConflict) && attempt < saveAttempts {
				continue
			}
			if err != nil {
				return nil, false, err
			}
			return p, true, nil
		}
		if p.IsTerminal() || n.Status == paymentstatus.Statuses.Pending.Name {
			return p, false, nil
		}

		previous := p.Status
		p.Status = n.Status
		p.RawResponse = string(n.Raw)
		if p.IsPaid() {
			paidAt := l.now().UTC()
			if n.PaidAt != nil {
				paidAt = *n.PaidAt
			}
			p.PaidAt = &paidAt
		}
		p.BeforeUpdate()

		err = l.repo.Save(ctx, p)
		if errors.Is(err, fault.ErrConflict) && attempt < saveAttempts {
			continue
		}
		if err != nil {
			return nil, false, fault.Transient(err, "save payment")
		}

		l.announce(ctx, p, event.EventPaymentStatusChange, previous)
		return p, true, nil
	}
}

// lateCapture reports money captured on a charge the ledger already
// expired. The payment stays Cancelled and the amount goes back once.
func lateCapture(p *Payment, n Notification) bool {
	return p.Expired && n.Status == paymentstatus.Statuses.Paid.Name && len(p.Refunds) == 0
}

// refundLateCapture returns the whole amount of an expired payment the
// provider still captured. A provider that reports the charge as already
// refunded counts as done.
func (l *Ledger) refundLateCapture(ctx context.Context, p *Payment, n Notification) error {
	if l.gateway == nil {
		return fault.Transient(errors.New("no payment gateway configured"), "refund late capture")
	}
	gatewayRefundID, err := l.gateway.SubmitRefund(ctx, p.ProviderPaymentID, p.Amount)
	if err != nil && !errors.Is(err, fault.ErrRefundExceedsPayment) {
		l.logger.Error("late capture refund failed", "payment_id", p.ID.String(), "error", err)
		return fault.Transient(err, "refund late capture")
	}

	p.RawResponse = string(n.Raw)
	p.Refunds = append(p.Refunds, Refund{
		ID:              apt.GenerateNewID(),
		Amount:          p.Amount,
		Reason:          "paid after expiry",
		GatewayRefundID: gatewayRefundID,
		CreatedAt:       l.now().UTC(),
		CreatedBy:       tenant.SystemActor,
	})
	p.BeforeUpdate()

	err = l.repo.Save(ctx, p)
	if errors.Is(err, fault.ErrConflict) {
		return err
	}
	if err != nil {
		l.logger.Error("late capture refunded but not recorded",
			"payment_id", p.ID.String(), "gateway_refund_id", gatewayRefundID, "error", err)
		return fault.Transient(err, "record refund")
	}

	l.logger.Info("late capture refunded", "payment_id", p.ID.String(), "amount", money.Format(p.Amount))
	l.announce(ctx, p, event.EventPaymentRefunded, p.Status)
	return nil
}

// settle runs the observer for a paid, unsettled payment and then marks it
// settled. Transient observer failures are returned so the notification is
// retried; permanent ones are logged and the payment is marked anyway.
func (l *Ledger) settle(ctx context.Context, p *Payment) error {
	if !p.IsPaid() || p.Settled {
		return nil
	}

	if l.observer != nil {
		if err := l.observer.PaymentSettled(ctx, p); err != nil {
			if fault.KindOf(err) == fault.KindTransient || errors.Is(err, fault.ErrConflict) {
				l.logger.Error("payment settlement failed, will retry", "payment_id", p.ID.String(), "error", err)
				return fault.Transient(err, "settle payment")
			}
			l.logger.Error("payment settlement rejected", "payment_id", p.ID.String(), "error", err)
		}
	}

	return l.markSettled(ctx, p)
}

func (l *Ledger) markSettled(ctx context.Context, p *Payment) error {
	unlock, err := l.locker.Lock(ctx, lock.PaymentKey(p.ID))
	if err != nil {
		return err
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		current, err := l.repo.Get(ctx, p.ID)
		if err != nil {
			return fault.Transient(err, "load payment")
		}
		if current == nil {
			return fault.NotFound("payment")
		}
		if current.Settled {
			*p = *current
			return nil
		}

		current.Settled = true
		current.BeforeUpdate()
		err = l.repo.Save(ctx, current)
		if errors.Is(err, fault.ErrConflict) && attempt < saveAttempts {
			continue
		}
		if err != nil {
			return fault.Transient(err, "mark payment settled")
		}
		*p = *current
		return nil
	}
}

// Refund returns part or all of a paid payment. The cumulative refunded
// amount never exceeds the payment amount and the status stays Paid.
func (l *Ledger) Refund(ctx context.Context, tenantID, paymentID uuid.UUID, amount decimal.Decimal, reason, actor string) (*Payment, error) {
	if !amount.IsPositive() || !amount.Equal(money.Round(amount)) {
		return nil, fault.Validation(fault.Field("amount", "must be a positive amount with two decimals"))
	}

	unlock, err := l.locker.Lock(ctx, lock.PaymentKey(paymentID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := l.Get(ctx, tenantID, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.IsPaid() {
		return nil, fault.InvalidTransition("payment "+p.Status, "refund")
	}
	if remaining := p.RefundableAmount(); amount.GreaterThan(remaining) {
		return nil, fault.RefundExceedsPayment("requested %s, refundable %s", money.Format(amount), money.Format(remaining))
	}

	var gatewayRefundID string
	if p.Method == MethodPix {
		if l.gateway == nil {
			return nil, fault.Transient(errors.New("no payment gateway configured"), "submit refund")
		}
		gatewayRefundID, err = l.gateway.SubmitRefund(ctx, p.ProviderPaymentID, amount)
		if err != nil {
			return nil, fault.Transient(err, "submit refund")
		}
	}

	p.Refunds = append(p.Refunds, Refund{
		ID:              apt.GenerateNewID(),
		Amount:          amount,
		Reason:          reason,
		GatewayRefundID: gatewayRefundID,
		CreatedAt:       l.now().UTC(),
		CreatedBy:       actor,
	})
	p.BeforeUpdate()

	if err := l.repo.Save(ctx, p); err != nil {
		l.logger.Error("refund submitted but not recorded",
			"payment_id", p.ID.String(), "gateway_refund_id", gatewayRefundID, "amount", money.Format(amount), "error", err)
		return nil, fault.Transient(err, "record refund")
	}

	l.logger.Info("payment refunded", "payment_id", p.ID.String(), "amount", money.Format(amount), "reason", reason)
	l.announce(ctx, p, event.EventPaymentRefunded, p.Status)
	return p, nil
}

// ExpireIntents cancels pending Pix payments whose QR code expired before
// now. Each charge is withdrawn at the gateway first; a charge the gateway
// refuses to cancel stays pending for its webhook. It returns how many
// payments it cancelled.
func (l *Ledger) ExpireIntents(ctx context.Context, now time.Time) (int, error) {
	candidates, err := l.repo.ListExpiredPending(ctx, now)
	if err != nil {
		return 0, fault.Transient(err, "list expired payments")
	}

	expired := 0
	for _, c := range candidates {
		ok, err := l.expire(ctx, c.ID, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (l *Ledger) expire(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	unlock, err := l.locker.Lock(ctx, lock.PaymentKey(id))
	if err != nil {
		return false, err
	}
	defer unlock()

	p, err := l.repo.Get(ctx, id)
	if err != nil {
		return false, fault.Transient(err, "load payment")
	}
	if p == nil || !p.IsPending() || p.ExpiresAt == nil || !p.ExpiresAt.Before(now) {
		return false, nil
	}

	if l.gateway != nil && p.ProviderPaymentID != "" {
		if err := l.gateway.CancelPixCharge(ctx, p.ProviderPaymentID); err != nil {
			l.logger.Info("pix charge not cancelled at gateway, left pending",
				"payment_id", p.ID.String(), "provider_payment_id", p.ProviderPaymentID, "error", err)
			return false, nil
		}
	}

	p.Status = paymentstatus.Statuses.Cancelled.Name
	p.Expired = true
	p.RawResponse = `{"status":"expired"}`
	p.BeforeUpdate()
	if err := l.repo.Save(ctx, p); err != nil {
		if errors.Is(err, fault.ErrConflict) {
			return false, nil
		}
		return false, fault.Transient(err, "expire payment")
	}

	l.announce(ctx, p, event.EventPaymentStatusChange, paymentstatus.Statuses.Pending.Name)
	return true, nil
}

func (l *Ledger) announce(ctx context.Context, p *Payment, eventType, previous string) {
	evt := event.PaymentStatusEvent{
		EventType:         eventType,
		OccurredAt:        l.now().UTC(),
		TenantID:          p.TenantID.String(),
		OrderID:           p.OrderID.String(),
		PaymentID:         p.ID.String(),
		ProviderPaymentID: p.ProviderPaymentID,
		Method:            string(p.Method),
		Status:            p.Status,
		PreviousStatus:    previous,
		Amount:            money.Format(p.Amount),
		PaidAt:            p.PaidAt,
	}
	if len(p.Refunds) > 0 {
		evt.RefundedAmount = money.Format(p.RefundedAmount())
	}

	l.notifier.Notify(eventType, p.TenantID, map[string]any{
		"order_id":   evt.OrderID,
		"payment_id": evt.PaymentID,
		"status":     evt.Status,
		"amount":     evt.Amount,
	})

	if l.publisher == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		l.logger.Error("cannot encode payment event", "error", err)
		return
	}
	if err := l.publisher.Publish(ctx, event.PaymentsStatusTopic, payload); err != nil {
		l.logger.Error("cannot publish payment event", "payment_id", p.ID.String(), "error", fmt.Errorf("%s: %w", eventType, err))
	}
}
