package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/appetiteclub/checkout/pkg/enums/paymentstatus"
	"github.com/appetiteclub/checkout/pkg/event"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	tenantA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	tenantB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	t0      = time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)
)

type ledgerFixture struct {
	ledger    *Ledger
	repo      *MockRepo
	gateway   *MockGateway
	observer  *MockObserver
	publisher *MockPublisher
}

func newLedgerFixture() *ledgerFixture {
	f := &ledgerFixture{
		repo:      NewMockRepo(),
		gateway:   &MockGateway{},
		observer:  &MockObserver{},
		publisher: NewMockPublisher(),
	}
	f.ledger = NewLedger(LedgerDeps{
		Repo:      f.repo,
		Gateway:   f.gateway,
		Publisher: f.publisher,
	}, nil).WithClock(func() time.Time { return t0 })
	f.ledger.SetObserver(f.observer)
	return f
}

func (f *ledgerFixture) openIntent(t *testing.T, amount string) *Payment {
	t.Helper()
	p, err := f.ledger.OpenPixIntent(context.Background(), tenantA, uuid.New(), decimal.RequireFromString(amount), "order", "tester")
	if err != nil {
		t.Fatalf("open intent: %v", err)
	}
	return p
}

func webhook(providerID, status string, paidAt *time.Time) Notification {
	raw := fmt.Sprintf(`{"provider_payment_id":%q,"status":%q}`, providerID, status)
	return Notification{ProviderPaymentID: providerID, Status: status, PaidAt: paidAt, Raw: []byte(raw)}
}

func TestLedgerOpenPixIntent(t *testing.T) {
	f := newLedgerFixture()
	p := f.openIntent(t, "27.00")

	if !p.IsPending() {
		t.Errorf("status = %s, want pending", p.Status)
	}
	if p.ProviderPaymentID == "" || p.QRPayload == "" || p.ExpiresAt == nil {
		t.Errorf("charge data not recorded: %+v", p)
	}
	if p.Provider != "mock" || p.Method != MethodPix {
		t.Errorf("provider/method = %s/%s", p.Provider, p.Method)
	}
	if f.publisher.Count(event.PaymentsStatusTopic) != 1 {
		t.Errorf("expected payment.opened to be published")
	}

	stored, _ := f.repo.Get(context.Background(), p.ID)
	if stored == nil {
		t.Fatal("payment not stored")
	}
}

func TestLedgerOpenPixIntentValidation(t *testing.T) {
	tests := []struct {
		name    string
		tenant  uuid.UUID
		amount  string
		wantErr error
	}{
		{name: "zeroAmount", tenant: tenantA, amount: "0", wantErr: fault.ErrValidation},
		{name: "threeDecimals", tenant: tenantA, amount: "1.001", wantErr: fault.ErrValidation},
		{name: "noTenant", tenant: uuid.Nil, amount: "10", wantErr: fault.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLedgerFixture()
			_, err := f.ledger.OpenPixIntent(context.Background(), tt.tenant, uuid.New(), decimal.RequireFromString(tt.amount), "", "")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("gatewayFailureIsTransient", func(t *testing.T) {
		f := newLedgerFixture()
		f.gateway.CreatePixChargeFunc = func(ctx context.Context, amount decimal.Decimal, description string) (Charge, error) {
			return Charge{}, errors.New("gateway timeout")
		}
		_, err := f.ledger.OpenPixIntent(context.Background(), tenantA, uuid.New(), decimal.NewFromInt(10), "", "")
		if !errors.Is(err, fault.ErrTransient) {
			t.Fatalf("expected transient, got %v", err)
		}
	})
}

func TestLedgerReconcileWebhookReplayIsNoOp(t *testing.T) {
	f := newLedgerFixture()
	p := f.openIntent(t, "27.00")
	ctx := context.Background()

	t1 := t0.Add(time.Minute)
	first, err := f.ledger.ReconcileWebhook(ctx, webhook(p.ProviderPaymentID, "paid", &t1))
	if err != nil {
		t.Fatalf("first webhook: %v", err)
	}
	if !first.IsPaid() || !first.PaidAt.Equal(t1) {
		t.Fatalf("after first webhook: status %s paidAt %v", first.Status, first.PaidAt)
	}

	t2 := t0.Add(5 * time.Minute)
	second, err := f.ledger.ReconcileWebhook(ctx, webhook(p.ProviderPaymentID, "paid", &t2))
	if err != nil {
		t.Fatalf("replayed webhook must succeed, got %v", err)
	}
	if !second.PaidAt.Equal(t1) {
		t.Errorf("paidAt changed on replay: %v", second.PaidAt)
	}
	if f.observer.Calls() != 1 {
		t.Errorf("settlement ran %d times, want 1", f.observer.Calls())
	}
	// opened + paid; the replay publishes nothing.
	if got := f.publisher.Count(event.PaymentsStatusTopic); got != 2 {
		t.Errorf("published %d payment events, want 2", got)
	}

	stored, _ := f.repo.Get(ctx, p.ID)
	if !stored.Settled {
		t.Error("payment not marked settled")
	}
	if string(stored.RawResponse) != string(webhook(p.ProviderPaymentID, "paid", nil).Raw) {
		t.Errorf("raw response overwritten by replay: %s", stored.RawResponse)
	}
}

func TestLedgerReconcileWebhookTerminalIsSticky(t *testing.T) {
	f := newLedgerFixture()
	p := f.openIntent(t, "10.00")
	ctx := context.Background()

	if _, err := f.ledger.ReconcileWebhook(ctx, webhook(p.ProviderPaymentID, "failed", nil)); err != nil {
		t.Fatalf("failed webhook: %v", err)
	}
	got, err := f.ledger.ReconcileWebhook(ctx, webhook(p.ProviderPaymentID, "paid", &t0))
	if err != nil {
		t.Fatalf("late paid webhook: %v", err)
	}
	if got.Status != paymentstatus.Statuses.Failed.Name || got.PaidAt != nil {
		t.Errorf("terminal failed payment changed: %s %v", got.Status, got.PaidAt)
	}
	if f.observer.Calls() != 0 {
		t.Errorf("settlement ran for a failed payment")
	}
}

func TestLedgerReconcileWebhookPendingNotificationChangesNothing(t *testing.T) {
	f := newLedgerFixture()
	p := f.openIntent(t, "10.00")

	got, err := f.ledger.ReconcileWebhook(context.Background(), webhook(p.ProviderPaymentID, "pending", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsPending() || got.Version != p.Version {
		t.Errorf("pending notification mutated payment: %+v", got)
	}
}

func TestLedgerReconcileWebhookUnknownPayment(t *testing.T) {
	f := newLedgerFixture()
	_, err := f.ledger.ReconcileWebhook(context.Background(), webhook("nope", "paid", nil))
	if !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLedgerReconcileWebhookConcurrentDuplicates(t *testing.T) {
	f := newLedgerFixture()
	p := f.openIntent(t, "27.00")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := t0.Add(time.Duration(i) * time.Second)
			if _, err := f.ledger.ReconcileWebhook(ctx, webhook(p.ProviderPaymentID, "paid", &at)); err != nil {
				t.Errorf("webhook %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := f.publisher.Count(event.PaymentsStatusTopic); got != 2 {
		t.Errorf("status changed %d times, want exactly once", got-1)
	}
	stored, _ := f.repo.Get(ctx, p.ID)
	if !stored.IsPaid() || !stored.Settled {
		t.Errorf("final state = %s settled=%v", stored.Status, stored.Settled)
	}
}

func TestLedgerSettlementRetriedUntilSuccess(t *testing.T) {
	f := newLedgerFixture()
	p := f.openIntent(t, "27.00")
	ctx := context.Background()

	failing := true
	f.observer.PaymentSettledFunc = func(ctx context.Context, p *Payment) error {
		if failing {
			return fault.Transient(errors.New("order store down"), "load order")
		}
		return nil
	}

	_, err := f.ledger.ReconcileWebhook(ctx, webhook(p.ProviderPaymentID, "paid", &t0))
	if !errors.Is(err, fault.ErrTransient) {
		t.Fatalf("expected transient settlement error, got %v", err)
	}
	stored, _ := f.repo.Get(ctx, p.ID)
	if !stored.IsPaid() || stored.Settled {
		t.Fatalf("payment should be paid and unsettled, got %s settled=%v", stored.Status, stored.Settled)
	}

	failing = false
	later := t0.Add(time.Hour)
	got, err := f.ledger.ReconcileWebhook(ctx, webhook(p.ProviderPaymentID, "paid", &later))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !got.Settled || !got.PaidAt.Equal(t0) {
		t.Errorf("replay should settle without touching paidAt: settled=%v paidAt=%v", got.Settled, got.PaidAt)
	}
	if f.observer.Calls() != 2 {
		t.Errorf("observer calls = %d, want 2", f.observer.Calls())
	}

	if _, err := f.ledger.ReconcileWebhook(ctx, webhook(p.ProviderPaymentID, "paid", &later)); err != nil {
		t.Fatalf("second replay: %v", err)
	}
	if f.observer.Calls() != 2 {
		t.Errorf("settled payment ran observer again")
	}
}

func TestLedgerRefund(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*ledgerFixture, *Payment) {
		f := newLedgerFixture()
		p := f.openIntent(t, "50.00")
		if _, err := f.ledger.ReconcileWebhook(ctx, webhook(p.ProviderPaymentID, "paid", &t0)); err != nil {
			t.Fatalf("pay: %v", err)
		}
		return f, p
	}

	t.Run("partialRefundsAccumulate", func(t *testing.T) {
		f, p := setup(t)
		if _, err := f.ledger.Refund(ctx, tenantA, p.ID, decimal.RequireFromString("20.00"), "cold food", "manager"); err != nil {
			t.Fatalf("first refund: %v", err)
		}
		got, err := f.ledger.Refund(ctx, tenantA, p.ID, decimal.RequireFromString("30.00"), "cancelled", "manager")
		if err != nil {
			t.Fatalf("second refund: %v", err)
		}
		if !got.IsPaid() {
			t.Errorf("refund changed status to %s", got.Status)
		}
		if !got.RefundedAmount().Equal(decimal.NewFromInt(50)) || len(got.Refunds) != 2 {
			t.Errorf("refunded = %s over %d rows", got.RefundedAmount(), len(got.Refunds))
		}
		if got.Refunds[0].GatewayRefundID == "" {
			t.Error("gateway refund id not recorded")
		}
	})

	t.Run("exceedingRemainingFails", func(t *testing.T) {
		f, p := setup(t)
		if _, err := f.ledger.Refund(ctx, tenantA, p.ID, decimal.RequireFromString("45.00"), "", ""); err != nil {
			t.Fatalf("refund: %v", err)
		}
		_, err := f.ledger.Refund(ctx, tenantA, p.ID, decimal.RequireFromString("5.01"), "", "")
		if !errors.Is(err, fault.ErrRefundExceedsPayment) {
			t.Fatalf("expected refund exceeds, got %v", err)
		}
		if len(f.gateway.refunds) != 1 {
			t.Errorf("gateway called for rejected refund")
		}
	})

	t.Run("pendingPaymentCannotBeRefunded", func(t *testing.T) {
		f := newLedgerFixture()
		p := f.openIntent(t, "10.00")
		_, err := f.ledger.Refund(ctx, tenantA, p.ID, decimal.NewFromInt(1), "", "")
		if !errors.Is(err, fault.ErrInvalidTransition) {
			t.Fatalf("expected invalid transition, got %v", err)
		}
	})

	t.Run("otherTenantGetsNotFound", func(t *testing.T) {
		f, p := setup(t)
		_, err := f.ledger.Refund(ctx, tenantB, p.ID, decimal.NewFromInt(1), "", "")
		if !errors.Is(err, fault.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("gatewayFailureRecordsNothing", func(t *testing.T) {
		f, p := setup(t)
		f.gateway.SubmitRefundFunc = func(ctx context.Context, providerID string, amount decimal.Decimal) (string, error) {
			return "", errors.New("503")
		}
		_, err := f.ledger.Refund(ctx, tenantA, p.ID, decimal.NewFromInt(1), "", "")
		if !errors.Is(err, fault.ErrTransient) {
			t.Fatalf("expected transient, got %v", err)
		}
		stored, _ := f.repo.Get(ctx, p.ID)
		if len(stored.Refunds) != 0 {
			t.Errorf("refund row written despite gateway failure")
		}
	})
}

func TestLedgerRecordOffline(t *testing.T) {
	f := newLedgerFixture()
	orderID := uuid.New()

	p, err := f.ledger.RecordOffline(context.Background(), tenantA, orderID, MethodCash, decimal.RequireFromString("27.00"), "cashier")
	if err != nil {
		t.Fatalf("record offline: %v", err)
	}
	if !p.IsPaid() || p.PaidAt == nil || !p.Settled {
		t.Errorf("offline payment = %s paidAt=%v settled=%v", p.Status, p.PaidAt, p.Settled)
	}
	if f.observer.Calls() != 1 {
		t.Errorf("settlement calls = %d, want 1", f.observer.Calls())
	}

	if _, err := f.ledger.RecordOffline(context.Background(), tenantA, orderID, MethodPix, decimal.NewFromInt(1), ""); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("pix is not an offline method, got %v", err)
	}
}

func TestLedgerExpireIntents(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	expired := f.openIntent(t, "10.00")
	fresh := f.openIntent(t, "12.00")
	paid := f.openIntent(t, "14.00")

	past := t0.Add(-time.Minute)
	future := t0.Add(time.Hour)
	for id, at := range map[uuid.UUID]time.Time{expired.ID: past, fresh.ID: future, paid.ID: past} {
		p, _ := f.repo.Get(ctx, id)
		p.ExpiresAt = &at
		if err := f.repo.Save(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.ledger.ReconcileWebhook(ctx, webhook(paid.ProviderPaymentID, "paid", &past)); err != nil {
		t.Fatal(err)
	}

	n, err := f.ledger.ExpireIntents(ctx, t0)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d payments, want 1", n)
	}

	got, _ := f.repo.Get(ctx, expired.ID)
	if got.Status != paymentstatus.Statuses.Cancelled.Name || !got.Expired {
		t.Errorf("expired payment status = %s expired = %v", got.Status, got.Expired)
	}
	if len(f.gateway.cancelled) != 1 || f.gateway.cancelled[0] != expired.ProviderPaymentID {
		t.Errorf("gateway cancellations = %v, want [%s]", f.gateway.cancelled, expired.ProviderPaymentID)
	}
	got, _ = f.repo.Get(ctx, fresh.ID)
	if !got.IsPending() {
		t.Errorf("fresh payment status = %s", got.Status)
	}
}

func TestLedgerExpireKeepsChargeTheGatewayWontCancel(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	p := f.openIntent(t, "20.00")
	f.gateway.CancelPixChargeFunc = func(ctx context.Context, providerID string) error {
		return errors.New("provider responded 409: charge already paid")
	}

	n, err := f.ledger.ExpireIntents(ctx, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 0 {
		t.Errorf("expired %d payments, want 0", n)
	}
	got, _ := f.repo.Get(ctx, p.ID)
	if !got.IsPending() {
		t.Fatalf("status = %s, want pending", got.Status)
	}

	if _, err := f.ledger.ReconcileWebhook(ctx, webhook(p.ProviderPaymentID, "paid", &t0)); err != nil {
		t.Fatal(err)
	}
	got, _ = f.repo.Get(ctx, p.ID)
	if !got.IsPaid() || f.observer.Calls() != 1 {
		t.Errorf("status = %s settlements = %d, want paid and settled once", got.Status, f.observer.Calls())
	}
}

func TestLedgerPaidAfterExpiryIsRefunded(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	p := f.openIntent(t, "20.00")

	if n, err := f.ledger.ExpireIntents(ctx, time.Now().Add(2*time.Hour)); err != nil || n != 1 {
		t.Fatalf("expire = %d, %v", n, err)
	}

	for i := 0; i < 2; i++ {
		got, err := f.ledger.ReconcileWebhook(ctx, webhook(p.ProviderPaymentID, "paid", &t0))
		if err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
		if got.Status != paymentstatus.Statuses.Cancelled.Name {
			t.Errorf("delivery %d: status = %s, want cancelled", i+1, got.Status)
		}
	}

	got, _ := f.repo.Get(ctx, p.ID)
	if len(got.Refunds) != 1 || !got.RefundedAmount().Equal(decimal.RequireFromString("20.00")) {
		t.Errorf("refunds = %+v, want one refund of 20.00", got.Refunds)
	}
	if f.gateway.refundCount() != 1 {
		t.Errorf("gateway refunds = %d, want 1", f.gateway.refundCount())
	}
	if f.observer.Calls() != 0 {
		t.Errorf("settlements = %d, want 0", f.observer.Calls())
	}
	if f.publisher.countEvents(event.EventPaymentRefunded) != 1 {
		t.Errorf("refund events = %d, want 1", f.publisher.countEvents(event.EventPaymentRefunded))
	}
}

func TestLedgerPaidAfterExpiryRefundFailureIsRetried(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	p := f.openIntent(t, "20.00")
	if _, err := f.ledger.ExpireIntents(ctx, time.Now().Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}

	f.gateway.SubmitRefundFunc = func(ctx context.Context, providerID string, amount decimal.Decimal) (string, error) {
		return "", errors.New("provider timeout")
	}
	if _, err := f.ledger.ReconcileWebhook(ctx, webhook(p.ProviderPaymentID, "paid", &t0)); !errors.Is(err, fault.ErrTransient) {
		t.Fatalf("err = %v, want transient so the webhook is redelivered", err)
	}

	f.gateway.SubmitRefundFunc = nil
	if _, err := f.ledger.ReconcileWebhook(ctx, webhook(p.ProviderPaymentID, "paid", &t0)); err != nil {
		t.Fatal(err)
	}
	got, _ := f.repo.Get(ctx, p.ID)
	if len(got.Refunds) != 1 {
		t.Errorf("refunds = %d, want 1", len(got.Refunds))
	}
}
