package pix

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sandbox issues charges without a provider. Refunds are accepted up to the
// charged amount.
type Sandbox struct {
	merchant Merchant
	expiry   time.Duration
	logger   apt.Logger
	now      func() time.Time

	mu      sync.Mutex
	charges map[string]sandboxCharge
}

type sandboxCharge struct {
	amount    decimal.Decimal
	refunded  decimal.Decimal
	cancelled bool
}

func NewSandbox(m Merchant, expiry time.Duration, logger apt.Logger) *Sandbox {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	return &Sandbox{
		merchant: m,
		expiry:   expiry,
		logger:   logger.With("component", "PixSandbox"),
		now:      time.Now,
		charges:  make(map[string]sandboxCharge),
	}
}

func (s *Sandbox) Name() string {
	return "pix-sandbox"
}

func (s *Sandbox) CreatePixCharge(ctx context.Context, amount decimal.Decimal, description string) (payment.Charge, error) {
	if err := ctx.Err(); err != nil {
		return payment.Charge{}, err
	}

	id := uuid.New()
	txid := strings.ReplaceAll(id.String(), "-", "")[:25]
	providerID := "sbx_" + id.String()
	expires := s.now().Add(s.expiry).UTC()

	raw, _ := json.Marshal(map[string]string{
		"id":          providerID,
		"txid":        txid,
		"amount":      amount.StringFixed(2),
		"description": description,
		"status":      "active",
		"expires_at":  expires.Format(time.RFC3339),
	})

	s.mu.Lock()
	s.charges[providerID] = sandboxCharge{amount: amount}
	s.mu.Unlock()

	s.logger.Debug("sandbox pix charge created", "provider_payment_id", providerID, "amount", amount.StringFixed(2))
	return payment.Charge{
		ProviderPaymentID: providerID,
		QRPayload:         BRCode(s.merchant, amount, txid),
		ExpiresAt:         expires,
		TransactionID:     txid,
		Raw:               string(raw),
	}, nil
}

func (s *Sandbox) SubmitRefund(ctx context.Context, providerPaymentID string, amount decimal.Decimal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[providerPaymentID]
	if !ok {
		// Charges created before a restart are unknown to the sandbox.
		return "sbx_rf_" + uuid.NewString(), nil
	}
	if c.refunded.Add(amount).GreaterThan(c.amount) {
		return "", fault.RefundExceedsPayment("sandbox charge %s", providerPaymentID)
	}
	c.refunded = c.refunded.Add(amount)
	s.charges[providerPaymentID] = c
	return "sbx_rf_" + uuid.NewString(), nil
}

func (s *Sandbox) CancelPixCharge(ctx context.Context, providerPaymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[providerPaymentID]
	if !ok {
		return nil
	}
	c.cancelled = true
	s.charges[providerPaymentID] = c
	s.logger.Debug("sandbox pix charge cancelled", "provider_payment_id", providerPaymentID)
	return nil
}

// Cancelled reports whether the charge was withdrawn.
func (s *Sandbox) Cancelled(providerPaymentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.charges[providerPaymentID].cancelled
}
