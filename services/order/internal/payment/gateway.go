package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Charge is what the gateway returns for a new Pix charge.
type Charge struct {
	ProviderPaymentID string
	QRPayload         string
	ExpiresAt         time.Time
	TransactionID     string
	Raw               string
}

// Gateway is the external payment provider. Implementations retry
// transient provider failures themselves.
type Gateway interface {
	Name() string
	CreatePixCharge(ctx context.Context, amount decimal.Decimal, description string) (Charge, error)
	SubmitRefund(ctx context.Context, providerPaymentID string, amount decimal.Decimal) (string, error)
	// CancelPixCharge withdraws an unpaid charge so its QR code stops
	// accepting money. It fails when the provider already captured it.
	CancelPixCharge(ctx context.Context, providerPaymentID string) error
}
