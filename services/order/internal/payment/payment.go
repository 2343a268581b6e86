package payment

import (
	"context"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/checkout/pkg/enums/paymentstatus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodPix    Method = "pix"
	MethodCredit Method = "credit"
	MethodDebit  Method = "debit"
	MethodCash   Method = "cash"
)

func (m Method) Valid() bool {
	switch m {
	case MethodPix, MethodCredit, MethodDebit, MethodCash:
		return true
	}
	return false
}

// Offline methods are captured at the counter and recorded as already paid.
func (m Method) Offline() bool {
	return m == MethodCredit || m == MethodDebit || m == MethodCash
}

// Payment is one attempt at paying an order. Status moves from pending to
// exactly one terminal status and never changes again.
type Payment struct {
	ID                   uuid.UUID       `json:"id" bson:"_id"`
	TenantID             uuid.UUID       `json:"tenant_id" bson:"tenant_id"`
	OrderID              uuid.UUID       `json:"order_id" bson:"order_id"`
	Method               Method          `json:"method" bson:"method"`
	Provider             string          `json:"provider" bson:"provider"`
	Status               string          `json:"status" bson:"status"`
	Amount               decimal.Decimal `json:"amount" bson:"amount"`
	ProviderPaymentID    string          `json:"provider_payment_id,omitempty" bson:"provider_payment_id,omitempty"`
	QRPayload            string          `json:"qr_payload,omitempty" bson:"qr_payload,omitempty"`
	ExpiresAt            *time.Time      `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	GatewayTransactionID string          `json:"gateway_transaction_id,omitempty" bson:"gateway_transaction_id,omitempty"`
	RawResponse          string          `json:"-" bson:"raw_response,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty" bson:"paid_at,omitempty"`
	Settled              bool            `json:"settled" bson:"settled"`
	Expired              bool            `json:"expired,omitempty" bson:"expired,omitempty"`
	Refunds              []Refund        `json:"refunds" bson:"refunds"`
	Version              int64           `json:"version" bson:"version"`
	CreatedAt            time.Time       `json:"created_at" bson:"created_at"`
	CreatedBy            string          `json:"created_by" bson:"created_by"`
	UpdatedAt            time.Time       `json:"updated_at" bson:"updated_at"`
}

// Refund rows are appended and never modified.
type Refund struct {
	ID              uuid.UUID       `json:"id" bson:"id"`
	Amount          decimal.Decimal `json:"amount" bson:"amount"`
	Reason          string          `json:"reason" bson:"reason"`
	GatewayRefundID string          `json:"gateway_refund_id,omitempty" bson:"gateway_refund_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at" bson:"created_at"`
	CreatedBy       string          `json:"created_by" bson:"created_by"`
}

type Repo interface {
	Create(ctx context.Context, p *Payment) error
	// Get and GetByProviderID return nil, nil when nothing matches.
	Get(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByProviderID(ctx context.Context, providerPaymentID string) (*Payment, error)
	ListByOrder(ctx context.Context, tenantID, orderID uuid.UUID) ([]*Payment, error)
	// ListExpiredPending returns pending Pix payments whose QR expired
	// before the given instant.
	ListExpiredPending(ctx context.Context, before time.Time) ([]*Payment, error)
	// Save writes p only if the stored version still equals p.Version and
	// increments it. A stale version yields a fault.Conflict.
	Save(ctx context.Context, p *Payment) error
}

func NewPayment(tenantID, orderID uuid.UUID, method Method, amount decimal.Decimal) *Payment {
	return &Payment{
		ID:       apt.GenerateNewID(),
		TenantID: tenantID,
		OrderID:  orderID,
		Method:   method,
		Status:   paymentstatus.Statuses.Pending.Name,
		Amount:   amount,
		Refunds:  []Refund{},
	}
}

func (p *Payment) GetID() uuid.UUID {
	return p.ID
}

func (p *Payment) ResourceType() string {
	return "payment"
}

func (p *Payment) SetID(id uuid.UUID) {
	p.ID = id
}

func (p *Payment) GetTenantID() uuid.UUID {
	return p.TenantID
}

func (p *Payment) EnsureID() {
	if p.ID == uuid.Nil {
		p.ID = apt.GenerateNewID()
	}
}

func (p *Payment) BeforeCreate() {
	p.EnsureID()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	if p.Refunds == nil {
		p.Refunds = []Refund{}
	}
}

func (p *Payment) BeforeUpdate() {
	p.UpdatedAt = time.Now()
}

func (p *Payment) IsTerminal() bool {
	return paymentstatus.IsTerminal(p.Status)
}

func (p *Payment) IsPaid() bool {
	return p.Status == paymentstatus.Statuses.Paid.Name
}

func (p *Payment) IsPending() bool {
	return p.Status == paymentstatus.Statuses.Pending.Name
}

func (p *Payment) RefundedAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range p.Refunds {
		sum = sum.Add(r.Amount)
	}
	return sum
}

func (p *Payment) RefundableAmount() decimal.Decimal {
	if !p.IsPaid() {
		return decimal.Zero
	}
	return p.Amount.Sub(p.RefundedAmount())
}
