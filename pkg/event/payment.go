package event

import "time"

const (
	PaymentsStatusTopic      = "payments.status"
	EventPaymentOpened       = "payment.opened"
	EventPaymentStatusChange = "payment.status_changed"
	EventPaymentRefunded     = "payment.refunded"

	// PaymentWebhooksTopic is the JetStream subject gateway notifications are
	// relayed through before reconciliation.
	PaymentWebhooksTopic = "payments.webhooks"
)

type PaymentStatusEvent struct {
	EventType         string     `json:"event_type"`
	OccurredAt        time.Time  `json:"occurred_at"`
	TenantID          string     `json:"tenant_id"`
	OrderID           string     `json:"order_id"`
	PaymentID         string     `json:"payment_id"`
	ProviderPaymentID string     `json:"provider_payment_id,omitempty"`
	Method            string     `json:"method"`
	Status            string     `json:"status"`
	PreviousStatus    string     `json:"previous_status,omitempty"`
	Amount            string     `json:"amount"`
	RefundedAmount    string     `json:"refunded_amount,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
}

// PixWebhookEnvelope is the relayed form of a gateway notification. Payload
// holds the gateway body as received.
type PixWebhookEnvelope struct {
	ReceivedAt time.Time `json:"received_at"`
	Payload    []byte    `json:"payload"`
}
