package event

import "time"

const (
	OrdersStatusTopic      = "orders.status"
	EventOrderCreated      = "order.created"
	EventOrderStatusChange = "order.status_changed"
	EventOrderItemsAdded   = "order.items_added"

	// RefundsRequiredTopic carries cancellations that left captured money
	// behind because the gateway refund could not be submitted.
	RefundsRequiredTopic = "payments.refunds.required"
	EventRefundRequired  = "payment.refund_required"
)

// OrderStatusEvent is published after every committed order mutation.
type OrderStatusEvent struct {
	EventType      string    `json:"event_type"`
	OccurredAt     time.Time `json:"occurred_at"`
	TenantID       string    `json:"tenant_id"`
	OrderID        string    `json:"order_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Total          string    `json:"total"`
	Actor          string    `json:"actor,omitempty"`
	Note           string    `json:"note,omitempty"`
	QueuePosition  int       `json:"queue_position,omitempty"`
	TableID        string    `json:"table_id,omitempty"`
}

type RefundRequiredEvent struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	TenantID   string    `json:"tenant_id"`
	OrderID    string    `json:"order_id"`
	PaymentID  string    `json:"payment_id"`
	Amount     string    `json:"amount"`
	Reason     string    `json:"reason"`
	Error      string    `json:"error,omitempty"`
}
