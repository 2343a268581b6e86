package event

import "time"

const (
	KitchenTicketsTopic            = "kitchen.tickets"
	EventKitchenTicketStatusChange = "kitchen.ticket.status_changed"

	KitchenTicketReady = "ready"
)

// KitchenTicketStatusEvent is the subset of the kitchen's ticket event the
// checkout service reads.
type KitchenTicketStatusEvent struct {
	EventType      string    `json:"event_type"`
	OccurredAt     time.Time `json:"occurred_at"`
	TenantID       string    `json:"tenant_id"`
	TicketID       string    `json:"ticket_id"`
	OrderID        string    `json:"order_id"`
	Station        string    `json:"station,omitempty"`
	NewStatus      string    `json:"new_status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
}
