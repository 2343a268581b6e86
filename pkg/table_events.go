package pkg

import "time"

const (
	// TableStatusTopic delivers authoritative status changes for tables.
	TableStatusTopic = "tables.status"
	// OrderTableTopic carries table-related refusals emitted by checkout.
	OrderTableTopic = "orders.tables"

	EventTableStatusChanged = "table.status.changed"
	EventOrderTableRejected = "order.table.rejected"
)

type TableStatusEvent struct {
	EventType      string    `json:"event_type"`
	TenantID       string    `json:"tenant_id,omitempty"`
	TableID        string    `json:"table_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// OrderTableRejectionEvent is emitted when a table order is refused because
// of the table's state.
type OrderTableRejectionEvent struct {
	EventType  string    `json:"event_type"`
	TenantID   string    `json:"tenant_id"`
	TableID    string    `json:"table_id"`
	Action     string    `json:"action"`
	Reason     string    `json:"reason"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}
