package payment

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/appetiteclub/checkout/pkg/enums/paymentstatus"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
)

// Notification is a gateway webhook validated at the boundary. Status is
// always one of the paymentstatus names.
type Notification struct {
	ProviderPaymentID string
	Status            string
	PaidAt            *time.Time
	Raw               []byte
}

type webhookBody struct {
	ProviderPaymentID string     `json:"provider_payment_id"`
	Status            string     `json:"status"`
	PaidAt            *time.Time `json:"paid_at"`
}

var providerStatuses = map[string]string{
	"pending":   paymentstatus.Statuses.Pending.Name,
	"active":    paymentstatus.Statuses.Pending.Name,
	"paid":      paymentstatus.Statuses.Paid.Name,
	"approved":  paymentstatus.Statuses.Paid.Name,
	"completed": paymentstatus.Statuses.Paid.Name,
	"concluida": paymentstatus.Statuses.Paid.Name,
	"failed":    paymentstatus.Statuses.Failed.Name,
	"rejected":  paymentstatus.Statuses.Failed.Name,
	"cancelled": paymentstatus.Statuses.Cancelled.Name,
	"canceled":  paymentstatus.Statuses.Cancelled.Name,
	"expired":   paymentstatus.Statuses.Cancelled.Name,
}

// ParseWebhook turns a raw gateway body into a Notification. Unknown
// statuses and missing ids are validation errors.
func ParseWebhook(body []byte) (Notification, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return Notification{}, fault.Validation(fault.Field("body", "invalid JSON"))
	}

	var fields []fault.FieldError
	id := strings.TrimSpace(wb.ProviderPaymentID)
	if id == "" {
		fields = append(fields, fault.Field("provider_payment_id", "required"))
	}
	status, ok := providerStatuses[strings.ToLower(strings.TrimSpace(wb.Status))]
	if !ok {
		fields = append(fields, fault.Field("status", "unknown status "+wb.Status))
	}
	if len(fields) > 0 {
		return Notification{}, fault.Validation(fields...)
	}

	n := Notification{
		ProviderPaymentID: id,
		Status:            status,
		Raw:               append([]byte(nil), body...),
	}
	if status == paymentstatus.Statuses.Paid.Name && wb.PaidAt != nil {
		at := wb.PaidAt.UTC()
		n.PaidAt = &at
	}
	return n, nil
}
