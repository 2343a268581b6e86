// Package customer resolves the customer an order belongs to.
package customer

import (
	"context"
	"strings"
	"unicode"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/httpx"
	"github.com/google/uuid"
)

type Resolver interface {
	// ResolveCustomer returns the tenant's customer for phone, registering
	// one when the phone is new.
	ResolveCustomer(ctx context.Context, tenantID uuid.UUID, phone, name string) (uuid.UUID, error)
}

// NormalizePhone keeps digits only. Numbers shorter than eight digits are
// rejected.
func NormalizePhone(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 8 || len(digits) > 15 {
		return "", fault.Validation(fault.Field("customer.phone", "must have 8 to 15 digits"))
	}
	return digits, nil
}

// ServiceClient resolves customers through the customer service.
type ServiceClient struct {
	client *apt.ServiceClient
}

func NewServiceClient(client *apt.ServiceClient) *ServiceClient {
	return &ServiceClient{client: client}
}

type resolveRequest struct {
	TenantID string `json:"tenant_id"`
	Phone    string `json:"phone"`
	Name     string `json:"name,omitempty"`
}

type resolveResponse struct {
	ID string `json:"id"`
}

func (c *ServiceClient) ResolveCustomer(ctx context.Context, tenantID uuid.UUID, phone, name string) (uuid.UUID, error) {
	digits, err := NormalizePhone(phone)
	if err != nil {
		return uuid.Nil, err
	}

	resp, err := c.client.Request(ctx, "POST", "/customers/resolve", resolveRequest{
		TenantID: tenantID.String(),
		Phone:    digits,
		Name:     strings.TrimSpace(name),
	})
	if err != nil {
		return uuid.Nil, fault.Transient(err, "resolve customer")
	}

	var out resolveResponse
	if err := httpx.DecodeSuccess(resp, &out); err != nil {
		return uuid.Nil, fault.Transient(err, "decode customer")
	}
	id, err := uuid.Parse(out.ID)
	if err != nil {
		return uuid.Nil, fault.Transient(err, "decode customer id")
	}
	return id, nil
}
