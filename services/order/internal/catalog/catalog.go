// Package catalog is the order flow's view of the menu: current price and
// availability of a product and its addons at order time.
package catalog

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/httpx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Addon struct {
	ID     uuid.UUID       `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Active bool            `json:"active"`
}

type Product struct {
	ID       uuid.UUID       `json:"id"`
	TenantID uuid.UUID       `json:"tenant_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Active   bool            `json:"active"`
	Addons   []Addon         `json:"addons"`
}

func (p *Product) GetTenantID() uuid.UUID {
	return p.TenantID
}

// Addon returns the addon with id, if the product offers it.
func (p *Product) Addon(id uuid.UUID) (Addon, bool) {
	for _, a := range p.Addons {
		if a.ID == id {
			return a, true
		}
	}
	return Addon{}, false
}

type Catalog interface {
	// GetProduct fails with NotFound for unknown products and for products
	// owned by another tenant.
	GetProduct(ctx context.Context, tenantID, productID uuid.UUID) (*Product, error)
}

// ServiceClient reads products from the menu service.
type ServiceClient struct {
	client *apt.ServiceClient
}

func NewServiceClient(client *apt.ServiceClient) *ServiceClient {
	return &ServiceClient{client: client}
}

func (c *ServiceClient) GetProduct(ctx context.Context, tenantID, productID uuid.UUID) (*Product, error) {
	resp, err := c.client.Request(ctx, "GET", fmt.Sprintf("/menu/items/%s?tenant_id=%s", productID, tenantID), nil)
	if err != nil {
		return nil, fault.Transient(err, "fetch product")
	}
	if resp == nil || resp.Data == nil {
		return nil, fault.NotFound("product")
	}

	var p Product
	if err := httpx.DecodeSuccess(resp, &p); err != nil {
		return nil, fault.Transient(err, "decode product")
	}
	if p.ID != productID || p.TenantID != tenantID {
		return nil, fault.NotFound("product")
	}
	return &p, nil
}
