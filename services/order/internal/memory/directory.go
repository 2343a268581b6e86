package memory

import (
	"context"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/checkout/services/order/internal/catalog"
	"github.com/appetiteclub/checkout/services/order/internal/customer"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/google/uuid"
)

// Menu is a fixed catalog.
type Menu struct {
	mu       sync.RWMutex
	products map[uuid.UUID]catalog.Product
}

func NewMenu() *Menu {
	return &Menu{products: make(map[uuid.UUID]catalog.Product)}
}

func (m *Menu) Put(p catalog.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Addons = append([]catalog.Addon(nil), p.Addons...)
	m.products[p.ID] = p
}

func (m *Menu) GetProduct(ctx context.Context, tenantID, productID uuid.UUID) (*catalog.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[productID]
	if !ok || p.TenantID != tenantID {
		return nil, fault.NotFound("product")
	}
	p.Addons = append([]catalog.Addon(nil), p.Addons...)
	return &p, nil
}

// Customers registers one id per (tenant, phone).
type Customers struct {
	mu  sync.Mutex
	ids map[string]uuid.UUID
}

func NewCustomers() *Customers {
	return &Customers{ids: make(map[string]uuid.UUID)}
}

func (c *Customers) ResolveCustomer(ctx context.Context, tenantID uuid.UUID, phone, name string) (uuid.UUID, error) {
	digits, err := customer.NormalizePhone(phone)
	if err != nil {
		return uuid.Nil, err
	}
	key := tenantID.String() + ":" + digits

	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.ids[key]; ok {
		return id, nil
	}
	id := apt.GenerateNewID()
	c.ids[key] = id
	return id, nil
}
