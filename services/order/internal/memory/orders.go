// Package memory holds map-backed stores for db.driver=memory and for
// acceptance tests. Each store copies values in and out so callers never
// share state with it.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/order"
	"github.com/google/uuid"
)

type OrderRepo struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]order.Order
	queue  map[string]int
}

func NewOrderRepo() *OrderRepo {
	return &OrderRepo{
		orders: make(map[uuid.UUID]order.Order),
		queue:  make(map[string]int),
	}
}

func copyOrder(o order.Order) *order.Order {
	o.Items = append([]order.Item(nil), o.Items...)
	o.History = append([]order.HistoryEntry(nil), o.History...)
	if o.Rejection != nil {
		r := *o.Rejection
		o.Rejection = &r
	}
	if o.Discount != nil {
		d := *o.Discount
		o.Discount = &d
	}
	return &o
}

func (r *OrderRepo) Create(ctx context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	r.orders[o.ID] = *copyOrder(*o)
	return nil
}

func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return copyOrder(o), nil
}

func (r *OrderRepo) List(ctx context.Context, tenantID uuid.UUID, status string) ([]*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*order.Order{}
	for _, o := range r.orders {
		if o.TenantID == tenantID && (status == "" || o.Status == status) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *OrderRepo) FindActiveByTable(ctx context.Context, tenantID, tableID uuid.UUID) (*order.Order, error) {
	list, _ := r.List(ctx, tenantID, "")
	for _, o := range list {
		if o.TableID != nil && *o.TableID == tableID && !o.IsTerminal() {
			return o, nil
		}
	}
	return nil, nil
}

func (r *OrderRepo) Save(ctx context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[o.ID]
	if !ok || stored.Version != o.Version {
		return fault.Conflict("order")
	}
	o.Version++
	r.orders[o.ID] = *copyOrder(*o)
	return nil
}

func (r *OrderRepo) NextQueuePosition(ctx context.Context, tenantID uuid.UUID, day string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := tenantID.String() + ":" + day
	r.queue[key]++
	return r.queue[key], nil
}
