package order

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/checkout/pkg"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/google/uuid"
)

// TableGuard decides whether a table may take a new order.
type TableGuard interface {
	Allow(ctx context.Context, tenantID, tableID uuid.UUID, action string) error
}

// orderableStatuses are the table statuses that accept orders.
var orderableStatuses = map[string]bool{
	"available": true,
	"open":      true,
	"reserved":  true,
}

type tableState struct {
	tenantID uuid.UUID
	status   string
}

// TableStateCache mirrors table statuses from the table service and keeps
// them fresh from tables.status events.
type TableStateCache struct {
	mu        sync.RWMutex
	state     map[uuid.UUID]tableState
	client    *apt.ServiceClient
	publisher events.Publisher
	logger    apt.Logger
}

func NewTableStateCache(client *apt.ServiceClient, publisher events.Publisher, logger apt.Logger) *TableStateCache {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &TableStateCache{
		state:     make(map[uuid.UUID]tableState),
		client:    client,
		publisher: publisher,
		logger:    logger.With("component", "TableStateCache"),
	}
}

func (c *TableStateCache) Warm(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	resp, err := c.client.List(ctx, "tables")
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	return c.ingestCollection(resp.Data)
}

// Allow fails with a validation error when the table's status does not take
// orders and announces the refusal on orders.tables. A table owned by
// another tenant is NotFound. Without a table service every table is open.
func (c *TableStateCache) Allow(ctx context.Context, tenantID, tableID uuid.UUID, action string) error {
	if tableID == uuid.Nil {
		return fault.Validation(fault.Field("table_id", "required"))
	}

	st, ok := c.Get(tableID)
	if !ok {
		if c.client == nil {
			c.logger.Debug("no table service configured, allowing table", "table_id", tableID.String())
			return nil
		}
		var err error
		if st, err = c.Refresh(ctx, tableID); err != nil {
			return err
		}
	}

	if st.tenantID != uuid.Nil && st.tenantID != tenantID {
		return fault.NotFound("table")
	}
	if orderableStatuses[st.status] {
		return nil
	}

	c.logger.Info("table cannot accept orders", "table_id", tableID.String(), "status", st.status)
	c.publishRejection(ctx, tenantID, tableID, action, st.status)
	return fault.Validation(fault.Field("table_id", "table is "+st.status))
}

func (c *TableStateCache) Refresh(ctx context.Context, id uuid.UUID) (tableState, error) {
	if c.client == nil {
		return tableState{}, fault.Transient(fmt.Errorf("table cache uninitialized"), "load table")
	}
	resp, err := c.client.Get(ctx, "tables", id.String())
	if err != nil {
		return tableState{}, fault.Transient(fmt.Errorf("failed to fetch table %s: %w", id, err), "load table")
	}
	var dto tableStateDTO
	if err := rehydrate(resp.Data, &dto); err != nil {
		return tableState{}, fault.Transient(fmt.Errorf("failed to decode table %s: %w", id, err), "load table")
	}
	if dto.ID != id.String() {
		return tableState{}, fault.NotFound("table")
	}
	st := dto.state()
	c.Set(id, st.tenantID, st.status)
	return st, nil
}

func (c *TableStateCache) Get(id uuid.UUID) (tableState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.state[id]
	return st, ok
}

func (c *TableStateCache) Set(id, tenantID uuid.UUID, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[id] = tableState{tenantID: tenantID, status: status}
}

func (c *TableStateCache) publishRejection(ctx context.Context, tenantID, tableID uuid.UUID, action, status string) {
	if c.publisher == nil {
		return
	}
	payload, err := json.Marshal(pkg.OrderTableRejectionEvent{
		EventType:  pkg.EventOrderTableRejected,
		TenantID:   tenantID.String(),
		TableID:    tableID.String(),
		Action:     action,
		Reason:     "table is " + status,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Error("cannot encode table rejection", "error", err)
		return
	}
	if err := c.publisher.Publish(ctx, pkg.OrderTableTopic, payload); err != nil {
		c.logger.Error("cannot publish table rejection", "table_id", tableID.String(), "error", err)
	}
}

func (c *TableStateCache) ingestCollection(data interface{}) error {
	var records []tableStateDTO
	if err := rehydrate(data, &records); err != nil {
		return err
	}
	for _, record := range records {
		id, err := uuid.Parse(record.ID)
		if err != nil {
			c.logger.Debug("skipping invalid table id", "table_id", record.ID)
			continue
		}
		st := record.state()
		c.Set(id, st.tenantID, st.status)
	}
	return nil
}

type tableStateDTO struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
}

func (d tableStateDTO) state() tableState {
	tenantID, _ := uuid.Parse(d.TenantID)
	return tableState{tenantID: tenantID, status: d.Status}
}

func rehydrate(data interface{}, out interface{}) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}
