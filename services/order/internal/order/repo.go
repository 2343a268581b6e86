package order

import (
	"context"

	"github.com/google/uuid"
)

type Repo interface {
	Create(ctx context.Context, o *Order) error
	// Get returns nil, nil when the order does not exist.
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	// List returns the tenant's orders, newest first. An empty status lists
	// every status.
	List(ctx context.Context, tenantID uuid.UUID, status string) ([]*Order, error)
	// FindActiveByTable returns the most recent non-terminal order placed
	// for the table, or nil, nil.
	FindActiveByTable(ctx context.Context, tenantID, tableID uuid.UUID) (*Order, error)
	// Save stores o if its version still matches the stored one and bumps
	// the version. A stale version yields a Conflict.
	Save(ctx context.Context, o *Order) error
	// NextQueuePosition atomically hands out the tenant's next queue number
	// for day (YYYY-MM-DD).
	NextQueuePosition(ctx context.Context, tenantID uuid.UUID, day string) (int, error)
}
