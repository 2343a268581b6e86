// Package tenant threads the caller's tenant explicitly through every core
// call. There is no ambient tenant: handlers read it from the request and pass
// it down, and lookups compare it against the owner of what they load.
package tenant

import (
	"net/http"
	"strings"

	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/google/uuid"
)

const (
	HeaderTenant = "X-Tenant-ID"
	HeaderActor  = "X-Actor-ID"

	SystemActor = "system"
)

// Owned is implemented by every tenant-partitioned entity.
type Owned interface {
	GetTenantID() uuid.UUID
}

// FromRequest returns the caller tenant carried in the X-Tenant-ID header.
func FromRequest(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderTenant))
	if raw == "" {
		return uuid.Nil, fault.Validation(fault.Field("tenant", "missing "+HeaderTenant+" header"))
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fault.Validation(fault.Field("tenant", "invalid tenant id"))
	}
	return id, nil
}

func ActorFromRequest(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get(HeaderActor)); actor != "" {
		return actor
	}
	return "anonymous"
}

// Require rejects calls that carry no tenant at all.
func Require(caller uuid.UUID) error {
	if caller == uuid.Nil {
		return fault.Validation(fault.Field("tenant", "required"))
	}
	return nil
}

// Check fails closed with NotFound when the caller does not own v.
func Check(caller uuid.UUID, v Owned, entity string) error {
	if caller == uuid.Nil || v == nil || v.GetTenantID() != caller {
		return fault.NotFound(entity)
	}
	return nil
}

// Scoped post-processes a repository lookup: storage errors become transient,
// a missing entity and one owned by another tenant both become NotFound.
func Scoped[E any, P interface {
	*E
	Owned
}](caller uuid.UUID, entity string, v P, err error) (P, error) {
	if err != nil {
		return nil, fault.Transient(err, "load "+entity)
	}
	if v == nil || caller == uuid.Nil || v.GetTenantID() != caller {
		return nil, fault.NotFound(entity)
	}
	return v, nil
}
