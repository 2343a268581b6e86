package tenant

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/google/uuid"
)

type ownedThing struct {
	tenantID uuid.UUID
}

func (o *ownedThing) GetTenantID() uuid.UUID {
	return o.tenantID
}

func TestFromRequest(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name    string
		header  string
		want    uuid.UUID
		wantErr bool
	}{
		{name: "valid", header: id.String(), want: id},
		{name: "padded", header: "  " + id.String() + " ", want: id},
		{name: "missing", header: "", wantErr: true},
		{name: "garbage", header: "tenant-a", wantErr: true},
		{name: "nilUUID", header: uuid.Nil.String(), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/orders", nil)
			if tt.header != "" {
				req.Header.Set(HeaderTenant, tt.header)
			}

			got, err := FromRequest(req)
			if tt.wantErr {
				if !errors.Is(err, fault.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("tenant = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestScoped(t *testing.T) {
	owner := uuid.New()
	other := uuid.New()
	thing := &ownedThing{tenantID: owner}

	t.Run("ownerSeesEntity", func(t *testing.T) {
		got, err := Scoped(owner, "thing", thing, nil)
		if err != nil || got != thing {
			t.Fatalf("expected entity, got %v, %v", got, err)
		}
	})

	t.Run("otherTenantGetsNotFound", func(t *testing.T) {
		got, err := Scoped(other, "thing", thing, nil)
		if !errors.Is(err, fault.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if got != nil {
			t.Fatal("entity leaked across tenants")
		}
	})

	t.Run("missingIsNotFound", func(t *testing.T) {
		var missing *ownedThing
		_, err := Scoped(owner, "thing", missing, nil)
		if !errors.Is(err, fault.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("storageErrorIsTransient", func(t *testing.T) {
		_, err := Scoped[ownedThing](owner, "thing", nil, errors.New("connection reset"))
		if !errors.Is(err, fault.ErrTransient) {
			t.Fatalf("expected transient, got %v", err)
		}
	})
}

func TestActorFromRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/orders", nil)
	if got := ActorFromRequest(req); got != "anonymous" {
		t.Errorf("actor = %q, want anonymous", got)
	}
	req.Header.Set(HeaderActor, "kitchen-1")
	if got := ActorFromRequest(req); got != "kitchen-1" {
		t.Errorf("actor = %q, want kitchen-1", got)
	}
}
