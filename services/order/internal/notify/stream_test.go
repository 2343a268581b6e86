package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestServerNotifyFiltersByTenantAndOrder(t *testing.T) {
	s := NewServer(nil)
	tenantA := uuid.New()
	tenantB := uuid.New()
	orderID := uuid.New().String()

	_, all := s.add(tenantA.String(), "")
	_, one := s.add(tenantA.String(), orderID)
	_, other := s.add(tenantB.String(), "")

	s.Notify("order.status_changed", tenantA, map[string]any{"order_id": orderID, "status": "preparing"})
	s.Notify("order.status_changed", tenantA, map[string]any{"order_id": uuid.New().String(), "status": "ready"})

	if got := len(all.ch); got != 2 {
		t.Errorf("tenant subscriber received %d events, want 2", got)
	}
	if got := len(one.ch); got != 1 {
		t.Errorf("order subscriber received %d events, want 1", got)
	}
	if got := len(other.ch); got != 0 {
		t.Errorf("other tenant received %d events, want 0", got)
	}

	evt := <-one.ch
	if evt.GetFields()["status"].GetStringValue() != "preparing" {
		t.Errorf("unexpected payload: %v", evt)
	}
	if evt.GetFields()["tenant_id"].GetStringValue() != tenantA.String() {
		t.Errorf("tenant_id missing from payload: %v", evt)
	}
}

func TestServerDropsWhenSubscriberIsSlow(t *testing.T) {
	s := NewServer(nil)
	s.buffer = 1
	tenantID := uuid.New()
	_, sub := s.add(tenantID.String(), "")

	for i := 0; i < 5; i++ {
		s.Notify("payment.status_changed", tenantID, map[string]any{"status": "paid"})
	}
	if got := len(sub.ch); got != 1 {
		t.Fatalf("buffered events = %d, want 1", got)
	}
}

func TestServerPumpStopsOnContextDone(t *testing.T) {
	s := NewServer(nil)
	id, sub := s.add(uuid.New().String(), "")
	defer s.remove(id)

	ctx, cancel := context.WithCancel(context.Background())
	sent := make(chan *structpb.Struct, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.pump(ctx, sub, func(m any) error {
			sent <- m.(*structpb.Struct)
			return nil
		})
	}()

	msg, _ := structpb.NewStruct(map[string]any{"status": "ready"})
	sub.ch <- msg
	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pump returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
}
