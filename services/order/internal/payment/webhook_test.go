package payment

import (
	"errors"
	"testing"
	"time"

	"github.com/appetiteclub/checkout/services/order/internal/fault"
)

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus string
		wantPaidAt bool
		wantErr    bool
	}{
		{name: "paid", body: `{"provider_payment_id":"pix-1","status":"paid","paid_at":"2026-05-04T18:31:00Z"}`, wantStatus: "paid", wantPaidAt: true},
		{name: "paidWithoutTimestamp", body: `{"provider_payment_id":"pix-1","status":"PAID"}`, wantStatus: "paid"},
		{name: "providerAlias", body: `{"provider_payment_id":"pix-1","status":"CONCLUIDA"}`, wantStatus: "paid"},
		{name: "expiredIsCancelled", body: `{"provider_payment_id":"pix-1","status":"expired"}`, wantStatus: "cancelled"},
		{name: "failedIgnoresPaidAt", body: `{"provider_payment_id":"pix-1","status":"failed","paid_at":"2026-05-04T18:31:00Z"}`, wantStatus: "failed"},
		{name: "unknownStatus", body: `{"provider_payment_id":"pix-1","status":"weird"}`, wantErr: true},
		{name: "missingID", body: `{"status":"paid"}`, wantErr: true},
		{name: "notJSON", body: `status=paid`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParseWebhook([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, fault.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", n.Status, tt.wantStatus)
			}
			if (n.PaidAt != nil) != tt.wantPaidAt {
				t.Errorf("paidAt = %v, want present=%v", n.PaidAt, tt.wantPaidAt)
			}
			if tt.wantPaidAt && !n.PaidAt.Equal(time.Date(2026, 5, 4, 18, 31, 0, 0, time.UTC)) {
				t.Errorf("paidAt = %v", n.PaidAt)
			}
			if string(n.Raw) != tt.body {
				t.Errorf("raw payload not preserved")
			}
		})
	}
}
