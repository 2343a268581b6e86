package pix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCRC16(t *testing.T) {
	// CRC-16/CCITT-FALSE check value.
	if got := crc16("123456789"); got != 0x29B1 {
		t.Fatalf("crc16 = %04X, want 29B1", got)
	}
}

func TestBRCode(t *testing.T) {
	m := Merchant{Key: "pix@appetite.club", Name: "Appetite Club Restaurante Central", City: "Sao Paulo"}
	code := BRCode(m, decimal.RequireFromString("27"), "abc123")

	if !strings.HasPrefix(code, "000201") {
		t.Errorf("payload format indicator missing: %s", code)
	}
	if !strings.Contains(code, "5405"+"27.00") {
		t.Errorf("amount field missing: %s", code)
	}
	if !strings.Contains(code, "0014br.gov.bcb.pix") {
		t.Errorf("gui missing: %s", code)
	}
	if !strings.Contains(code, "5925Appetite Club Restaurante6009") {
		t.Errorf("merchant name not clipped to 25: %s", code)
	}

	body, crc := code[:len(code)-4], code[len(code)-4:]
	if !strings.HasSuffix(body, "6304") {
		t.Fatalf("crc tag missing: %s", code)
	}
	want := strings.ToUpper(strings.TrimSpace(crcHex(body)))
	if crc != want {
		t.Errorf("crc = %s, want %s", crc, want)
	}
}

func crcHex(s string) string {
	const hex = "0123456789ABCDEF"
	v := crc16(s)
	return string([]byte{hex[v>>12&0xF], hex[v>>8&0xF], hex[v>>4&0xF], hex[v&0xF]})
}

func TestSandboxRefundLimit(t *testing.T) {
	s := NewSandbox(Merchant{Key: "k", Name: "n", City: "c"}, time.Minute, nil)
	ctx := context.Background()

	charge, err := s.CreatePixCharge(ctx, decimal.NewFromInt(10), "order 1")
	if err != nil {
		t.Fatal(err)
	}
	if charge.ExpiresAt.IsZero() || charge.QRPayload == "" {
		t.Fatalf("incomplete charge: %+v", charge)
	}

	if _, err := s.SubmitRefund(ctx, charge.ProviderPaymentID, decimal.NewFromInt(6)); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if _, err := s.SubmitRefund(ctx, charge.ProviderPaymentID, decimal.NewFromInt(5)); err == nil {
		t.Fatal("expected refund above charge to fail")
	}
}

func TestSandboxCancelPixCharge(t *testing.T) {
	s := NewSandbox(Merchant{Key: "k", Name: "n", City: "c"}, time.Minute, nil)
	ctx := context.Background()

	charge, err := s.CreatePixCharge(ctx, decimal.NewFromInt(10), "order 1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Cancelled(charge.ProviderPaymentID) {
		t.Fatal("new charge reported cancelled")
	}
	if err := s.CancelPixCharge(ctx, charge.ProviderPaymentID); err != nil {
		t.Fatal(err)
	}
	if !s.Cancelled(charge.ProviderPaymentID) {
		t.Error("charge not cancelled")
	}
	if err := s.CancelPixCharge(ctx, "sbx_unknown"); err != nil {
		t.Errorf("unknown charge: %v", err)
	}
}

func TestClientCancelPixCharge(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "cancelled", status: http.StatusOK},
		{name: "alreadyPaid", status: http.StatusConflict, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var path string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path = r.Method + " " + r.URL.Path
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			c := NewClient(ClientConfig{BaseURL: srv.URL, Attempts: 3}, nil)
			c.sleep = noSleep

			err := c.CancelPixCharge(context.Background(), "ch_9")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if path != "POST /charges/ch_9/cancel" {
				t.Errorf("request = %s", path)
			}
		})
	}
}

func noSleep(ctx context.Context, d time.Duration) error {
	return nil
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(chargeResponse{ID: "ch_1", TxID: "tx1", BRCode: "000201...", ExpiresAt: time.Now().Add(time.Hour)})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "secret", Attempts: 4}, nil)
	c.sleep = noSleep

	charge, err := c.CreatePixCharge(context.Background(), decimal.NewFromInt(10), "order")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charge.ProviderPaymentID != "ch_1" || calls.Load() != 3 {
		t.Errorf("charge %+v after %d calls", charge, calls.Load())
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"amount exceeds charge"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Attempts: 5}, nil)
	c.sleep = noSleep

	if _, err := c.SubmitRefund(context.Background(), "ch_1", decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
