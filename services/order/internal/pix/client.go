package pix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/checkout/services/order/internal/payment"
	"github.com/shopspring/decimal"
)

// ClientConfig configures the provider client.
type ClientConfig struct {
	BaseURL     string
	Token       string
	Expiry      time.Duration
	Attempts    int
	BaseBackoff time.Duration
	Timeout     time.Duration
}

// Client talks to a Pix provider over HTTP. Network errors, 429 and 5xx
// responses are retried with exponential backoff; other statuses fail fast.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger apt.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg ClientConfig, logger apt.Logger) *Client {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 4
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 30 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "PixClient"),
		sleep:  sleepCtx,
	}
}

func (c *Client) Name() string {
	return "pix-http"
}

type chargeRequest struct {
	Amount         string `json:"amount"`
	Description    string `json:"description,omitempty"`
	ExpiresSeconds int    `json:"expires_in"`
}

type chargeResponse struct {
	ID        string    `json:"id"`
	TxID      string    `json:"txid"`
	BRCode    string    `json:"br_code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type refundRequest struct {
	Amount string `json:"amount"`
}

type refundResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreatePixCharge(ctx context.Context, amount decimal.Decimal, description string) (payment.Charge, error) {
	body := chargeRequest{
		Amount:         amount.StringFixed(2),
		Description:    description,
		ExpiresSeconds: int(c.cfg.Expiry.Seconds()),
	}

	raw, err := c.do(ctx, http.MethodPost, "/charges", body)
	if err != nil {
		return payment.Charge{}, err
	}

	var resp chargeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return payment.Charge{}, fmt.Errorf("decode charge: %w", err)
	}
	if resp.ID == "" || resp.BRCode == "" {
		return payment.Charge{}, errors.New("provider returned an incomplete charge")
	}

	return payment.Charge{
		ProviderPaymentID: resp.ID,
		QRPayload:         resp.BRCode,
		ExpiresAt:         resp.ExpiresAt,
		TransactionID:     resp.TxID,
		Raw:               string(raw),
	}, nil
}

func (c *Client) SubmitRefund(ctx context.Context, providerPaymentID string, amount decimal.Decimal) (string, error) {
	raw, err := c.do(ctx, http.MethodPost, "/charges/"+providerPaymentID+"/refunds", refundRequest{Amount: amount.StringFixed(2)})
	if err != nil {
		return "", err
	}

	var resp refundResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode refund: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("provider returned a refund without id")
	}
	return resp.ID, nil
}

// CancelPixCharge withdraws an unpaid charge. The provider answers 409 for
// a charge it already captured.
func (c *Client) CancelPixCharge(ctx context.Context, providerPaymentID string) error {
	_, err := c.do(ctx, http.MethodPost, "/charges/"+providerPaymentID+"/cancel", struct{}{})
	return err
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider responded %d: %s", e.code, e.body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.Attempts; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.BaseBackoff << (attempt - 1)
			c.logger.Debug("retrying pix provider call", "path", path, "attempt", attempt+1, "backoff", backoff.String(), "error", lastErr)
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		raw, err := c.once(ctx, method, path, payload)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	c.logger.Error("pix provider call failed", "path", path, "error", lastErr)
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
