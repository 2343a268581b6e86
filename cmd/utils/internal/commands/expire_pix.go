package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
)

type expireRequest struct {
	Before *time.Time `json:"before,omitempty"`
}

// ExpirePix asks the checkout service to cancel pending Pix intents past
// their expiry. It goes through the service so the ledger emits its events.
func ExpirePix(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	checkoutURL := config.GetStringOrDef("checkout.url", "http://localhost:8087")
	client := apt.NewServiceClient(checkoutURL)
	if client == nil {
		return fmt.Errorf("cannot create checkout client for %s", checkoutURL)
	}

	var req expireRequest
	if before, ok := config.GetString("before"); ok && before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return fmt.Errorf("invalid before %q: %w", before, err)
		}
		req.Before = &t
	}

	resp, err := client.Request(ctx, "POST", "/payments/expirations", req)
	if err != nil {
		return fmt.Errorf("expire pix intents: %w", err)
	}

	expired := 0
	if resp == nil {
		return fmt.Errorf("expire pix intents: empty response")
	}
	if data, ok := resp.Data.(map[string]interface{}); ok {
		if n, ok := data["expired"].(float64); ok {
			expired = int(n)
		}
	}
	logger.Info("Pix intents expired", "count", expired)
	return nil
}
