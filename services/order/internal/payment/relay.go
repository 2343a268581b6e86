package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/checkout/pkg/event"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
)

// WebhookRelay decouples webhook receipt from reconciliation. The HTTP
// handler forwards raw bodies onto a durable stream; the relay consumes them
// and reconciles. Returning an error from the consumer requests redelivery.
type WebhookRelay struct {
	publisher  events.Publisher
	subscriber events.Subscriber
	ledger     *Ledger
	logger     apt.Logger
}

func NewWebhookRelay(pub events.Publisher, sub events.Subscriber, ledger *Ledger, logger apt.Logger) *WebhookRelay {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &WebhookRelay{
		publisher:  pub,
		subscriber: sub,
		ledger:     ledger,
		logger:     logger.With("component", "WebhookRelay"),
	}
}

// Forward enqueues a raw gateway body.
func (r *WebhookRelay) Forward(ctx context.Context, body []byte) error {
	payload, err := json.Marshal(event.PixWebhookEnvelope{
		ReceivedAt: time.Now().UTC(),
		Payload:    body,
	})
	if err != nil {
		return fault.Transient(err, "encode webhook")
	}
	if err := r.publisher.Publish(ctx, event.PaymentWebhooksTopic, payload); err != nil {
		return fault.Transient(err, "enqueue webhook")
	}
	return nil
}

func (r *WebhookRelay) Start(ctx context.Context) error {
	r.logger.Info("starting webhook relay", "topic", event.PaymentWebhooksTopic)
	if r.subscriber == nil {
		return fmt.Errorf("webhook relay not configured")
	}
	return r.subscriber.Subscribe(ctx, event.PaymentWebhooksTopic, r.handleEvent)
}

func (r *WebhookRelay) handleEvent(ctx context.Context, msg []byte) error {
	var env event.PixWebhookEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		r.logger.Info("invalid webhook envelope", "error", err)
		return nil
	}

	n, err := ParseWebhook(env.Payload)
	if err != nil {
		r.logger.Info("discarding malformed webhook", "error", err)
		return nil
	}

	p, err := r.ledger.ReconcileWebhook(ctx, n)
	switch {
	case err == nil:
		r.logger.Debug("relayed webhook reconciled", "payment_id", p.ID.String(), "status", p.Status)
		return nil
	case errors.Is(err, fault.ErrNotFound):
		// The charge may still be committing; redelivery is bounded by the
		// consumer's max deliveries.
		r.logger.Info("webhook for unknown payment", "provider_payment_id", n.ProviderPaymentID)
		return err
	case errors.Is(err, fault.ErrTransient):
		return err
	default:
		r.logger.Error("webhook rejected", "provider_payment_id", n.ProviderPaymentID, "error", err)
		return nil
	}
}
