package payment

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/checkout/services/order/internal/httpx"
	"github.com/appetiteclub/checkout/services/order/internal/money"
	"github.com/appetiteclub/checkout/services/order/internal/tenant"
	"github.com/go-chi/chi/v5"
)

const HeaderWebhookToken = "X-Webhook-Token"

type Handler struct {
	ledger       *Ledger
	relay        *WebhookRelay
	webhookToken string
	logger       apt.Logger
	tlm          *telemetry.HTTP
}

type HandlerDeps struct {
	Ledger *Ledger
	// Relay is optional; without it webhooks are reconciled in-request.
	Relay *WebhookRelay
}

func NewHandler(deps HandlerDeps, config *apt.Config, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	var token string
	if config != nil {
		token, _ = config.GetString("pix.webhook.token")
	}
	return &Handler{
		ledger:       deps.Ledger,
		relay:        deps.Relay,
		webhookToken: token,
		logger:       logger,
		tlm:          telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/webhooks/pix", h.PixWebhook)
		r.Post("/expirations", h.ExpireIntents)
		r.Get("/{id}", h.GetPayment)
		r.Post("/{id}/refunds", h.RefundPayment)
	})
}

type ExpireRequest struct {
	Before *time.Time `json:"before"`
}

type RefundRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetPayment")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}
	id, ok := httpx.ParseIDParam(w, r, "id", log)
	if !ok {
		return
	}

	p, err := h.ledger.Get(r.Context(), tenantID, id)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, p, apt.RESTfulLinksFor(p)...)
}

func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.RefundPayment")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}
	id, ok := httpx.ParseIDParam(w, r, "id", log)
	if !ok {
		return
	}
	req, ok := httpx.DecodePayload[RefundRequest](w, r, log)
	if !ok {
		return
	}

	amount, err := money.ParsePositive("amount", req.Amount)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}

	p, err := h.ledger.Refund(r.Context(), tenantID, id, amount, req.Reason, tenant.ActorFromRequest(r))
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, p, apt.RESTfulLinksFor(p)...)
}

// PixWebhook receives gateway notifications. It is not tenant-scoped: the
// provider payment id is globally unique and identifies the payment.
func (h *Handler) PixWebhook(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.PixWebhook")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)

	if h.webhookToken != "" {
		got := r.Header.Get(HeaderWebhookToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookToken)) != 1 {
			log.Info("webhook with invalid token rejected")
			apt.RespondError(w, http.StatusUnauthorized, "Invalid webhook token")
			return
		}
	}

	body, ok := httpx.ReadBody(w, r, log)
	if !ok {
		return
	}

	n, err := ParseWebhook(body)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}

	if h.relay != nil {
		if err := h.relay.Forward(r.Context(), body); err != nil {
			httpx.RespondFault(w, log, err)
			return
		}
		apt.Respond(w, http.StatusAccepted, map[string]string{"provider_payment_id": n.ProviderPaymentID, "status": "queued"}, nil)
		return
	}

	p, err := h.ledger.ReconcileWebhook(r.Context(), n)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, p)
}

// ExpireIntents cancels pending Pix payments whose QR code has expired. It
// spans every tenant and is meant for operator tooling.
func (h *Handler) ExpireIntents(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ExpireIntents")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	req, ok := httpx.DecodePayload[ExpireRequest](w, r, log)
	if !ok {
		return
	}

	now := time.Now().UTC()
	if req.Before != nil {
		now = req.Before.UTC()
	}

	n, err := h.ledger.ExpireIntents(r.Context(), now)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	log.Info("pix intents expired", "count", n)
	apt.RespondSuccess(w, map[string]int{"expired": n})
}
