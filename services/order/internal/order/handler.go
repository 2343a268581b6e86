package order

import (
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/checkout/services/order/internal/httpx"
	"github.com/appetiteclub/checkout/services/order/internal/money"
	"github.com/appetiteclub/checkout/services/order/internal/payment"
	"github.com/appetiteclub/checkout/services/order/internal/tenant"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service *Service
	logger  apt.Logger
	tlm     *telemetry.HTTP
}

func NewHandler(service *Service, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		service: service,
		logger:  logger,
		tlm:     telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
		r.Post("/{id}/accept", h.AcceptOrder)
		r.Post("/{id}/reject", h.RejectOrder)
		r.Post("/{id}/cancel", h.CancelOrder)
		r.Put("/{id}/status", h.UpdateOrderStatus)
		r.Post("/{id}/items", h.AddItems)
		r.Post("/{id}/payments/pix", h.OpenPix)
		r.Post("/{id}/payments/offline", h.RecordOfflinePayment)
	})

	r.Post("/tables/{tableID}/close", h.CloseTableAccount)
}

type AcceptRequest struct {
	EstimatedMinutes int    `json:"estimated_minutes"`
	Notes            string `json:"notes"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type AddItemsRequest struct {
	Items []ItemInput `json:"items"`
}

type OfflinePaymentRequest struct {
	Method string `json:"method"`
	Amount string `json:"amount"`
}

type CreateResponse struct {
	Order        *Order           `json:"order"`
	Payment      *payment.Payment `json:"payment,omitempty"`
	PaymentError string           `json:"payment_error,omitempty"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateOrder")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}
	req, ok := httpx.DecodePayload[CreateInput](w, r, log)
	if !ok {
		return
	}

	created, err := h.service.Create(r.Context(), tenantID, req, tenant.ActorFromRequest(r))
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}

	resp := CreateResponse{Order: created.Order, Payment: created.Payment}
	if created.PaymentErr != nil {
		resp.PaymentError = "pix intent not opened, retry with POST /orders/" + created.Order.ID.String() + "/payments/pix"
	}

	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, resp, apt.RESTfulLinksFor(created.Order)...)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrders")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}

	list, err := h.service.List(r.Context(), tenantID, r.URL.Query().Get("status"))
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondCollection(w, list, "order")
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrder")
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

	snap, err := h.service.Snapshot(r.Context(), tenantID, id)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, snap, apt.RESTfulLinksFor(snap.Order)...)
}

func (h *Handler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.AcceptOrder")
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
	req, ok := httpx.DecodePayload[AcceptRequest](w, r, log)
	if !ok {
		return
	}

	o, err := h.service.Accept(r.Context(), tenantID, id, req.EstimatedMinutes, req.Notes, tenant.ActorFromRequest(r))
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, o, apt.RESTfulLinksFor(o)...)
}

func (h *Handler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.RejectOrder")
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
	req, ok := httpx.DecodePayload[RejectRequest](w, r, log)
	if !ok {
		return
	}

	o, err := h.service.Reject(r.Context(), tenantID, id, req.Reason, req.Notes, tenant.ActorFromRequest(r))
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, o, apt.RESTfulLinksFor(o)...)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CancelOrder")
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
	req, ok := httpx.DecodePayload[CancelRequest](w, r, log)
	if !ok {
		return
	}

	o, err := h.service.Cancel(r.Context(), tenantID, id, req.Reason, tenant.ActorFromRequest(r))
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, o, apt.RESTfulLinksFor(o)...)
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateOrderStatus")
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
	req, ok := httpx.DecodePayload[StatusRequest](w, r, log)
	if !ok {
		return
	}

	o, err := h.service.UpdateStatus(r.Context(), tenantID, id, req.Status, tenant.ActorFromRequest(r))
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, o, apt.RESTfulLinksFor(o)...)
}

func (h *Handler) AddItems(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.AddItems")
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
	req, ok := httpx.DecodePayload[AddItemsRequest](w, r, log)
	if !ok {
		return
	}

	o, err := h.service.AddItems(r.Context(), tenantID, id, req.Items, tenant.ActorFromRequest(r))
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, o, apt.RESTfulLinksFor(o)...)
}

func (h *Handler) OpenPix(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.OpenPix")
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

	p, err := h.service.OpenPix(r.Context(), tenantID, id, tenant.ActorFromRequest(r))
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, p, apt.RESTfulLinksFor(p)...)
}

func (h *Handler) RecordOfflinePayment(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.RecordOfflinePayment")
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
	req, ok := httpx.DecodePayload[OfflinePaymentRequest](w, r, log)
	if !ok {
		return
	}

	amount, err := money.ParsePositive("amount", req.Amount)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}

	p, err := h.service.RecordOfflinePayment(r.Context(), tenantID, id, payment.Method(req.Method), amount, tenant.ActorFromRequest(r))
	if err != nil && p == nil {
		httpx.RespondFault(w, log, err)
		return
	}
	if err != nil {
		// Captured and stored; only the follow-up effects are pending.
		log.Error("offline payment stored, settlement pending", "payment_id", p.ID.String(), "error", err)
	}

	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, p, apt.RESTfulLinksFor(p)...)
}

func (h *Handler) CloseTableAccount(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CloseTableAccount")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}
	tableID, ok := httpx.ParseIDParam(w, r, "tableID", log)
	if !ok {
		return
	}

	o, err := h.service.CloseTableAccount(r.Context(), tenantID, tableID, tenant.ActorFromRequest(r))
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, o, apt.RESTfulLinksFor(o)...)
}
