package loyalty

import (
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/checkout/services/order/internal/httpx"
	"github.com/appetiteclub/checkout/services/order/internal/money"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
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
	r.Route("/loyalty", func(r chi.Router) {
		r.Get("/program", h.GetProgram)
		r.Put("/program", h.SaveProgram)
		r.Get("/customers/{customerID}/balance", h.GetBalance)
		r.Post("/customers/{customerID}/balance/rebuild", h.RebuildBalance)
		r.Get("/customers/{customerID}/transactions", h.ListTransactions)
		r.Post("/customers/{customerID}/redemptions", h.RedeemPoints)
		r.Post("/orders/{orderID}/points", h.ProcessOrderPoints)
	})
}

type RedeemRequest struct {
	Points      int64      `json:"points"`
	OrderID     *uuid.UUID `json:"order_id"`
	Description string     `json:"description"`
}

type ProgramRequest struct {
	PointsPerCurrency int64  `json:"points_per_currency"`
	CurrencyValue     string `json:"currency_value"`
	MinOrderValue     string `json:"min_order_value"`
	Active            bool   `json:"active"`
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetBalance")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}
	customerID, ok := httpx.ParseIDParam(w, r, "customerID", log)
	if !ok {
		return
	}

	b, err := h.service.GetCustomerBalance(r.Context(), tenantID, customerID)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, b)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListTransactions")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}
	customerID, ok := httpx.ParseIDParam(w, r, "customerID", log)
	if !ok {
		return
	}

	list, err := h.service.ListTransactions(r.Context(), tenantID, customerID)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondCollection(w, list, "loyalty-transaction")
}

func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.RedeemPoints")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}
	customerID, ok := httpx.ParseIDParam(w, r, "customerID", log)
	if !ok {
		return
	}
	req, ok := httpx.DecodePayload[RedeemRequest](w, r, log)
	if !ok {
		return
	}

	tx, err := h.service.RedeemPoints(r.Context(), tenantID, customerID, req.Points, req.OrderID, req.Description)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, tx)
}

func (h *Handler) ProcessOrderPoints(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ProcessOrderPoints")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}
	orderID, ok := httpx.ParseIDParam(w, r, "orderID", log)
	if !ok {
		return
	}

	acc, err := h.service.ProcessOrderPoints(r.Context(), tenantID, orderID)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, acc)
}

func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetProgram")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}

	p, err := h.service.GetProgram(r.Context(), tenantID)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, p)
}

func (h *Handler) SaveProgram(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.SaveProgram")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}
	req, ok := httpx.DecodePayload[ProgramRequest](w, r, log)
	if !ok {
		return
	}

	currencyValue, err := money.ParsePositive("currency_value", req.CurrencyValue)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	p := &Program{
		PointsPerCurrency: req.PointsPerCurrency,
		CurrencyValue:     currencyValue,
		Active:            req.Active,
	}
	if req.MinOrderValue != "" {
		if p.MinOrderValue, err = money.Parse("min_order_value", req.MinOrderValue); err != nil {
			httpx.RespondFault(w, log, err)
			return
		}
	}

	if err := h.service.SaveProgram(r.Context(), tenantID, p); err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, p)
}

func (h *Handler) RebuildBalance(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.RebuildBalance")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}
	customerID, ok := httpx.ParseIDParam(w, r, "customerID", log)
	if !ok {
		return
	}

	b, err := h.service.RebuildBalance(r.Context(), tenantID, customerID)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondSuccess(w, b)
}
