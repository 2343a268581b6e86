package coupon

import (
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/checkout/services/order/internal/httpx"
	"github.com/appetiteclub/checkout/services/order/internal/money"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	validator *Validator
	logger    apt.Logger
	tlm       *telemetry.HTTP
}

func NewHandler(validator *Validator, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		validator: validator,
		logger:    logger,
		tlm:       telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/coupons", func(r chi.Router) {
		r.Post("/", h.CreateCoupon)
		r.Get("/", h.ListCoupons)
		r.Get("/{code}/validation", h.ValidateCoupon)
	})
}

type CreateRequest struct {
	Code          string     `json:"code"`
	Description   string     `json:"description"`
	DiscountType  string     `json:"discount_type"`
	DiscountValue string     `json:"discount_value"`
	MinOrderValue string     `json:"min_order_value"`
	MaxDiscount   string     `json:"max_discount"`
	ValidFrom     *time.Time `json:"valid_from"`
	ValidUntil    *time.Time `json:"valid_until"`
	UsageLimit    int        `json:"usage_limit"`
}

type ValidationResponse struct {
	Code           string `json:"code"`
	DiscountType   string `json:"discount_type"`
	DiscountValue  string `json:"discount_value"`
	OrderValue     string `json:"order_value"`
	DiscountAmount string `json:"discount_amount"`
}

func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateCoupon")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}

	req, ok := httpx.DecodePayload[CreateRequest](w, r, log)
	if !ok {
		return
	}

	c, err := req.toCoupon()
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}

	if err := h.validator.Create(r.Context(), tenantID, c); err != nil {
		httpx.RespondFault(w, log, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, c, apt.RESTfulLinksFor(c)...)
}

func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListCoupons")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}

	list, err := h.validator.List(r.Context(), tenantID)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}
	apt.RespondCollection(w, list, "coupon")
}

func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ValidateCoupon")
	defer finish()

	log := httpx.RequestLogger(h.logger, r)
	tenantID, ok := httpx.Tenant(w, r, log)
	if !ok {
		return
	}

	orderValue, err := money.Parse("order_value", r.URL.Query().Get("order_value"))
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}

	c, err := h.validator.Validate(r.Context(), tenantID, chi.URLParam(r, "code"), orderValue)
	if err != nil {
		httpx.RespondFault(w, log, err)
		return
	}

	apt.RespondSuccess(w, ValidationResponse{
		Code:           c.Code,
		DiscountType:   string(c.DiscountType),
		DiscountValue:  c.DiscountValue.String(),
		OrderValue:     money.Format(orderValue),
		DiscountAmount: money.Format(money.Round(money.DiscountFor(orderValue, c.Discount()))),
	})
}

func (req CreateRequest) toCoupon() (*Coupon, error) {
	value, err := parseOptional("discount_value", req.DiscountValue)
	if err != nil {
		return nil, err
	}
	minimum, err := parseOptional("min_order_value", req.MinOrderValue)
	if err != nil {
		return nil, err
	}
	maxDiscount, err := parseOptional("max_discount", req.MaxDiscount)
	if err != nil {
		return nil, err
	}

	return &Coupon{
		Code:          req.Code,
		Description:   req.Description,
		DiscountType:  money.DiscountType(req.DiscountType),
		DiscountValue: value,
		MinOrderValue: minimum,
		MaxDiscount:   maxDiscount,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		UsageLimit:    req.UsageLimit,
		Active:        true,
	}, nil
}

func parseOptional(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return money.Parse(field, raw)
}
