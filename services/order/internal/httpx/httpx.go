// Package httpx holds the request plumbing shared by the checkout handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/tenant"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const MaxBodyBytes = 1 << 20

// RequestLogger scopes logger to the request.
func RequestLogger(logger apt.Logger, r *http.Request) apt.Logger {
	return logger.With(
		"request_id", apt.RequestIDFrom(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"tenant_id", r.Header.Get(tenant.HeaderTenant),
	)
}

// DecodePayload reads a JSON body capped at MaxBodyBytes. On failure it has
// already written the response.
func DecodePayload[T any](w http.ResponseWriter, r *http.Request, log apt.Logger) (T, bool) {
	var req T

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug("failed to read request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return req, false
	}

	if err := json.Unmarshal(body, &req); err != nil {
		log.Debug("failed to decode request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return req, false
	}

	return req, true
}

// ReadBody returns the raw body, capped at MaxBodyBytes.
func ReadBody(w http.ResponseWriter, r *http.Request, log apt.Logger) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug("failed to read request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	return body, true
}

func ParseIDParam(w http.ResponseWriter, r *http.Request, name string, log apt.Logger) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, name)
	if idStr == "" {
		log.Debug("missing id parameter", "param", name)
		apt.RespondError(w, http.StatusBadRequest, "Missing "+name+" parameter")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		log.Debug("invalid id parameter", "param", name, "value", idStr)
		apt.RespondError(w, http.StatusBadRequest, "Invalid "+name+" parameter")
		return uuid.Nil, false
	}

	return id, true
}

// Tenant reads the caller tenant, responding 400 when it is absent.
func Tenant(w http.ResponseWriter, r *http.Request, log apt.Logger) (uuid.UUID, bool) {
	id, err := tenant.FromRequest(r)
	if err != nil {
		RespondFault(w, log, err)
		return uuid.Nil, false
	}
	return id, true
}

// RespondFault maps a core error to its HTTP status. Transient failures are
// logged with their cause and reported without it.
func RespondFault(w http.ResponseWriter, log apt.Logger, err error) {
	status := fault.HTTPStatus(err)

	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Kind == fault.KindTransient {
		log.Error("request failed", "error", err)
		apt.RespondError(w, status, "Temporarily unavailable, retry later")
		return
	}

	log.Debug("request rejected", "kind", string(fe.Kind), "error", err)
	msg := string(fe.Kind)
	if fe.Message != "" {
		msg = fmt.Sprintf("%s: %s", fe.Kind, fe.Message)
	}
	for _, f := range fe.Fields {
		msg += fmt.Sprintf("; %s %s", f.Field, f.Message)
	}
	apt.RespondError(w, status, msg)
}

// DecodeSuccess copies a service client payload into target.
func DecodeSuccess(resp *apt.SuccessResponse, target any) error {
	if resp == nil {
		return fmt.Errorf("nil success response")
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
