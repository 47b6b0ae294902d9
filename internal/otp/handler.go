// Package otp implements the client-facing request-code and check-code
// endpoints. Handlers are stateless: each request validates its input, makes
// at most one provider call, and answers with a normalized Response.
package otp

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/syncup/otpgate/internal/auth"
	"github.com/syncup/otpgate/internal/httputil"
	"github.com/syncup/otpgate/internal/verify"
)

// Handler serves the OTP endpoints.
type Handler struct {
	provider         verify.Provider
	logger           *slog.Logger
	allowedCountries []string
}

// NewHandler creates a Handler backed by provider.
func NewHandler(provider verify.Provider, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{provider: provider, logger: logger}
}

// SetAllowedCountries restricts issuance and checks to phones whose region is
// in countries. An empty list permits all numbers.
func (h *Handler) SetAllowedCountries(countries []string) {
	h.allowedCountries = countries
}

type requestBody struct {
	Phone string `json:"phone"`
}

type checkBody struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// HandleRequestCode asks the provider to issue and deliver a code.
func (h *Handler) HandleRequestCode(w http.ResponseWriter, r *http.Request) {
	log := h.callerLogger(r)
	if !h.provider.Configured() {
		log.Error("otp request: provider credentials not configured")
		httputil.WriteJSON(w, http.StatusInternalServerError, issueFailure(KindConfiguration, msgConfiguration))
		return
	}

	var body requestBody
	if err := httputil.ReadJSON(w, r, &body); err != nil && !errors.Is(err, httputil.ErrEmptyBody) {
		httputil.WriteJSON(w, http.StatusBadRequest, issueFailure(KindValidation, msgInvalidJSON))
		return
	}
	phone := strings.TrimSpace(body.Phone)
	if phone == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, issueFailure(KindValidation, msgPhoneRequired))
		return
	}
	if !verify.IsAllowedCountry(phone, h.allowedCountries) {
		httputil.WriteJSON(w, http.StatusBadRequest, issueFailure(verify.KindRegionNotSupported, msgRegionNotSupported))
		return
	}
	region := verify.PhoneRegion(phone)

	res, err := h.provider.IssueCode(r.Context(), phone)
	if err != nil {
		log.Error("otp request: provider call failed", "error", err, "region", region)
		httputil.WriteJSON(w, http.StatusInternalServerError, issueFailure(KindInternal, msgInternal))
		return
	}

	if !res.OK {
		tr := verify.Translate(res.ErrorCode, res.Message)
		log.Warn("otp request: rejected by provider",
			"http_status", res.HTTPStatus,
			"provider_code", int(tr.Code),
			"kind", tr.Kind,
			"region", region,
		)
		resp := issueFailure(tr.Kind, tr.Message)
		if tr.Code.Known() {
			resp.Code = int(tr.Code)
		}
		if tr.PreserveDetails {
			resp.Details = res.Raw
		}
		httputil.WriteJSON(w, passThroughStatus(res.HTTPStatus), resp)
		return
	}

	log.Info("otp request: issued", "status", res.Status, "region", region)
	httputil.WriteJSON(w, http.StatusOK, Response{
		Success: true,
		Message: msgSent,
		Status:  res.Status,
		To:      phone,
	})
}

// HandleCheckCode asks the provider whether the submitted code is correct.
// Only an approved provider verdict on a successful call yields valid=true.
func (h *Handler) HandleCheckCode(w http.ResponseWriter, r *http.Request) {
	log := h.callerLogger(r)
	if !h.provider.Configured() {
		log.Error("otp check: provider credentials not configured")
		httputil.WriteJSON(w, http.StatusInternalServerError, checkFailure(KindConfiguration, msgConfiguration, ""))
		return
	}

	var body checkBody
	if err := httputil.ReadJSON(w, r, &body); err != nil && !errors.Is(err, httputil.ErrEmptyBody) {
		httputil.WriteJSON(w, http.StatusBadRequest, checkFailure(KindValidation, msgInvalidJSON, ""))
		return
	}
	phone := strings.TrimSpace(body.Phone)
	code := strings.TrimSpace(body.Code)
	if phone == "" || code == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, checkFailure(KindValidation, msgPhoneAndCodeRequired, ""))
		return
	}
	if !verify.IsAllowedCountry(phone, h.allowedCountries) {
		httputil.WriteJSON(w, http.StatusBadRequest, checkFailure(verify.KindRegionNotSupported, msgRegionNotSupported, ""))
		return
	}
	region := verify.PhoneRegion(phone)

	res, err := h.provider.CheckCode(r.Context(), phone, code)
	if err != nil {
		log.Error("otp check: provider call failed", "error", err, "region", region)
		httputil.WriteJSON(w, http.StatusInternalServerError, checkFailure(KindInternal, msgInternal, ""))
		return
	}

	if res.Approved() {
		log.Info("otp check: approved", "region", region)
		httputil.WriteJSON(w, http.StatusOK, checkApproved(res.Status))
		return
	}

	status := res.Status
	if status == "" {
		status = statusFailed
	}
	kind, message := verify.KindInvalidOrExpired, msgInvalidOrExpired
	if !res.OK {
		if tr := verify.Translate(res.ErrorCode, res.Message); tr.Code.Known() {
			kind, message = tr.Kind, tr.Message
		}
	}
	log.Warn("otp check: not approved",
		"http_status", res.HTTPStatus,
		"status", status,
		"provider_code", int(res.ErrorCode),
		"kind", kind,
		"region", region,
	)
	httputil.WriteJSON(w, http.StatusBadRequest, checkFailure(kind, message, status))
}

// DenyRequestCode writes a middleware rejection in the request-code shape.
func (h *Handler) DenyRequestCode(w http.ResponseWriter, status int) {
	kind, message := rejection(status)
	httputil.WriteJSON(w, status, issueFailure(kind, message))
}

// DenyCheckCode writes a middleware rejection in the check-code shape,
// which always carries valid=false.
func (h *Handler) DenyCheckCode(w http.ResponseWriter, status int) {
	kind, message := rejection(status)
	httputil.WriteJSON(w, status, checkFailure(kind, message, ""))
}

// passThroughStatus returns the provider's status for a rejection. A
// non-error status on a rejected call means the response was not usable.
func passThroughStatus(status int) int {
	if status < 400 || status > 599 {
		return http.StatusBadGateway
	}
	return status
}

// callerLogger tags log lines with the authenticated caller's role, when
// caller authentication is enabled.
func (h *Handler) callerLogger(r *http.Request) *slog.Logger {
	if c := auth.ClaimsFromContext(r.Context()); c != nil && c.Role != "" {
		return h.logger.With("caller_role", c.Role)
	}
	return h.logger
}
