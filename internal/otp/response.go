package otp

import (
	"net/http"

	"github.com/syncup/otpgate/internal/verify"
)

// Client-facing error kinds produced by the gateway itself. Provider-derived
// kinds live in package verify.
const (
	KindValidation    = "validation_error"
	KindConfiguration = "configuration_error"
	KindInternal      = "internal_error"
	KindUnauthorized  = "unauthorized"
)

const (
	msgPhoneRequired        = "phone number is required"
	msgPhoneAndCodeRequired = "phone number and code are required"
	msgInvalidJSON          = "invalid JSON body"
	msgConfiguration        = "server configuration error"
	msgInternal             = "internal server error"
	msgRegionNotSupported   = "SMS delivery is not available for this region"
	msgSent                 = "OTP sent successfully"
	msgVerified             = "Phone verified successfully"
	msgInvalidOrExpired     = "Invalid or expired OTP code"
	statusFailed            = "failed"
)

// Response is the only shape a client ever observes. Valid is set on every
// check response and omitted from request responses.
type Response struct {
	Success bool           `json:"success"`
	Valid   *bool          `json:"valid,omitempty"`
	Message string         `json:"message"`
	Error   string         `json:"error,omitempty"`
	Code    int            `json:"code,omitempty"`
	Status  string         `json:"status,omitempty"`
	To      string         `json:"to,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func issueFailure(kind, message string) Response {
	return Response{Success: false, Error: kind, Message: message}
}

func checkFailure(kind, message, status string) Response {
	invalid := false
	return Response{Success: false, Valid: &invalid, Error: kind, Message: message, Status: status}
}

func checkApproved(status string) Response {
	valid := true
	return Response{Success: true, Valid: &valid, Message: msgVerified, Status: status}
}

// rejection maps a middleware status (429, 401, 503) onto a kind and message.
func rejection(status int) (kind, message string) {
	switch status {
	case http.StatusTooManyRequests:
		return verify.KindRateLimited, "too many requests"
	case http.StatusUnauthorized:
		return KindUnauthorized, "missing or invalid authorization"
	case http.StatusServiceUnavailable:
		return verify.KindServiceUnavailable, "service temporarily unavailable"
	default:
		return KindInternal, msgInternal
	}
}
