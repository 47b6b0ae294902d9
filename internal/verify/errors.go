package verify

import (
	"encoding/json"
	"strconv"
)

// ErrorCode is a provider error code the gateway knows how to explain.
// Codes outside the set below are collapsed into ErrCodeUnknown.
type ErrorCode int

const (
	ErrCodeUnknown               ErrorCode = 0
	ErrCodeAuthFailed            ErrorCode = 20003
	ErrCodeNotFound              ErrorCode = 20404
	ErrCodeTooManyRequests       ErrorCode = 20429
	ErrCodeInvalidPhone          ErrorCode = 21211
	ErrCodeRegionDisabled        ErrorCode = 21408
	ErrCodeUnverifiedTrialNumber ErrorCode = 21608
	ErrCodeUnsubscribed          ErrorCode = 21610
	ErrCodeNotMobile             ErrorCode = 21614
	ErrCodeInvalidParameter      ErrorCode = 60200
	ErrCodeMaxCheckAttempts      ErrorCode = 60202
	ErrCodeMaxSendAttempts       ErrorCode = 60203
	ErrCodeLandline              ErrorCode = 60205
	ErrCodeConcurrentRequests    ErrorCode = 60212
	ErrCodeFraudBlocked          ErrorCode = 60410
	ErrCodeGeoBlocked            ErrorCode = 60605
)

// Client-facing error kinds. These strings are part of the public response
// contract and must not change.
const (
	KindInvalidOrExpired   = "invalid_or_expired"
	KindInvalidPhone       = "invalid_phone"
	KindMaxAttempts        = "max_attempts"
	KindNumberNotEnrolled  = "number_not_enrolled"
	KindNumberBlocked      = "number_blocked"
	KindRegionNotSupported = "region_not_supported"
	KindInvalidRequest     = "invalid_request"
	KindRateLimited        = "rate_limited"
	KindServiceUnavailable = "service_unavailable"
	KindProviderError      = "provider_error"
)

// Message shown when an unknown issuance error carries no provider message.
const defaultIssueFailure = "Failed to send OTP"

// Translation is the client-safe rendering of a provider error.
type Translation struct {
	Code    ErrorCode
	Kind    string
	Message string
	// PreserveDetails reports whether the raw provider payload may be echoed
	// to the client for diagnostics.
	PreserveDetails bool
}

type translation struct {
	kind     string
	message  string
	redacted bool
}

var translations = map[ErrorCode]translation{
	ErrCodeAuthFailed:            {KindServiceUnavailable, "Verification service is unavailable", true},
	ErrCodeNotFound:              {KindInvalidOrExpired, "Invalid or expired OTP code", false},
	ErrCodeTooManyRequests:       {KindRateLimited, "Too many requests, please retry later", false},
	ErrCodeInvalidPhone:          {KindInvalidPhone, "Phone number is invalid or unreachable", false},
	ErrCodeRegionDisabled:        {KindRegionNotSupported, "SMS delivery is not available for this region", false},
	ErrCodeUnverifiedTrialNumber: {KindNumberNotEnrolled, "This number is not enrolled for test-mode delivery", false},
	ErrCodeUnsubscribed:          {KindNumberBlocked, "This number has opted out of messages", false},
	ErrCodeNotMobile:             {KindInvalidPhone, "Phone number cannot receive SMS", false},
	ErrCodeInvalidParameter:      {KindInvalidRequest, "Invalid verification request", false},
	ErrCodeMaxCheckAttempts:      {KindMaxAttempts, "Maximum attempts reached, please retry later", false},
	ErrCodeMaxSendAttempts:       {KindMaxAttempts, "Maximum attempts reached, please retry later", false},
	ErrCodeLandline:              {KindInvalidPhone, "Phone number cannot receive SMS", false},
	ErrCodeConcurrentRequests:    {KindRateLimited, "Too many requests, please retry later", false},
	ErrCodeFraudBlocked:          {KindNumberBlocked, "Verification is not available for this number", false},
	ErrCodeGeoBlocked:            {KindRegionNotSupported, "SMS delivery is not available for this region", false},
}

// KnownErrorCodes returns every enumerated code except ErrCodeUnknown.
func KnownErrorCodes() []ErrorCode {
	codes := make([]ErrorCode, 0, len(translations))
	for c := range translations {
		codes = append(codes, c)
	}
	return codes
}

// Known reports whether c is one of the enumerated provider codes.
func (c ErrorCode) Known() bool {
	_, ok := translations[c]
	return ok
}

// ParseErrorCode converts the provider's "code" field into an ErrorCode.
// Missing, malformed, or unrecognized values yield ErrCodeUnknown.
func ParseErrorCode(v any) ErrorCode {
	var n int64
	switch t := v.(type) {
	case float64:
		n = int64(t)
	case json.Number:
		parsed, err := t.Int64()
		if err != nil {
			return ErrCodeUnknown
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return ErrCodeUnknown
		}
		n = parsed
	default:
		return ErrCodeUnknown
	}
	c := ErrorCode(n)
	if !c.Known() {
		return ErrCodeUnknown
	}
	return c
}

// Translate maps a provider error onto a client-safe kind and message.
// Unknown codes fall back to the provider's own message.
func Translate(code ErrorCode, providerMessage string) Translation {
	if t, ok := translations[code]; ok {
		return Translation{
			Code:            code,
			Kind:            t.kind,
			Message:         t.message,
			PreserveDetails: !t.redacted,
		}
	}
	msg := providerMessage
	if msg == "" {
		msg = defaultIssueFailure
	}
	return Translation{
		Code:            ErrCodeUnknown,
		Kind:            KindProviderError,
		Message:         msg,
		PreserveDetails: true,
	}
}
