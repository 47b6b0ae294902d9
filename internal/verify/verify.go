// Package verify talks to the external OTP verification provider. It issues
// codes, checks submitted codes, and maps provider error codes onto a stable
// client-facing vocabulary.
package verify

import (
	"context"
	"errors"
)

// StatusApproved is the provider status meaning the submitted code matched.
// Any other status (pending, canceled, expired, ...) is not a verification.
const StatusApproved = "approved"

// StatusPending is the status of a freshly issued verification.
const StatusPending = "pending"

// ErrNotConfigured is returned by providers whose credentials are missing.
var ErrNotConfigured = errors.New("verify: provider credentials not configured")

// Result is the interpreted outcome of one provider call. A provider-side
// rejection (non-2xx) is a Result with OK=false, not an error.
type Result struct {
	OK         bool
	HTTPStatus int
	Status     string
	ErrorCode  ErrorCode
	Message    string
	Raw        map[string]any
}

// Approved reports whether a check result proves possession of the phone.
// Both the call and the provider's verdict must succeed.
func (r *Result) Approved() bool {
	return r != nil && r.OK && r.Status == StatusApproved
}

// Provider issues and checks one-time passcodes.
type Provider interface {
	// Configured reports whether the provider has the credentials it needs.
	Configured() bool
	IssueCode(ctx context.Context, phone string) (*Result, error)
	CheckCode(ctx context.Context, phone, code string) (*Result, error)
}

// Credentials are the server-held provider secrets.
type Credentials struct {
	AccountSID string
	AuthToken  string
	ServiceSID string
}

// Complete reports whether all three secrets are present.
func (c Credentials) Complete() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.ServiceSID != ""
}
