package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const twilioVerifyDefaultBaseURL = "https://verify.twilio.com"

// maxResponseSize caps how much of a provider response is read. Verify
// responses are a few hundred bytes; anything past the cap fails to parse.
const maxResponseSize = 1 << 20

// TwilioVerify issues and checks codes through the Twilio Verify v2 API.
type TwilioVerify struct {
	creds   Credentials
	channel string
	baseURL string
	client  http.Client
}

// NewTwilioVerify creates a TwilioVerify. If baseURL is empty, the Twilio
// production API is used (tests pass an httptest server URL). An empty
// channel defaults to "sms".
func NewTwilioVerify(creds Credentials, channel, baseURL string) *TwilioVerify {
	if baseURL == "" {
		baseURL = twilioVerifyDefaultBaseURL
	}
	if channel == "" {
		channel = "sms"
	}
	return &TwilioVerify{
		creds:   creds,
		channel: channel,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (p *TwilioVerify) Configured() bool {
	return p.creds.Complete()
}

func (p *TwilioVerify) IssueCode(ctx context.Context, phone string) (*Result, error) {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("Channel", p.channel)
	return p.post(ctx, "Verifications", form)
}

func (p *TwilioVerify) CheckCode(ctx context.Context, phone, code string) (*Result, error) {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("Code", code)
	return p.post(ctx, "VerificationCheck", form)
}

func (p *TwilioVerify) post(ctx context.Context, resource string, form url.Values) (*Result, error) {
	if !p.Configured() {
		return nil, ErrNotConfigured
	}
	endpoint := fmt.Sprintf("%s/v2/Services/%s/%s", p.baseURL, url.PathEscape(p.creds.ServiceSID), resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio verify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.creds.AccountSID, p.creds.AuthToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio verify: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("twilio verify: read response: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("twilio verify: parse response (status %d): %w", resp.StatusCode, err)
	}
	if raw == nil {
		// A JSON null body decodes without error but carries no outcome.
		return nil, fmt.Errorf("twilio verify: parse response (status %d): empty body", resp.StatusCode)
	}

	res := &Result{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		HTTPStatus: resp.StatusCode,
		Status:     stringField(raw, "status"),
		Message:    stringField(raw, "message"),
		Raw:        raw,
	}
	if !res.OK {
		// Error bodies carry the HTTP status again under "status" as a number,
		// so stringField leaves Status empty there.
		res.ErrorCode = ParseErrorCode(raw["code"])
	}
	return res, nil
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
