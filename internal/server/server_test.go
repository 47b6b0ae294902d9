package server_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncup/otpgate/internal/auth"
	"github.com/syncup/otpgate/internal/config"
	"github.com/syncup/otpgate/internal/ratelimit"
	"github.com/syncup/otpgate/internal/server"
	"github.com/syncup/otpgate/internal/testutil"
	"github.com/syncup/otpgate/internal/verify"
)

const (
	sendPath   = "/functions/v1/send-otp"
	verifyPath = "/functions/v1/verify-otp"
	testSecret = "test-secret-that-is-at-least-32-chars-long"
)

func newTestServer(t *testing.T, p verify.Provider, limiters server.Limiters, verifier *auth.Verifier) *server.Server {
	t.Helper()
	return newTestServerWithConfig(t, config.Default(), p, limiters, verifier)
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config, p verify.Provider, limiters server.Limiters, verifier *auth.Verifier) *server.Server {
	t.Helper()
	srv := server.New(cfg, testutil.DiscardLogger(), p, limiters, verifier)
	t.Cleanup(func() {
		require.NoError(t, srv.Shutdown(context.Background()))
	})
	return srv
}

func do(srv *server.Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "203.0.113.7:5555"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &verify.CaptureProvider{}, server.Limiters{}, nil)

	w := do(srv, http.MethodGet, "/health", "", nil)
	testutil.StatusCode(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := testutil.JSONBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["provider_configured"])
}

func TestHealthReportsUnconfiguredProvider(t *testing.T) {
	srv := newTestServer(t, &verify.CaptureProvider{Unconfigured: true}, server.Limiters{}, nil)

	body := testutil.JSONBody(t, do(srv, http.MethodGet, "/health", "", nil))
	assert.Equal(t, false, body["provider_configured"])
}

// --- CORS tests ---

func TestCORSOnEveryResponse(t *testing.T) {
	srv := newTestServer(t, &verify.CaptureProvider{}, server.Limiters{}, nil)

	cases := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"request success", sendPath, `{"phone":"+14155552671"}`, http.StatusOK},
		{"request validation", sendPath, `{}`, http.StatusBadRequest},
		{"check success", verifyPath, `{"phone":"+14155552671","code":"123456"}`, http.StatusOK},
		{"check validation", verifyPath, `{"phone":"+14155552671"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(srv, http.MethodPost, tc.path, tc.body, nil)
			testutil.StatusCode(t, tc.status, w.Code)
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "authorization, content-type, x-client-info, apikey", w.Header().Get("Access-Control-Allow-Headers"))
		})
	}
}

func TestCORSOnConfigurationError(t *testing.T) {
	srv := newTestServer(t, &verify.CaptureProvider{Unconfigured: true}, server.Limiters{}, nil)

	w := do(srv, http.MethodPost, sendPath, `{"phone":"+14155552671"}`, nil)
	testutil.StatusCode(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "configuration_error", testutil.JSONBody(t, w)["error"])
}

func TestPreflightReturnsNoContent(t *testing.T) {
	p := &verify.CaptureProvider{}
	srv := newTestServer(t, p, server.Limiters{}, nil)

	for _, path := range []string{sendPath, verifyPath} {
		w := do(srv, http.MethodOptions, path, "", map[string]string{
			"Origin":                        "https://app.example.com",
			"Access-Control-Request-Method": "POST",
		})
		testutil.StatusCode(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "apikey")
	}
	assert.Zero(t, p.Calls())
}

func TestCORSOriginList(t *testing.T) {
	cfg := config.Default()
	cfg.Server.CORSAllowedOrigins = []string{"http://example.com", "http://other.com"}
	srv := newTestServerWithConfig(t, cfg, &verify.CaptureProvider{}, server.Limiters{}, nil)

	w := do(srv, http.MethodGet, "/health", "", map[string]string{"Origin": "http://other.com"})
	assert.Equal(t, "http://other.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Vary"), "Origin")

	w = do(srv, http.MethodGet, "/health", "", map[string]string{"Origin": "http://evil.com"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

// --- routing ---

func TestRequestCodeEndToEnd(t *testing.T) {
	p := &verify.CaptureProvider{}
	srv := newTestServer(t, p, server.Limiters{}, nil)

	w := do(srv, http.MethodPost, sendPath, `{"phone":"+14155552671"}`, nil)
	testutil.StatusCode(t, http.StatusOK, w.Code)

	body := testutil.JSONBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "+14155552671", body["to"])
	require.Len(t, p.Issues, 1)
	assert.Equal(t, "+14155552671", p.Issues[0].Phone)
}

func TestCheckCodeEndToEnd(t *testing.T) {
	p := &verify.CaptureProvider{}
	srv := newTestServer(t, p, server.Limiters{}, nil)

	w := do(srv, http.MethodPost, verifyPath, `{"phone":"+14155552671","code":"123456"}`, nil)
	testutil.StatusCode(t, http.StatusOK, w.Code)

	body := testutil.JSONBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["valid"])
	require.Len(t, p.Checks, 1)
	assert.Equal(t, "123456", p.Checks[0].Code)
}

func TestAllowedCountriesFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Provider.AllowedCountries = []string{"GB"}
	p := &verify.CaptureProvider{}
	srv := newTestServerWithConfig(t, cfg, p, server.Limiters{}, nil)

	w := do(srv, http.MethodPost, sendPath, `{"phone":"+14155552671"}`, nil)
	testutil.StatusCode(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, verify.KindRegionNotSupported, testutil.JSONBody(t, w)["error"])
	assert.Empty(t, p.Issues)
}

func TestRequestTimeoutIsTransportFault(t *testing.T) {
	cfg := config.Default()
	cfg.Server.RequestTimeout = 1
	srv := newTestServerWithConfig(t, cfg, blockingProvider{}, server.Limiters{}, nil)

	w := do(srv, http.MethodPost, sendPath, `{"phone":"+14155552671"}`, nil)
	testutil.StatusCode(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", testutil.JSONBody(t, w)["error"])
}

// blockingProvider waits for the request deadline on every call.
type blockingProvider struct{}

func (blockingProvider) Configured() bool { return true }

func (blockingProvider) IssueCode(ctx context.Context, _ string) (*verify.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingProvider) CheckCode(ctx context.Context, _, _ string) (*verify.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// panickingProvider panics on every provider call.
type panickingProvider struct{}

func (panickingProvider) Configured() bool { return true }

func (panickingProvider) IssueCode(context.Context, string) (*verify.Result, error) {
	panic("provider exploded")
}

func (panickingProvider) CheckCode(context.Context, string, string) (*verify.Result, error) {
	panic("provider exploded")
}

func TestHandlerPanicAnswersInEndpointShape(t *testing.T) {
	srv := newTestServer(t, panickingProvider{}, server.Limiters{}, nil)

	w := do(srv, http.MethodPost, sendPath, `{"phone":"+14155552671"}`, nil)
	testutil.StatusCode(t, http.StatusInternalServerError, w.Code)
	body := testutil.JSONBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "internal_error", body["error"])
	assert.NotContains(t, w.Body.String(), "exploded")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(srv, http.MethodPost, verifyPath, `{"phone":"+14155552671","code":"123456"}`, nil)
	testutil.StatusCode(t, http.StatusInternalServerError, w.Code)
	body = testutil.JSONBody(t, w)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "internal_error", body["error"])
}

// --- rate limiting ---

func TestRateLimitedRequestCode(t *testing.T) {
	p := &verify.CaptureProvider{}
	srv := newTestServer(t, p, server.Limiters{Request: ratelimit.NewMemory(1, time.Minute)}, nil)

	w := do(srv, http.MethodPost, sendPath, `{"phone":"+14155552671"}`, nil)
	testutil.StatusCode(t, http.StatusOK, w.Code)

	w = do(srv, http.MethodPost, sendPath, `{"phone":"+14155552671"}`, nil)
	testutil.StatusCode(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	body := testutil.JSONBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, verify.KindRateLimited, body["error"])
	_, hasValid := body["valid"]
	assert.False(t, hasValid)
	assert.Len(t, p.Issues, 1)
}

func TestRateLimitedCheckCodeCarriesValidFalse(t *testing.T) {
	srv := newTestServer(t, &verify.CaptureProvider{}, server.Limiters{Check: ratelimit.NewMemory(1, time.Minute)}, nil)

	do(srv, http.MethodPost, verifyPath, `{"phone":"+14155552671","code":"1"}`, nil)
	w := do(srv, http.MethodPost, verifyPath, `{"phone":"+14155552671","code":"2"}`, nil)
	testutil.StatusCode(t, http.StatusTooManyRequests, w.Code)

	body := testutil.JSONBody(t, w)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, verify.KindRateLimited, body["error"])
}

func TestLimitersAreIndependentPerEndpoint(t *testing.T) {
	srv := newTestServer(t, &verify.CaptureProvider{}, server.Limiters{
		Request: ratelimit.NewMemory(1, time.Minute),
		Check:   ratelimit.NewMemory(1, time.Minute),
	}, nil)

	testutil.StatusCode(t, http.StatusOK, do(srv, http.MethodPost, sendPath, `{"phone":"+14155552671"}`, nil).Code)
	testutil.StatusCode(t, http.StatusOK, do(srv, http.MethodPost, verifyPath, `{"phone":"+14155552671","code":"1"}`, nil).Code)
}

type downLimiter struct{}

func (downLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("dial tcp: connection refused")
}

func TestLimiterFailureFailsClosed(t *testing.T) {
	p := &verify.CaptureProvider{}
	srv := newTestServer(t, p, server.Limiters{Request: downLimiter{}}, nil)

	w := do(srv, http.MethodPost, sendPath, `{"phone":"+14155552671"}`, nil)
	testutil.StatusCode(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, verify.KindServiceUnavailable, testutil.JSONBody(t, w)["error"])
	assert.Empty(t, p.Issues)
}

// --- caller authentication ---

func callerToken(t *testing.T, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Role: "anon",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestCallerAuthRequired(t *testing.T) {
	p := &verify.CaptureProvider{}
	srv := newTestServer(t, p, server.Limiters{}, auth.NewVerifier(testSecret, nil))

	w := do(srv, http.MethodPost, sendPath, `{"phone":"+14155552671"}`, nil)
	testutil.StatusCode(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", testutil.JSONBody(t, w)["error"])
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(srv, http.MethodPost, verifyPath, `{"phone":"+14155552671","code":"1"}`, map[string]string{
		"Authorization": "Bearer " + callerToken(t, "some-other-secret-that-is-32-chars-long"),
	})
	testutil.StatusCode(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, testutil.JSONBody(t, w)["valid"])

	assert.Zero(t, p.Calls())
}

func TestCallerAuthAccepted(t *testing.T) {
	srv := newTestServer(t, &verify.CaptureProvider{}, server.Limiters{}, auth.NewVerifier(testSecret, nil))

	w := do(srv, http.MethodPost, sendPath, `{"phone":"+14155552671"}`, map[string]string{
		"Authorization": "Bearer " + callerToken(t, testSecret),
	})
	testutil.StatusCode(t, http.StatusOK, w.Code)

	w = do(srv, http.MethodPost, verifyPath, `{"phone":"+14155552671","code":"1"}`, map[string]string{
		"apikey": callerToken(t, testSecret),
	})
	testutil.StatusCode(t, http.StatusOK, w.Code)
}

func TestCallerRoleIsLogged(t *testing.T) {
	logger, logs := testutil.CaptureLogger()
	srv := server.New(config.Default(), logger, &verify.CaptureProvider{}, server.Limiters{}, auth.NewVerifier(testSecret, nil))
	t.Cleanup(func() { require.NoError(t, srv.Shutdown(context.Background())) })

	w := do(srv, http.MethodPost, sendPath, `{"phone":"+14155552671"}`, map[string]string{
		"Authorization": "Bearer " + callerToken(t, testSecret),
	})
	testutil.StatusCode(t, http.StatusOK, w.Code)
	assert.Contains(t, logs.String(), "caller_role=anon")
}

func TestPreflightBypassesCallerAuth(t *testing.T) {
	srv := newTestServer(t, &verify.CaptureProvider{}, server.Limiters{}, auth.NewVerifier(testSecret, nil))

	w := do(srv, http.MethodOptions, sendPath, "", nil)
	testutil.StatusCode(t, http.StatusNoContent, w.Code)
}

// --- lifecycle ---

func TestStartAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	srv := server.New(cfg, testutil.DiscardLogger(), &verify.CaptureProvider{}, server.Limiters{
		Request: ratelimit.NewMemory(5, time.Minute),
	}, nil)

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- srv.StartWithReady(ready) }()

	select {
	case <-ready:
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	resp, err := http.Get("http://" + cfg.Address() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, <-errCh)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}
