package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/syncup/otpgate/internal/auth"
	"github.com/syncup/otpgate/internal/config"
	"github.com/syncup/otpgate/internal/httputil"
	"github.com/syncup/otpgate/internal/otp"
	"github.com/syncup/otpgate/internal/ratelimit"
	"github.com/syncup/otpgate/internal/verify"
)

// Limiters holds the per-endpoint rate limiters. A nil field disables
// limiting for that endpoint.
type Limiters struct {
	Request ratelimit.Limiter
	Check   ratelimit.Limiter
}

// Server is the gateway's HTTP server.
type Server struct {
	cfg       *config.Config
	router    *chi.Mux
	http      *http.Server
	logger    *slog.Logger
	provider  verify.Provider
	limiters  Limiters
	startTime time.Time
}

// New creates a new Server with middleware and routes configured.
// verifier may be nil, in which case callers are not authenticated.
func New(cfg *config.Config, logger *slog.Logger, provider verify.Provider, limiters Limiters, verifier *auth.Verifier) *Server {
	r := chi.NewRouter()

	// Global middleware. CORS runs before routing so preflights to any
	// path are answered.
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.Server.CORSAllowedOrigins))
	r.Use(middleware.Timeout(time.Duration(cfg.Server.RequestTimeout) * time.Second))

	s := &Server{
		cfg:       cfg,
		router:    r,
		logger:    logger,
		provider:  provider,
		limiters:  limiters,
		startTime: time.Now(),
	}

	h := otp.NewHandler(provider, logger)
	h.SetAllowedCountries(cfg.Provider.AllowedCountries)

	r.Get("/health", s.handleHealth)

	r.Route("/functions/v1", func(r chi.Router) {
		r.With(s.guard(limiters.Request, h.DenyRequestCode, verifier)...).
			Post("/send-otp", h.HandleRequestCode)
		r.With(s.guard(limiters.Check, h.DenyCheckCode, verifier)...).
			Post("/verify-otp", h.HandleCheckCode)
	})

	return s
}

// guard builds the per-endpoint middleware chain. Panics and rejections are written
// by deny so they share the endpoint's response shape.
func (s *Server) guard(l ratelimit.Limiter, deny func(http.ResponseWriter, int), verifier *auth.Verifier) []func(http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{recoverJSON(s.logger, deny)}
	if l != nil {
		mws = append(mws, ratelimit.Middleware(l, deny, s.logger))
	}
	if verifier != nil {
		mws = append(mws, auth.RequireCaller(verifier, deny))
	}
	return mws
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	return s.StartWithReady(make(chan struct{}))
}

// StartWithReady begins listening. It closes the ready channel once the
// listener is bound, then blocks serving requests.
func (s *Server) StartWithReady(ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.serve(ln, ready)
}

// StartTLSWithReady serves on an already bound TLS listener.
func (s *Server) StartTLSWithReady(ln net.Listener, ready chan<- struct{}) error {
	return s.serve(ln, ready)
}

func (s *Server) serve(ln net.Listener, ready chan<- struct{}) error {
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("server starting", "address", ln.Addr().String())
	close(ready)

	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server and releases limiter resources.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := time.Duration(s.cfg.Server.ShutdownTimeout) * time.Second
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("shutting down server", "timeout", timeout)
	for _, l := range []ratelimit.Limiter{s.limiters.Request, s.limiters.Check} {
		if st, ok := l.(interface{ Stop() }); ok {
			st.Stop()
		}
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"provider_configured": s.provider.Configured(),
		"uptime_seconds":      int(time.Since(s.startTime).Seconds()),
	})
}
