package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/syncup/otpgate/internal/auth"
	"github.com/syncup/otpgate/internal/cli/ui"
	"github.com/syncup/otpgate/internal/config"
	"github.com/syncup/otpgate/internal/ratelimit"
	"github.com/syncup/otpgate/internal/server"
	"github.com/syncup/otpgate/internal/verify"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the OTP gateway",
	Long: `Start the gateway in the foreground. Twilio credentials are read from
otpgate.toml or the TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and
TWILIO_VERIFY_SERVICE_SID environment variables.

Examples:
  otpgate start --port 9000
  otpgate start --provider log --log-level debug`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().Int("port", 0, "Server port (default 8090)")
	startCmd.Flags().String("host", "", "Server host (default 0.0.0.0)")
	startCmd.Flags().String("config", "", "Path to otpgate.toml config file")
	startCmd.Flags().String("provider", "", `Verification backend: "twilio" or "log"`)
	startCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
}

// overridableFlags are the start flags forwarded to config.Load.
var overridableFlags = map[string]bool{"port": true, "host": true, "provider": true, "log-level": true}

// flagOverrides collects the flags the user actually set.
func flagOverrides(fs *pflag.FlagSet) map[string]string {
	flags := make(map[string]string)
	fs.Visit(func(f *pflag.Flag) {
		if overridableFlags[f.Name] {
			flags[f.Name] = f.Value.String()
		}
	})
	return flags
}

func runStart(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath, flagOverrides(cmd.Flags()))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, _ := newLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Progress steps are only shown on a terminal; otherwise the structured
	// logs are the whole story.
	useColor := colorEnabled()
	sp := ui.NewStepSpinner(io.Discard, true)
	if useColor {
		sp = ui.NewStepSpinner(os.Stderr, false)
	}

	provider := buildProvider(cfg, logger)
	if !provider.Configured() {
		logger.Warn("provider credentials missing; OTP endpoints will answer with a configuration error",
			"missing", strings.Join(missingCredentials(cfg), ","))
	}

	sp.Start("Preparing rate limiters...")
	limiters, closeLimiters, err := buildLimiters(ctx, cfg, logger)
	if err != nil {
		sp.Fail()
		return err
	}
	sp.Done()
	defer closeLimiters()

	var verifier *auth.Verifier
	if cfg.Auth.Enabled() {
		verifier = auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.AllowedRoles)
	}

	srv := server.New(cfg, logger, provider, limiters, verifier)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	sp.Start("Starting server...")
	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLSEnabled {
			ln, err := buildTLSListener(ctx, cfg, logger)
			if err != nil {
				errCh <- err
				return
			}
			errCh <- srv.StartTLSWithReady(ln, ready)
		} else {
			errCh <- srv.StartWithReady(ready)
		}
	}()

	select {
	case <-ready:
		sp.Done()
		printBannerTo(os.Stderr, cfg, provider.Configured(), useColor)
	case err := <-errCh:
		sp.Fail()
		return portError(cfg.Server.Port, err)
	}

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
		signal.Stop(sigCh) // a second Ctrl-C exits immediately
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		return nil
	}
}

// newLogger builds the process logger. The returned LevelVar allows the
// level to be changed at runtime.
func newLogger(level, format string, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(parseSlogLevel(level))

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h), lvl
}

func parseSlogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildProvider(cfg *config.Config, logger *slog.Logger) verify.Provider {
	if cfg.Provider.Backend == "log" {
		return verify.NewLogProvider(logger, cfg.Provider.TestCodes)
	}
	return verify.NewTwilioVerify(verify.Credentials{
		AccountSID: cfg.Provider.AccountSID,
		AuthToken:  cfg.Provider.AuthToken,
		ServiceSID: cfg.Provider.ServiceSID,
	}, cfg.Provider.Channel, cfg.Provider.BaseURL)
}

// missingCredentials names the unset Twilio settings, for the startup warning.
func missingCredentials(cfg *config.Config) []string {
	var missing []string
	if cfg.Provider.AccountSID == "" {
		missing = append(missing, "provider.account_sid")
	}
	if cfg.Provider.AuthToken == "" {
		missing = append(missing, "provider.auth_token")
	}
	if cfg.Provider.ServiceSID == "" {
		missing = append(missing, "provider.service_sid")
	}
	return missing
}

// buildLimiters creates the per-endpoint limiters. The returned func
// releases the Redis client, if any.
func buildLimiters(ctx context.Context, cfg *config.Config, logger *slog.Logger) (server.Limiters, func(), error) {
	rl := cfg.RateLimit
	if !rl.Enabled {
		logger.Warn("rate limiting disabled")
		return server.Limiters{}, func() {}, nil
	}
	window := time.Duration(rl.Window) * time.Second

	if rl.Backend != "redis" {
		return server.Limiters{
			Request: ratelimit.NewMemory(rl.RequestLimit, window),
			Check:   ratelimit.NewMemory(rl.CheckLimit, window),
		}, func() {}, nil
	}

	opts, err := redis.ParseURL(rl.RedisURL)
	if err != nil {
		return server.Limiters{}, nil, fmt.Errorf("parsing rate_limit.redis_url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		// Requests are refused with 503 until Redis is reachable.
		logger.Warn("redis unreachable at startup", "addr", opts.Addr, "error", err)
	}
	logger.Info("rate limiting via redis", "addr", opts.Addr, "url", redactURL(rl.RedisURL))
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Error("closing redis client", "error", err)
		}
	}
	return server.Limiters{
		Request: ratelimit.NewRedis(client, "otpgate:send", rl.RequestLimit, window),
		Check:   ratelimit.NewRedis(client, "otpgate:verify", rl.CheckLimit, window),
	}, closeFn, nil
}

// buildTLSListener uses certmagic to obtain a Let's Encrypt certificate and
// returns a TLS net.Listener on port 443. It also starts an HTTP-01 challenge
// responder with an HTTP→HTTPS redirect on port 80.
func buildTLSListener(ctx context.Context, cfg *config.Config, logger *slog.Logger) (net.Listener, error) {
	certDir := cfg.Server.TLSCertDir
	if certDir == "" {
		home, _ := os.UserHomeDir()
		certDir = filepath.Join(home, ".otpgate", "certs")
	}

	if cfg.Server.TLSEmail != "" {
		certmagic.DefaultACME.Email = cfg.Server.TLSEmail
	}
	magic := certmagic.NewDefault()
	magic.Storage = &certmagic.FileStorage{Path: certDir}

	logger.Info("obtaining TLS certificate", "domain", cfg.Server.TLSDomain)
	if err := magic.ManageSync(ctx, []string{cfg.Server.TLSDomain}); err != nil {
		return nil, fmt.Errorf("obtaining TLS certificate for %s: %w", cfg.Server.TLSDomain, err)
	}

	go func() {
		domain := cfg.Server.TLSDomain
		handler := certmagic.DefaultACME.HTTPChallengeHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "https://"+domain+r.RequestURI, http.StatusMovedPermanently)
		}))
		srv := &http.Server{
			Addr:              ":80",
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			logger.Warn("HTTP redirect listener error", "error", err)
		}
	}()

	ln, err := tls.Listen("tcp", fmt.Sprintf("%s:443", cfg.Server.Host), magic.TLSConfig())
	if err != nil {
		return nil, fmt.Errorf("TLS listen on :443: %w", err)
	}
	return ln, nil
}

// portError wraps common listen errors with actionable suggestions.
func portError(port int, err error) error {
	if strings.Contains(err.Error(), "address already in use") {
		return fmt.Errorf("%s", ui.FormatError(
			fmt.Sprintf("port %d is already in use", port),
			fmt.Sprintf("otpgate start --port %d", port+1),
		))
	}
	return err
}

func colorEnabled() bool {
	return ui.ColorEnabled()
}

// publicURL is the base URL printed in the banner. The bind-all address is
// shown as localhost so it can be pasted into a browser or curl.
func publicURL(cfg *config.Config) string {
	if cfg.Server.TLSEnabled {
		return "https://" + cfg.Server.TLSDomain
	}
	host := cfg.Server.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

// printBannerTo writes a human-readable startup summary to w.
func printBannerTo(w io.Writer, cfg *config.Config, providerReady bool, useColor bool) {
	base := publicURL(cfg)
	label := func(s string) string { return bold(fmt.Sprintf("%-10s", s), useColor) }

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n\n", ui.BrandEmoji, boldCyan("otpgate "+bannerVersion(buildVersion), useColor))
	fmt.Fprintf(w, "  %s %s\n", label("Send:"), cyan(base+"/functions/v1/send-otp", useColor))
	fmt.Fprintf(w, "  %s %s\n", label("Verify:"), cyan(base+"/functions/v1/verify-otp", useColor))

	provider := cfg.Provider.Backend
	if cfg.Provider.Backend == "twilio" {
		provider += " (" + cfg.Provider.Channel + ")"
	}
	fmt.Fprintf(w, "  %s %s\n", label("Provider:"), provider)

	limits := "off"
	if cfg.RateLimit.Enabled {
		limits = fmt.Sprintf("%s, %d send / %d verify per %ds", cfg.RateLimit.Backend,
			cfg.RateLimit.RequestLimit, cfg.RateLimit.CheckLimit, cfg.RateLimit.Window)
	}
	fmt.Fprintf(w, "  %s %s\n", label("Limits:"), limits)

	callers := "open"
	if cfg.Auth.Enabled() {
		callers = "JWT required"
	}
	fmt.Fprintf(w, "  %s %s\n", label("Callers:"), callers)

	if !providerReady {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %s\n", yellow(ui.SymbolWarning+" Twilio credentials are not set; requests will fail with a configuration error.", useColor))
	}
	if cfg.Provider.Backend == "log" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %s\n", yellow(ui.SymbolWarning+" log provider: codes are not delivered. Not for production.", useColor))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s\n", dim("Try:", useColor))
	fmt.Fprintf(w, "%s\n", green(fmt.Sprintf("otpgate request +15555550100 --url %s", base), useColor))
	fmt.Fprintln(w)
}

// redactURL removes userinfo from a URL for safe logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = nil
		return strings.Replace(u.String(), "://", "://***@", 1)
	}
	return u.String()
}

// bannerVersion shortens git-describe versions: "v0.1.0" → "0.1.0",
// "v0.1.0-43-ge534c04" → "0.1.0-dev". Pre-release tags are kept.
func bannerVersion(raw string) string {
	v := strings.TrimPrefix(raw, "v")
	base, rest, found := strings.Cut(v, "-")
	if !found {
		return v
	}
	if rest != "" && rest[0] >= '0' && rest[0] <= '9' {
		return base + "-dev"
	}
	return v
}
