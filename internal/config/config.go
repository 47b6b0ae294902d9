package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "otpgate.toml"

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Provider  ProviderConfig  `toml:"provider"`
	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Logging   LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	ShutdownTimeout    int      `toml:"shutdown_timeout"`
	RequestTimeout     int      `toml:"request_timeout"`
	TLSEnabled         bool     `toml:"tls_enabled"`
	TLSDomain          string   `toml:"tls_domain"`
	TLSEmail           string   `toml:"tls_email"`
	TLSCertDir         string   `toml:"tls_cert_dir"`
}

// ProviderConfig selects and configures the verification backend.
// Missing Twilio credentials are allowed here; requests fail with a
// configuration error until they are set.
type ProviderConfig struct {
	Backend          string            `toml:"backend"` // "twilio" or "log"
	AccountSID       string            `toml:"account_sid"`
	AuthToken        string            `toml:"auth_token"`
	ServiceSID       string            `toml:"service_sid"`
	Channel          string            `toml:"channel"`
	BaseURL          string            `toml:"base_url"`
	AllowedCountries []string          `toml:"allowed_countries"`
	TestCodes        map[string]string `toml:"test_codes"` // log backend only
}

type AuthConfig struct {
	JWTSecret    string   `toml:"jwt_secret"`
	AllowedRoles []string `toml:"allowed_roles"`
}

// Enabled reports whether callers must present a JWT.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

type RateLimitConfig struct {
	Enabled      bool   `toml:"enabled"`
	Backend      string `toml:"backend"` // "memory" or "redis"
	RedisURL     string `toml:"redis_url"`
	Window       int    `toml:"window"` // seconds
	RequestLimit int    `toml:"request_limit"`
	CheckLimit   int    `toml:"check_limit"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8090,
			CORSAllowedOrigins: []string{"*"},
			ShutdownTimeout:    10,
			RequestTimeout:     15,
		},
		Provider: ProviderConfig{
			Backend: "twilio",
			Channel: "sms",
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			Backend:      "memory",
			Window:       60,
			RequestLimit: 5,
			CheckLimit:   10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration with priority: defaults → otpgate.toml → env vars → CLI flags.
// The flags parameter allows CLI flag overrides to be passed in.
func Load(configPath string, flags map[string]string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = DefaultPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	applyFlags(cfg, flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must be non-negative, got %d", c.Server.ShutdownTimeout)
	}
	if c.Server.RequestTimeout < 1 {
		return fmt.Errorf("server.request_timeout must be at least 1, got %d", c.Server.RequestTimeout)
	}
	if c.Server.TLSEnabled && c.Server.TLSDomain == "" {
		return fmt.Errorf("server.tls_domain is required when server.tls_enabled is true")
	}

	switch c.Provider.Backend {
	case "twilio", "log":
	default:
		return fmt.Errorf("provider.backend must be \"twilio\" or \"log\", got %q", c.Provider.Backend)
	}
	switch c.Provider.Channel {
	case "sms", "call", "whatsapp", "email":
	default:
		return fmt.Errorf("provider.channel must be one of: sms, call, whatsapp, email; got %q", c.Provider.Channel)
	}
	if c.Provider.BaseURL != "" {
		u, err := url.Parse(c.Provider.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("provider.base_url must be an absolute http(s) URL, got %q", c.Provider.BaseURL)
		}
	}
	for _, cc := range c.Provider.AllowedCountries {
		if len(cc) != 2 {
			return fmt.Errorf("provider.allowed_countries entries must be ISO 3166-1 alpha-2 codes, got %q", cc)
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters, got %d", len(c.Auth.JWTSecret))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Window < 1 {
			return fmt.Errorf("rate_limit.window must be at least 1, got %d", c.RateLimit.Window)
		}
		if c.RateLimit.RequestLimit < 1 {
			return fmt.Errorf("rate_limit.request_limit must be at least 1, got %d", c.RateLimit.RequestLimit)
		}
		if c.RateLimit.CheckLimit < 1 {
			return fmt.Errorf("rate_limit.check_limit must be at least 1, got %d", c.RateLimit.CheckLimit)
		}
		switch c.RateLimit.Backend {
		case "memory":
		case "redis":
			if c.RateLimit.RedisURL == "" {
				return fmt.Errorf("rate_limit.redis_url is required when rate_limit backend is \"redis\"")
			}
		default:
			return fmt.Errorf("rate_limit.backend must be \"memory\" or \"redis\", got %q", c.RateLimit.Backend)
		}
	}

	if c.Logging.Level != "" {
		switch c.Logging.Level {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("logging.level must be one of: debug, info, warn, error; got %q", c.Logging.Level)
		}
	}
	if c.Logging.Format != "" && c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", c.Logging.Format)
	}
	return nil
}

// Address returns the host:port string for the server to listen on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ProviderConfigured reports whether the twilio backend has all three
// credentials. The log backend is always configured.
func (c *Config) ProviderConfigured() bool {
	if c.Provider.Backend == "log" {
		return true
	}
	return c.Provider.AccountSID != "" && c.Provider.AuthToken != "" && c.Provider.ServiceSID != ""
}

// GenerateDefault writes a commented default otpgate.toml to the given path.
func GenerateDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultTOML), 0o644)
}

// ToTOML returns the config serialized as TOML.
func (c *Config) ToTOML() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// envInt reads an integer from the named environment variable.
// Returns an error if the value is set but not a valid integer.
func envInt(name string, dest *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %q is not an integer", name, v)
	}
	*dest = n
	return nil
}

func envString(name string, dest *string) {
	if v := os.Getenv(name); v != "" {
		*dest = v
	}
}

func envBool(name string, dest *bool) {
	if v := os.Getenv(name); v != "" {
		*dest = v == "true" || v == "1"
	}
}

func envList(name string, dest *[]string) {
	if v := os.Getenv(name); v != "" {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dest = out
	}
}

func applyEnv(cfg *Config) error {
	envString("OTPGATE_SERVER_HOST", &cfg.Server.Host)
	if err := envInt("OTPGATE_SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	envList("OTPGATE_CORS_ORIGINS", &cfg.Server.CORSAllowedOrigins)
	if err := envInt("OTPGATE_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	if err := envInt("OTPGATE_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout); err != nil {
		return err
	}
	envBool("OTPGATE_TLS_ENABLED", &cfg.Server.TLSEnabled)
	envString("OTPGATE_TLS_DOMAIN", &cfg.Server.TLSDomain)
	envString("OTPGATE_TLS_EMAIL", &cfg.Server.TLSEmail)
	envString("OTPGATE_TLS_CERT_DIR", &cfg.Server.TLSCertDir)

	// Legacy names used by the original edge functions. The OTPGATE_*
	// variants below take precedence.
	envString("TWILIO_ACCOUNT_SID", &cfg.Provider.AccountSID)
	envString("TWILIO_AUTH_TOKEN", &cfg.Provider.AuthToken)
	envString("TWILIO_VERIFY_SERVICE_SID", &cfg.Provider.ServiceSID)

	envString("OTPGATE_PROVIDER_BACKEND", &cfg.Provider.Backend)
	envString("OTPGATE_TWILIO_ACCOUNT_SID", &cfg.Provider.AccountSID)
	envString("OTPGATE_TWILIO_AUTH_TOKEN", &cfg.Provider.AuthToken)
	envString("OTPGATE_TWILIO_SERVICE_SID", &cfg.Provider.ServiceSID)
	envString("OTPGATE_PROVIDER_CHANNEL", &cfg.Provider.Channel)
	envString("OTPGATE_PROVIDER_BASE_URL", &cfg.Provider.BaseURL)
	envList("OTPGATE_ALLOWED_COUNTRIES", &cfg.Provider.AllowedCountries)

	envString("OTPGATE_AUTH_JWT_SECRET", &cfg.Auth.JWTSecret)
	envList("OTPGATE_AUTH_ALLOWED_ROLES", &cfg.Auth.AllowedRoles)

	envBool("OTPGATE_RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	envString("OTPGATE_RATE_LIMIT_BACKEND", &cfg.RateLimit.Backend)
	envString("OTPGATE_REDIS_URL", &cfg.RateLimit.RedisURL)
	if err := envInt("OTPGATE_RATE_LIMIT_WINDOW", &cfg.RateLimit.Window); err != nil {
		return err
	}
	if err := envInt("OTPGATE_RATE_LIMIT_REQUEST", &cfg.RateLimit.RequestLimit); err != nil {
		return err
	}
	if err := envInt("OTPGATE_RATE_LIMIT_CHECK", &cfg.RateLimit.CheckLimit); err != nil {
		return err
	}

	envString("OTPGATE_LOG_LEVEL", &cfg.Logging.Level)
	envString("OTPGATE_LOG_FORMAT", &cfg.Logging.Format)
	return nil
}

func applyFlags(cfg *Config, flags map[string]string) {
	if flags == nil {
		return
	}
	if v, ok := flags["port"]; ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v, ok := flags["host"]; ok && v != "" {
		cfg.Server.Host = v
	}
	if v, ok := flags["provider"]; ok && v != "" {
		cfg.Provider.Backend = v
	}
	if v, ok := flags["log-level"]; ok && v != "" {
		cfg.Logging.Level = v
	}
}

// validKeys is the complete set of dot-separated scalar config keys.
var validKeys = map[string]bool{
	"server.host": true, "server.port": true, "server.cors_allowed_origins": true,
	"server.shutdown_timeout": true, "server.request_timeout": true,
	"server.tls_enabled": true, "server.tls_domain": true, "server.tls_email": true,
	"server.tls_cert_dir": true,
	"provider.backend": true, "provider.account_sid": true, "provider.auth_token": true,
	"provider.service_sid": true, "provider.channel": true, "provider.base_url": true,
	"provider.allowed_countries": true,
	"auth.jwt_secret": true, "auth.allowed_roles": true,
	"rate_limit.enabled": true, "rate_limit.backend": true, "rate_limit.redis_url": true,
	"rate_limit.window": true, "rate_limit.request_limit": true, "rate_limit.check_limit": true,
	"logging.level": true, "logging.format": true,
}

// IsValidKey returns true if the dotted key is a recognized config key.
func IsValidKey(key string) bool {
	return validKeys[key]
}

// GetValue returns the value for a dotted config key (e.g. "server.port").
func GetValue(cfg *Config, key string) (any, error) {
	switch key {
	case "server.host":
		return cfg.Server.Host, nil
	case "server.port":
		return cfg.Server.Port, nil
	case "server.cors_allowed_origins":
		return strings.Join(cfg.Server.CORSAllowedOrigins, ","), nil
	case "server.shutdown_timeout":
		return cfg.Server.ShutdownTimeout, nil
	case "server.request_timeout":
		return cfg.Server.RequestTimeout, nil
	case "server.tls_enabled":
		return cfg.Server.TLSEnabled, nil
	case "server.tls_domain":
		return cfg.Server.TLSDomain, nil
	case "server.tls_email":
		return cfg.Server.TLSEmail, nil
	case "server.tls_cert_dir":
		return cfg.Server.TLSCertDir, nil
	case "provider.backend":
		return cfg.Provider.Backend, nil
	case "provider.account_sid":
		return cfg.Provider.AccountSID, nil
	case "provider.auth_token":
		return cfg.Provider.AuthToken, nil
	case "provider.service_sid":
		return cfg.Provider.ServiceSID, nil
	case "provider.channel":
		return cfg.Provider.Channel, nil
	case "provider.base_url":
		return cfg.Provider.BaseURL, nil
	case "provider.allowed_countries":
		return strings.Join(cfg.Provider.AllowedCountries, ","), nil
	case "auth.jwt_secret":
		return cfg.Auth.JWTSecret, nil
	case "auth.allowed_roles":
		return strings.Join(cfg.Auth.AllowedRoles, ","), nil
	case "rate_limit.enabled":
		return cfg.RateLimit.Enabled, nil
	case "rate_limit.backend":
		return cfg.RateLimit.Backend, nil
	case "rate_limit.redis_url":
		return cfg.RateLimit.RedisURL, nil
	case "rate_limit.window":
		return cfg.RateLimit.Window, nil
	case "rate_limit.request_limit":
		return cfg.RateLimit.RequestLimit, nil
	case "rate_limit.check_limit":
		return cfg.RateLimit.CheckLimit, nil
	case "logging.level":
		return cfg.Logging.Level, nil
	case "logging.format":
		return cfg.Logging.Format, nil
	default:
		return nil, fmt.Errorf("unknown configuration key: %s", key)
	}
}

// SetValue reads the existing TOML file, updates a single key, and writes it back.
// Creates the file with just the key if it doesn't exist.
func SetValue(configPath, key, value string) error {
	if !IsValidKey(key) {
		if !strings.Contains(key, ".") {
			return fmt.Errorf("invalid key format: %s (expected section.field)", key)
		}
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	var data map[string]any
	if raw, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}
	if data == nil {
		data = make(map[string]any)
	}

	section, field, _ := strings.Cut(key, ".")
	sectionMap, ok := data[section].(map[string]any)
	if !ok {
		sectionMap = make(map[string]any)
		data[section] = sectionMap
	}
	sectionMap[field] = coerceValue(key, value)

	out, err := toml.Marshal(data)
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return os.WriteFile(configPath, out, 0o644)
}

// coerceValue converts a string value to the appropriate Go type for TOML serialization.
func coerceValue(key, value string) any {
	switch key {
	case "server.tls_enabled", "rate_limit.enabled":
		return value == "true" || value == "1"
	case "server.port", "server.shutdown_timeout", "server.request_timeout",
		"rate_limit.window", "rate_limit.request_limit", "rate_limit.check_limit":
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	case "server.cors_allowed_origins", "provider.allowed_countries", "auth.allowed_roles":
		var out []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return value
}

const defaultTOML = `# otpgate configuration

[server]
# Address to listen on.
host = "0.0.0.0"
port = 8090

# CORS allowed origins. Use ["*"] to allow all.
cors_allowed_origins = ["*"]

# Seconds to wait for in-flight requests during shutdown.
shutdown_timeout = 10

# Seconds a single request (including the provider call) may take.
request_timeout = 15

# Automatic HTTPS via Let's Encrypt.
# tls_enabled = false
# tls_domain = "otp.example.com"
# tls_email = "ops@example.com"
# tls_cert_dir = ""

[provider]
# Verification backend: "twilio" or "log" (development, prints instead of sending).
backend = "twilio"

# Twilio Verify credentials. TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and
# TWILIO_VERIFY_SERVICE_SID are also read from the environment.
# account_sid = ""
# auth_token = ""
# service_sid = ""

# Delivery channel: sms, call, whatsapp, email.
channel = "sms"

# Only accept numbers from these regions (ISO 3166-1 alpha-2). Empty allows all.
# allowed_countries = ["US", "CA"]

# Fixed codes accepted by the log backend.
# [provider.test_codes]
# "+15555550100" = "123456"

[auth]
# When set, callers must send an HS256 JWT signed with this secret
# (Authorization: Bearer or apikey header). Must be at least 32 characters.
# jwt_secret = ""

# Restrict accepted tokens to these role claims.
# allowed_roles = ["anon", "authenticated"]

[rate_limit]
# Per-IP limits on both endpoints.
enabled = true

# "memory" (single instance) or "redis" (shared across replicas).
backend = "memory"
# redis_url = "redis://localhost:6379/0"

# Window length in seconds, and requests allowed per window.
window = 60
request_limit = 5
check_limit = 10

[logging]
# Log level: debug, info, warn, error.
level = "info"

# Log format: json or text.
format = "json"
`
