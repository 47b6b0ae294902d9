// Package ratelimit throttles OTP endpoints per client IP. Issuing codes
// costs money and lands on a real phone, so the limiters sit in front of
// the handlers rather than inside them.
package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter decides whether another request under key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// DenyFunc writes a rejection response with the given status code.
type DenyFunc func(w http.ResponseWriter, status int)

// Middleware returns HTTP middleware that rate-limits by client IP. A limiter
// error denies the request with 503 (fail closed).
func Middleware(l Limiter, deny DenyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Allow(r.Context(), clientIP(r))
			if err != nil {
				logger.Error("rate limiter unavailable", "error", err, "path", r.URL.Path)
				deny(w, http.StatusServiceUnavailable)
				return
			}

			// Always set rate limit headers (even on success)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if !d.Allowed {
				retryAfter := int(time.Until(d.Reset).Seconds()) + 1 // round up
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				deny(w, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	// Only trust proxy headers when the direct connection is from a
	// private/loopback address (i.e. the request came through a reverse proxy).
	// Without this check, any client can spoof X-Forwarded-For to bypass rate limits.
	if isPrivateIP(host) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ip := xff
			if i := strings.IndexByte(xff, ','); i >= 0 {
				ip = xff[:i]
			}
			return strings.TrimSpace(ip)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	return host
}

// isPrivateIP checks whether an IP string is a private/loopback address.
func isPrivateIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsPrivate()
}
