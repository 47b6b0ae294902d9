package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/syncup/otpgate/internal/httputil"
)

type ctxKey struct{}

// DenyFunc writes a rejection response with the given status code.
type DenyFunc func(w http.ResponseWriter, status int)

// RequireCaller returns middleware that rejects requests without a valid
// caller token. The token is read from "Authorization: Bearer" and falls
// back to the "apikey" header.
func RequireCaller(v *Verifier, deny DenyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := httputil.ExtractBearerToken(r)
			if !ok {
				token = strings.TrimSpace(r.Header.Get("apikey"))
			}
			if token == "" {
				deny(w, http.StatusUnauthorized)
				return
			}

			claims, err := v.Verify(token)
			if err != nil {
				deny(w, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext extracts caller claims set by RequireCaller.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ctxKey{}).(*Claims)
	return claims
}
