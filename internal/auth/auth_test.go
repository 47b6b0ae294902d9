package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/syncup/otpgate/internal/testutil"
)

const testSecret = "test-secret-that-is-at-least-32-chars-long"

func signToken(t *testing.T, method jwt.SigningMethod, key any, role string, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "caller-1",
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return token
}

func TestVerifyValidToken(t *testing.T) {
	t.Parallel()
	v := NewVerifier(testSecret, nil)
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "anon", time.Now().Add(time.Hour))

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.Equal(t, "anon", claims.Role)
	testutil.Equal(t, "caller-1", claims.Subject)
}

func TestVerifyRejects(t *testing.T) {
	t.Parallel()
	v := NewVerifier(testSecret, nil)
	future := time.Now().Add(time.Hour)

	cases := map[string]string{
		"wrong secret": signToken(t, jwt.SigningMethodHS256, []byte("another-secret-that-is-32-chars-long!"), "anon", future),
		"expired":      signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "anon", time.Now().Add(-time.Minute)),
		"no expiry":    signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "anon", time.Time{}),
		"hs512":        signToken(t, jwt.SigningMethodHS512, []byte(testSecret), "anon", future),
		"garbage":      "not.a.token",
		"none alg":     signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, "anon", future),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestVerifyAllowedRoles(t *testing.T) {
	t.Parallel()
	v := NewVerifier(testSecret, []string{"anon", "authenticated"})
	future := time.Now().Add(time.Hour)

	_, err := v.Verify(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "authenticated", future))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = v.Verify(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "service_role", future))
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	testutil.Contains(t, err.Error(), "service_role")
}
