// Package auth gates the OTP endpoints behind a caller token. The gateway
// does not mint tokens; it only checks HS256 JWTs signed with a shared
// secret, such as a project's anon or user keys.
package auth

import (
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the caller claims the gateway understands.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates caller JWTs.
type Verifier struct {
	secret       []byte
	allowedRoles []string
}

// NewVerifier creates a Verifier for HS256 tokens signed with secret. When
// allowedRoles is non-empty, the token's role claim must be one of them.
func NewVerifier(secret string, allowedRoles []string) *Verifier {
	return &Verifier{secret: []byte(secret), allowedRoles: allowedRoles}
}

// Verify parses and validates tokenString, returning its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if len(v.allowedRoles) > 0 && !slices.Contains(v.allowedRoles, claims.Role) {
		return nil, fmt.Errorf("%w: role %q not allowed", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}
