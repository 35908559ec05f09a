package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims are the claims the console reads from an access credential.
// The HMS backend issues HS256 JWTs with a role claim next to the registered ones.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role,omitempty"`
}

// ParseUnverified decodes an access token without checking its signature.
//
// The console does not hold the signing key and must never treat the result
// as proof of identity; it is used only to learn when the credential expires.
func ParseUnverified(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
	return claims, nil
}

// TokenLifetime returns how long the access token remains valid from now.
// A token that has already expired yields a zero duration and no error.
func TokenLifetime(raw string, now time.Time) (time.Duration, error) {
	claims, err := ParseUnverified(raw)
	if err != nil {
		return 0, err
	}
	if claims.ExpiresAt == nil {
		return 0, ErrTokenNoExpiry
	}
	left := claims.ExpiresAt.Sub(now)
	if left < 0 {
		return 0, nil
	}
	return left, nil
}
