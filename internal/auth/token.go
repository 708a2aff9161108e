package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
)

// TokenExpiry returns "exp" claim of JWT.
//
// Signature is NOT verified: the client has no key and only uses expiry to decide
// when to refresh. Never use it to trust token contents.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("parse token expiry: %w", err)
	}
	if exp == nil {
		return time.Time{}, apperrors.ErrTokenNoExpiry
	}

	return exp.Time, nil
}

// expiresWithin reports whether token expires in less than threshold from now.
// Undecodable tokens or tokens without expiry never do
func expiresWithin(token string, threshold time.Duration, now time.Time) bool {
	exp, err := TokenExpiry(token)
	if err != nil {
		return false
	}
	return exp.Sub(now) < threshold
}
