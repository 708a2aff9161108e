package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
)

func signToken(t *testing.T, claims jwt.Claims, key string) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	t.Run("signature is not checked", func(t *testing.T) {
		token := signToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}, "unknown-key")

		got, err := TokenExpiry(token)

		require.NoError(t, err)
		require.True(t, exp.Equal(got))
	})

	t.Run("no exp claim", func(t *testing.T) {
		token := signToken(t, jwt.RegisteredClaims{Subject: "nk"}, "key")

		_, err := TokenExpiry(token)

		require.ErrorIs(t, err, apperrors.ErrTokenNoExpiry)
	})

	t.Run("not a jwt", func(t *testing.T) {
		_, err := TokenExpiry("opaque-token")
		require.Error(t, err)
	})
}

func TestExpiresWithin(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	token := func(exp time.Time) string {
		return signToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}, "key")
	}

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"far from expiry", token(now.Add(time.Hour)), false},
		{"within threshold", token(now.Add(time.Minute)), true},
		{"already expired", token(now.Add(-time.Minute)), true},
		{"undecodable never expires", "garbage", false},
		{"no exp never expires", signToken(t, jwt.RegisteredClaims{}, "key"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, expiresWithin(tt.token, 5*time.Minute, now))
		})
	}
}
