package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
	"github.com/soboure69/My-Portefolio-data-science/internal/testutil"
)

func TestStore(t *testing.T) {
	t.Parallel()

	rc := testutil.StartRedisContainer(t)
	t.Cleanup(rc.Terminate)

	s, err := Open(t.Context(), rc.DSN+"/0?prefix=folio:&ttl=1h")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(t.Context(), "absent")
		require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
	})

	t.Run("set get delete", func(t *testing.T) {
		require.NoError(t, s.Set(t.Context(), "auth_token", "jwt"))

		value, err := s.Get(t.Context(), "auth_token")
		require.NoError(t, err)
		require.Equal(t, "jwt", value)

		require.NoError(t, s.Delete(t.Context(), "auth_token"))
		require.NoError(t, s.Delete(t.Context(), "auth_token"))

		_, err = s.Get(t.Context(), "auth_token")
		require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
	})

	t.Run("keys are prefixed and expire", func(t *testing.T) {
		require.NoError(t, s.Set(t.Context(), "refresh_token", "opaque"))

		exists, err := s.client.Exists(t.Context(), "folio:refresh_token").Result()
		require.NoError(t, err)
		require.EqualValues(t, 1, exists)

		ttl, err := s.client.TTL(t.Context(), "folio:refresh_token").Result()
		require.NoError(t, err)
		require.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 5)
	})
}

func TestOpen_BadDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(t.Context(), "redis://localhost:6379/0?ttl=forever")
	require.Error(t, err)
}
