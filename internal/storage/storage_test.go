package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
)

func TestOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		name string
		dsn  string
	}{
		{"memory", "memory://"},
		{"file", "file://" + filepath.Join(dir, "session.json")},
		{"sqlite", "sqlite://" + filepath.Join(dir, "session.db")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(t.Context(), tt.dsn)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })

			require.NoError(t, s.Set(t.Context(), "auth_token", "jwt"))
			value, err := s.Get(t.Context(), "auth_token")
			require.NoError(t, err)
			require.Equal(t, "jwt", value)

			require.NoError(t, s.Delete(t.Context(), "auth_token"))
			_, err = s.Get(t.Context(), "auth_token")
			require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
		})
	}

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := Open(t.Context(), "ftp://example.com")
		require.ErrorIs(t, err, apperrors.ErrUnsupportedStorage)
	})
}
