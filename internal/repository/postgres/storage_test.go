package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
	"github.com/soboure69/My-Portefolio-data-science/internal/models"
	"github.com/soboure69/My-Portefolio-data-science/internal/repository"
	"github.com/soboure69/My-Portefolio-data-science/internal/testutil"
)

func TestStorage_InTx(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	account := models.Account{Email: "tx@example.com", HashedPassword: "hash"}

	t.Run("commit", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)

			err := s.InTx(t.Context(), func(s repository.Storage) error {
				_, err := s.Account().CreateAccount(t.Context(), account)
				return err
			})
			require.NoError(t, err)

			_, err = s.Account().GetAccountByEmail(t.Context(), account.Email)
			require.NoError(t, err, "account must be visible after commit")
		})
	})

	t.Run("rollback on error", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)
			errBoom := errors.New("boom")

			err := s.InTx(t.Context(), func(s repository.Storage) error {
				_, err := s.Account().CreateAccount(t.Context(), account)
				require.NoError(t, err)
				return errBoom
			})
			require.ErrorIs(t, err, errBoom)

			_, err = s.Account().GetAccountByEmail(t.Context(), account.Email)
			require.ErrorIs(t, err, apperrors.ErrUserNotFound, "account must be rolled back")
		})
	})
}
