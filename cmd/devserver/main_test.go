package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
	"github.com/soboure69/My-Portefolio-data-science/internal/logger"
	"github.com/soboure69/My-Portefolio-data-science/internal/models"
	"github.com/soboure69/My-Portefolio-data-science/internal/testutil"
)

func listenAddr(t *testing.T) string {
	t.Helper()

	port, err := testutil.RandomPort()
	require.NoError(t, err, "failed to get random port to start server")
	return fmt.Sprintf("localhost:%d", port)
}

// noEnv keeps tests independent from the developer environment
func noEnv(string) string { return "" }

func Test_run(t *testing.T) {
	t.Run("stop with signal", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
		t.Cleanup(cancel)

		err := run(ctx, noEnv, os.Getwd, []string{
			"--address", listenAddr(t),
			"--log-level", "debug",
			"--secret-key", "secret",
			"--seed-user", "admin@example.com:pwd:admin",
		})

		require.NoError(t, err, "on correct stop should not return error")
	})

	t.Run("serve requests", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		addr := listenAddr(t)
		done := make(chan error, 1)
		go func() {
			done <- run(ctx, noEnv, os.Getwd, []string{
				"--address", addr,
				"--secret-key", "secret",
				"--seed-user", "admin@example.com:pwd:admin",
			})
		}()

		var resp *http.Response
		require.Eventually(t, func() bool {
			var err error
			resp, err = http.Post("http://"+addr+"/auth/login", "application/json",
				strings.NewReader(`{"email": "admin@example.com", "password": "pwd"}`))
			return err == nil
		}, 5*time.Second, 20*time.Millisecond, "server should start listening")
		defer resp.Body.Close() // nolint:errcheck
		require.Equal(t, http.StatusOK, resp.StatusCode, "seeded account must be able to login")

		cancel()
		require.NoError(t, <-done)
	})

	t.Run("stop with config error", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
		t.Cleanup(cancel)

		// Try to run without secret key. Must fail
		err := run(ctx, noEnv, os.Getwd, []string{
			"--address", listenAddr(t),
			"--log-level", "debug",
		})

		require.ErrorContains(t, err, "secret key")
	})

	t.Run("stop with bad flag", func(t *testing.T) {
		err := run(t.Context(), noEnv, os.Getwd, []string{"--unknown"})
		require.Error(t, err)
	})
}

func Test_run_Postgres(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
	t.Cleanup(cancel)

	env := map[string]string{"DATABASE_URI": pg.DSN, "SECRET_KEY": "secret"}
	err := run(ctx, func(key string) string { return env[key] }, os.Getwd, []string{
		"--address", listenAddr(t),
		"--seed-user", "admin@example.com:pwd:admin",
	})

	require.NoError(t, err, "on correct stop should not return error")
}

type registerFunc func(ctx context.Context, account models.Account, password string) (models.Account, error)

func (f registerFunc) Register(ctx context.Context, account models.Account, password string) (models.Account, error) {
	return f(ctx, account, password)
}

func Test_seedAccounts(t *testing.T) {
	l := logger.NewNoOpLogger()

	t.Run("creates accounts with roles", func(t *testing.T) {
		var got []models.Account
		r := registerFunc(func(ctx context.Context, account models.Account, password string) (models.Account, error) {
			require.Equal(t, "pwd", password)
			got = append(got, account)
			return account, nil
		})

		err := seedAccounts(t.Context(), r, []string{"a@example.com:pwd:admin", "b@example.com:pwd"}, l)

		require.NoError(t, err)
		require.Equal(t, []models.Account{
			{Email: "a@example.com", Roles: []string{"admin"}},
			{Email: "b@example.com"},
		}, got)
	})

	t.Run("existing account is skipped", func(t *testing.T) {
		r := registerFunc(func(ctx context.Context, account models.Account, password string) (models.Account, error) {
			return models.Account{}, fmt.Errorf("can't create account. Err: %w", apperrors.ErrUserAlreadyExists)
		})

		err := seedAccounts(t.Context(), r, []string{"a@example.com:pwd"}, l)

		require.NoError(t, err)
	})

	t.Run("other errors stop seeding", func(t *testing.T) {
		r := registerFunc(func(ctx context.Context, account models.Account, password string) (models.Account, error) {
			return models.Account{}, apperrors.ErrStoreNotMigrated
		})

		err := seedAccounts(t.Context(), r, []string{"a@example.com:pwd"}, l)

		require.ErrorIs(t, err, apperrors.ErrStoreNotMigrated)
	})
}
