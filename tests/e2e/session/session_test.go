package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soboure69/My-Portefolio-data-science/internal/apiclient"
	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
	"github.com/soboure69/My-Portefolio-data-science/internal/auth"
	"github.com/soboure69/My-Portefolio-data-science/internal/models"
	"github.com/soboure69/My-Portefolio-data-science/internal/repository/memory"
	"github.com/soboure69/My-Portefolio-data-science/internal/storage"
	memorystore "github.com/soboure69/My-Portefolio-data-science/internal/storage/memory"
	"github.com/soboure69/My-Portefolio-data-science/internal/testutil"
	"github.com/soboure69/My-Portefolio-data-science/tests/e2e"
)

const (
	email   = "nk@example.com"
	meURL   = "/auth/me"
	refresh = "/auth/refresh"
	logout  = "/auth/logout"
)

type clientSide struct {
	session   *auth.Session
	store     storage.Store
	transport *e2e.RecordingTransport
}

func newClientSide(t *testing.T, srvURL string, opts ...auth.Option) clientSide {
	t.Helper()

	transport := &e2e.RecordingTransport{}
	cfg := apiclient.DefaultConfig()
	cfg.BaseURL = srvURL

	client, err := apiclient.New(cfg, apiclient.WithHTTPClient(&http.Client{Transport: transport, Timeout: 5 * time.Second}))
	require.NoError(t, err)

	store := memorystore.New()
	session, err := auth.New(client, store, auth.DefaultConfig(), opts...)
	require.NoError(t, err)

	return clientSide{session: session, store: store, transport: transport}
}

func (c clientSide) stored(t *testing.T, key string) string {
	t.Helper()

	value, err := c.store.Get(t.Context(), key)
	if errors.Is(err, apperrors.ErrKeyNotFound) {
		return ""
	}
	require.NoError(t, err)
	return value
}

func (c clientSide) requireCleared(t *testing.T) {
	t.Helper()

	for _, key := range []string{"auth_token", "refresh_token", "user_data"} {
		require.Empty(t, c.stored(t, key), "%s should be removed from store", key)
	}
	require.Equal(t, auth.StateAnonymous, c.session.State())
}

func login(t *testing.T, c clientSide) *models.User {
	t.Helper()

	user, err := c.session.Login(t.Context(), models.Credentials{Email: email, Password: e2e.TestPassword})
	require.NoError(t, err)
	return user
}

func Test_Session_Postgres(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	e2e.ServeWithTx(pg.Pool, t, func(tx pgx.Tx, srvURL string, s e2e.Services) {
		account := s.Register(t, email, "admin")

		t.Run("login persists pair and profile", func(t *testing.T) {
			c := newClientSide(t, srvURL)

			user := login(t, c)

			assert.Equal(t, account.ID.String(), user.ID)
			assert.Equal(t, models.StringList{"admin"}, user.Roles)
			assert.Equal(t, auth.StateAuthenticated, c.session.State())
			assert.Equal(t, c.session.Token(), c.stored(t, "auth_token"))
			assert.NotEmpty(t, c.stored(t, "refresh_token"))
			assert.Contains(t, c.stored(t, "user_data"), email)
			assert.True(t, c.session.HasRole("admin"))

			calls := c.transport.Calls()
			require.Len(t, calls, 2, "login then profile")
			assert.Equal(t, "/auth/login", calls[0].Path)
			assert.Empty(t, calls[0].Authorization, "login is sent without token")
			assert.Equal(t, meURL, calls[1].Path)
			assert.Equal(t, "Bearer "+c.session.Token(), calls[1].Authorization)
			assert.Len(t, strings.Split(strings.TrimPrefix(calls[1].Authorization, "Bearer "), "."), 3, "token is jwt")
		})

		t.Run("invalid login stays anonymous", func(t *testing.T) {
			c := newClientSide(t, srvURL)

			_, err := c.session.Login(t.Context(), models.Credentials{Email: email, Password: "wrong password"})

			require.True(t, apiclient.IsUnauthorized(err), "server error is returned, got %v", err)
			var httpErr *apiclient.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, "Invalid credentials", httpErr.Message)
			c.requireCleared(t)
		})

		t.Run("refresh rotates tokens once", func(t *testing.T) {
			c := newClientSide(t, srvURL)
			login(t, c)
			oldRefresh := c.stored(t, "refresh_token")

			require.NoError(t, c.session.Refresh(t.Context()))

			newRefresh := c.stored(t, "refresh_token")
			require.NotEqual(t, oldRefresh, newRefresh)

			var used bool
			err := tx.QueryRow(t.Context(), "SELECT used_at IS NOT NULL FROM refresh_tokens WHERE token = $1", oldRefresh).Scan(&used)
			require.NoError(t, err, "old refresh token stays in db")
			require.True(t, used, "old refresh token is marked used")

			// The used token is rejected by the server
			other := newClientSide(t, srvURL)
			require.NoError(t, other.session.SetToken(t.Context(), c.session.Token(), oldRefresh))
			err = other.session.Refresh(t.Context())
			require.True(t, apiclient.IsUnauthorized(err), "used refresh token must be rejected, got %v", err)
			require.Equal(t, auth.StateExpired, other.session.State())
		})

		t.Run("logout revokes refresh tokens", func(t *testing.T) {
			c := newClientSide(t, srvURL)
			login(t, c)
			refreshToken := c.stored(t, "refresh_token")

			require.NoError(t, c.session.Logout(t.Context()))

			c.requireCleared(t)
			assert.Equal(t, 1, c.transport.Count(logout))

			_, err := s.AuthService.Refresh(t.Context(), refreshToken)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenIsUsed)
		})
	})
}

func Test_Session_Replay(t *testing.T) {
	t.Parallel()

	e2e.Serve(t, memory.NewStorage(), 0, func(srvURL string, s e2e.Services) {
		s.Register(t, email)

		t.Run("401 is replayed once with new token", func(t *testing.T) {
			c := newClientSide(t, srvURL)
			login(t, c)
			require.NoError(t, c.session.SetToken(t.Context(), "not-a-valid-token", ""))
			c.transport.Reset()

			resp, err := c.session.Do(t.Context(), apiclient.Request{Method: http.MethodGet, Endpoint: meURL})

			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.Status)
			assert.Equal(t, 2, c.transport.Count(meURL), "original request and one replay")
			assert.Equal(t, 1, c.transport.Count(refresh))

			calls := c.transport.Calls()
			assert.Equal(t, "Bearer not-a-valid-token", calls[0].Authorization)
			assert.Equal(t, "Bearer "+c.session.Token(), calls[len(calls)-1].Authorization)
			assert.Equal(t, auth.StateAuthenticated, c.session.State())
		})

		t.Run("failed refresh ends session", func(t *testing.T) {
			c := newClientSide(t, srvURL)
			login(t, c)
			require.NoError(t, c.session.SetToken(t.Context(), "not-a-valid-token", "unknown-refresh-token"))
			c.transport.Reset()

			_, err := c.session.Do(t.Context(), apiclient.Request{Method: http.MethodGet, Endpoint: meURL})

			require.Error(t, err)
			require.True(t, apiclient.IsUnauthorized(err))
			assert.Equal(t, 1, c.transport.Count(meURL), "nothing to replay without new token")
			assert.Equal(t, 1, c.transport.Count(refresh))
			c.requireCleared(t)
		})

		t.Run("refresh endpoint is not replayed", func(t *testing.T) {
			c := newClientSide(t, srvURL)

			_, err := c.session.Do(t.Context(), apiclient.Request{
				Method:   http.MethodPost,
				Endpoint: refresh,
				Payload:  models.RefreshRequest{RefreshToken: "unknown"},
			})

			require.True(t, apiclient.IsUnauthorized(err))
			assert.Equal(t, 1, c.transport.Count(refresh))
		})

		t.Run("logout clears data when server call fails", func(t *testing.T) {
			c := newClientSide(t, srvURL)
			login(t, c)
			require.NoError(t, c.session.SetToken(t.Context(), "not-a-valid-token", ""))

			err := c.session.Logout(t.Context())

			require.NoError(t, err, "server failure is only logged")
			assert.Equal(t, 1, c.transport.Count(logout))
			c.requireCleared(t)
		})
	})
}

func Test_Session_ProactiveRefresh(t *testing.T) {
	t.Parallel()

	e2e.Serve(t, memory.NewStorage(), 10*time.Minute, func(srvURL string, s e2e.Services) {
		s.Register(t, email)

		// The clock runs 6 minutes ahead until new pair arrives, so only the first token looks expiring
		var ahead atomic.Bool
		clock := func() time.Time {
			if ahead.Load() {
				return time.Now().Add(6 * time.Minute)
			}
			return time.Now()
		}

		c := newClientSide(t, srvURL, auth.WithClock(clock))
		login(t, c)
		oldToken := c.session.Token()

		c.transport.AfterResponse = func(req *http.Request) {
			if req.URL.Path == refresh {
				ahead.Store(false)
			}
		}
		ahead.Store(true)
		c.transport.Reset()

		const callers = 5
		var wg sync.WaitGroup
		errs := make([]error, callers)
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// Different payloads, so requests are not de-duplicated
				_, errs[i] = c.session.Do(context.Background(), apiclient.Request{
					Method:   http.MethodGet,
					Endpoint: meURL,
					Payload:  map[string]string{"caller": fmt.Sprint(i)},
				})
			}()
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}
		require.Equal(t, 1, c.transport.Count(refresh), "concurrent callers share one refresh")
		require.Equal(t, callers, c.transport.Count(meURL), "no request was replayed")
		require.NotEqual(t, oldToken, c.session.Token())
		require.Equal(t, c.session.Token(), c.stored(t, "auth_token"), "refreshed token is persisted")
	})
}
