package e2e

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/soboure69/My-Portefolio-data-science/internal/handlers"
	"github.com/soboure69/My-Portefolio-data-science/internal/logger"
	"github.com/soboure69/My-Portefolio-data-science/internal/models"
	"github.com/soboure69/My-Portefolio-data-science/internal/repository"
	"github.com/soboure69/My-Portefolio-data-science/internal/repository/postgres"
	"github.com/soboure69/My-Portefolio-data-science/internal/service/auth"
	"github.com/soboure69/My-Portefolio-data-science/internal/service/auth/tokenmanager"
	"github.com/soboure69/My-Portefolio-data-science/internal/testutil"
)

const (
	TestSecret   = "test-secret"
	TestPassword = "StrongEnoughPassword"
)

type Services struct {
	AuthService *auth.AuthService
	Storage     repository.Storage
}

// Register account with TestPassword
func (s Services) Register(t *testing.T, email string, roles ...string) models.Account {
	t.Helper()

	account, err := s.AuthService.Register(t.Context(), models.Account{Email: email, Name: "Nikita", Roles: roles}, TestPassword)
	require.NoError(t, err, "account should be registered")
	return account
}

// Serve runs the reference auth API over storage
func Serve(t *testing.T, storage repository.Storage, accessTTL time.Duration, fn func(srvURL string, services Services)) {
	t.Helper()

	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: TestSecret, AccessTTL: accessTTL}, storage.Refresh())
	require.NoError(t, err, "token manager should be created without errors")

	as, err := auth.NewService(auth.Config{}, tokenManager, storage.Account())
	require.NoError(t, err, "auth service starting error")

	srv := httptest.NewServer(handlers.NewRouter(as, logger.NewNoOpLogger()))
	defer srv.Close()

	fn(srv.URL, Services{AuthService: as, Storage: storage})
}

// Create db transaction and run server in with that connection (one connection cause one transaction)
// The created transaction passed to inner function: so, you can safely use testutil.WithTx with it
func ServeWithTx(dbpool *pgxpool.Pool, t *testing.T, fn func(tx pgx.Tx, srvURL string, services Services)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		Serve(t, postgres.NewStorage(tx), 0, func(srvURL string, services Services) {
			fn(tx, srvURL, services)
		})
	})
}

// Call is one request seen by RecordingTransport
type Call struct {
	Method        string
	Path          string
	Authorization string
}

// RecordingTransport remembers every request passing through it
type RecordingTransport struct {
	Base http.RoundTripper

	// Called after response received, before the client sees it
	AfterResponse func(req *http.Request)

	mu    sync.Mutex
	calls []Call
}

func (rt *RecordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.mu.Lock()
	rt.calls = append(rt.calls, Call{
		Method:        req.Method,
		Path:          req.URL.Path,
		Authorization: req.Header.Get("Authorization"),
	})
	rt.mu.Unlock()

	base := rt.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err == nil && rt.AfterResponse != nil {
		rt.AfterResponse(req)
	}
	return resp, err
}

func (rt *RecordingTransport) Calls() []Call {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]Call(nil), rt.calls...)
}

// Count returns number of calls to path
func (rt *RecordingTransport) Count(path string) int {
	n := 0
	for _, c := range rt.Calls() {
		if c.Path == path {
			n++
		}
	}
	return n
}

func (rt *RecordingTransport) Reset() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.calls = nil
}
