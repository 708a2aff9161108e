package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soboure69/My-Portefolio-data-science/internal/logger"
	"github.com/soboure69/My-Portefolio-data-science/internal/models"
	"github.com/soboure69/My-Portefolio-data-science/internal/repository/memory"
	"github.com/soboure69/My-Portefolio-data-science/internal/service/auth"
	"github.com/soboure69/My-Portefolio-data-science/internal/service/auth/tokenmanager"
)

const testPassword = "StrongEnoughPassword"

type testServer struct {
	url  string
	auth *auth.AuthService
}

// Run http server with the router
// Production AuthService over in-memory storage is used
func newTestServer(t *testing.T) testServer {
	t.Helper()

	storage := memory.NewStorage()
	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"}, storage.Refresh())
	require.NoError(t, err, "token manager should be created without errors")

	s, err := auth.NewService(auth.Config{}, tokenManager, storage.Account())
	require.NoError(t, err, "auth service starting error")

	srv := httptest.NewServer(NewRouter(s, logger.NewNoOpLogger()))
	t.Cleanup(srv.Close)

	return testServer{url: srv.URL, auth: s}
}

func (ts testServer) register(t *testing.T, email string) models.Account {
	t.Helper()

	account, err := ts.auth.Register(t.Context(), models.Account{
		Email:       email,
		Name:        "Nikita",
		Roles:       []string{"admin"},
		Permissions: []string{"read"},
	}, testPassword)
	require.NoError(t, err)
	return account
}

// do sends request and returns status with body
func do(t *testing.T, method string, url string, body string, access string) (int, string) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(data)
}

func login(t *testing.T, ts testServer, email string) models.TokenPair {
	t.Helper()

	code, body := do(t, http.MethodPost, ts.url+"/auth/login", `{"email": "`+email+`", "password": "`+testPassword+`"}`, "")
	require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)

	var pair models.TokenPair
	require.NoError(t, json.Unmarshal([]byte(body), &pair))
	require.NotEmpty(t, pair.Token)
	require.NotEmpty(t, pair.RefreshToken)
	return pair
}

func Test_AuthHandler(t *testing.T) {
	t.Parallel()

	t.Run("login ok", func(t *testing.T) {
		ts := newTestServer(t)
		ts.register(t, "nk@example.com")

		pair := login(t, ts, "nk@example.com")

		require.Equal(t, 3, strings.Count(pair.Token, ".")+1, "access token should be a jwt")
	})

	t.Run("login failed", func(t *testing.T) {
		ts := newTestServer(t)
		ts.register(t, "nk@example.com")

		for _, data := range []string{
			`{"email": "nk@example.com", "password": "WrongPassword"}`,
			`{"email": "nobody@example.com", "password": "WrongPassword"}`,
		} {
			code, body := do(t, http.MethodPost, ts.url+"/auth/login", data, "")

			require.Equalf(t, http.StatusUnauthorized, code, "not expected code. Body: %s", body)
			require.JSONEq(t, `
				{
					"error": "service_error",
					"message": "Invalid credentials"
				}`, body)
		}
	})

	t.Run("login validation", func(t *testing.T) {
		ts := newTestServer(t)

		code, body := do(t, http.MethodPost, ts.url+"/auth/login", `{"email": "not-an-email"}`, "")

		require.Equalf(t, http.StatusBadRequest, code, "not expected code. Body: %s", body)
		require.JSONEq(t, `
			{
				"error": "validation_failed",
				"message": "Request validation failed",
				"fields": {
					"email": "Must be a valid email address",
					"password": "This field is required"
				}
			}`, body)
	})

	t.Run("login wrong method", func(t *testing.T) {
		ts := newTestServer(t)

		code, _ := do(t, http.MethodGet, ts.url+"/auth/login", "", "")

		require.Equal(t, http.StatusMethodNotAllowed, code)
	})

	t.Run("register ok", func(t *testing.T) {
		ts := newTestServer(t)

		code, body := do(t, http.MethodPost, ts.url+"/auth/register",
			`{"email": "nk@example.com", "password": "`+testPassword+`", "name": "Nikita"}`, "")

		require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
		var pair models.TokenPair
		require.NoError(t, json.Unmarshal([]byte(body), &pair))
		require.NotEmpty(t, pair.Token)

		code, body = do(t, http.MethodGet, ts.url+"/auth/me", "", pair.Token)
		require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
		require.Contains(t, body, `"name":"Nikita"`)
	})

	t.Run("register existed account fails", func(t *testing.T) {
		ts := newTestServer(t)
		ts.register(t, "nk@example.com")

		code, body := do(t, http.MethodPost, ts.url+"/auth/register",
			`{"email": "nk@example.com", "password": "`+testPassword+`"}`, "")

		require.Equalf(t, http.StatusConflict, code, "not expected code. Body: %s", body)
		require.JSONEq(t, `
			{
				"error": "service_error",
				"message": "User already exists"
			}`, body)
	})

	t.Run("refresh token ok", func(t *testing.T) {
		ts := newTestServer(t)
		ts.register(t, "nk@example.com")
		first := login(t, ts, "nk@example.com")

		code, body := do(t, http.MethodPost, ts.url+"/auth/refresh", `{"refresh_token": "`+first.RefreshToken+`"}`, "")
		require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)

		var second models.TokenPair
		require.NoError(t, json.Unmarshal([]byte(body), &second))
		require.NotEqual(t, first.RefreshToken, second.RefreshToken, "refresh token should be changed after refresh")
		require.NotEqual(t, first.Token, second.Token, "access token should be changed after refresh")

		code, body = do(t, http.MethodPost, ts.url+"/auth/refresh", `{"refresh_token": "`+first.RefreshToken+`"}`, "")
		require.Equalf(t, http.StatusUnauthorized, code, "used refresh token must be rejected. Body: %s", body)
		require.JSONEq(t, `{"error": "service_error", "message": "Refresh token is used"}`, body)
	})

	t.Run("refresh unknown token", func(t *testing.T) {
		ts := newTestServer(t)

		code, body := do(t, http.MethodPost, ts.url+"/auth/refresh", `{"refresh_token": "unknown"}`, "")

		require.Equalf(t, http.StatusUnauthorized, code, "not expected code. Body: %s", body)
		require.JSONEq(t, `{"error": "service_error", "message": "Refresh token not found"}`, body)
	})

	t.Run("me", func(t *testing.T) {
		ts := newTestServer(t)
		account := ts.register(t, "nk@example.com")
		pair := login(t, ts, "nk@example.com")

		code, body := do(t, http.MethodGet, ts.url+"/auth/me", "", pair.Token)

		require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
		require.JSONEq(t, `{
			"id": "`+account.ID.String()+`",
			"email": "nk@example.com",
			"name": "Nikita",
			"roles": ["admin"],
			"permissions": ["read"]
		}`, body)
	})

	t.Run("me unauthorized", func(t *testing.T) {
		ts := newTestServer(t)

		for _, access := range []string{"", "garbage"} {
			code, body := do(t, http.MethodGet, ts.url+"/auth/me", "", access)

			require.Equalf(t, http.StatusUnauthorized, code, "not expected code. Body: %s", body)
		}
	})

	t.Run("logout revokes refresh tokens", func(t *testing.T) {
		ts := newTestServer(t)
		ts.register(t, "nk@example.com")
		pair := login(t, ts, "nk@example.com")

		code, body := do(t, http.MethodPost, ts.url+"/auth/logout", "", pair.Token)
		require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
		require.JSONEq(t, `{"message": "Logged out"}`, body)

		code, _ = do(t, http.MethodPost, ts.url+"/auth/refresh", `{"refresh_token": "`+pair.RefreshToken+`"}`, "")
		require.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("logout requires token", func(t *testing.T) {
		ts := newTestServer(t)

		code, _ := do(t, http.MethodPost, ts.url+"/auth/logout", "", "")

		require.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("healthz", func(t *testing.T) {
		ts := newTestServer(t)

		code, _ := do(t, http.MethodGet, ts.url+"/healthz", "", "")

		require.Equal(t, http.StatusNoContent, code)
	})
}
