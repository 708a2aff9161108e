package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/soboure69/My-Portefolio-data-science/internal/handlers/middleware"
	"github.com/soboure69/My-Portefolio-data-science/internal/logger"
	"github.com/soboure69/My-Portefolio-data-science/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(authService authService, logger logger.Logger) http.Handler {
	withAuth := middleware.AuthMiddleware(authService)

	apiauth := http.NewServeMux()

	apiauth.Handle("POST /register", handleRegister(authService, logger))
	apiauth.Handle("POST /login", handleLogin(authService, logger))
	apiauth.Handle("POST /refresh", handleTokenRefresh(authService, logger))
	apiauth.Handle("POST /logout", withAuth(handleLogout(authService, logger)))
	apiauth.Handle("GET /me", withAuth(handleUserMe()))

	root := http.NewServeMux()
	root.Handle("/auth/", http.StripPrefix("/auth", apiauth))
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Register account with password
	// Has to return apperrors.ErrUserAlreadyExists if account already exists
	Register(ctx context.Context, account models.Account, password string) (models.Account, error)

	// Login with email and password
	// Has to return apperrors.ErrInvalidCredentials if email or password do not match
	Login(ctx context.Context, email string, password string) (models.IssuedPair, error)

	// Refresh tokens using refresh token
	// If token expired: has to return apperrors.ErrRefreshTokenExpired
	// If token not found: has to return apperrors.ErrRefreshTokenNotFound
	// If token used: has to return apperrors.ErrRefreshTokenIsUsed
	Refresh(ctx context.Context, refresh string) (models.IssuedPair, error)

	// Revoke all refresh tokens of the account
	Logout(ctx context.Context, userID uuid.UUID) error

	// Get request and return account if it authenticated or error
	Auth(ctx context.Context, r *http.Request) (models.Account, error)
}
