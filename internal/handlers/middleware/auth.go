package middleware

import (
	"context"
	"net/http"

	"github.com/soboure69/My-Portefolio-data-science/internal/handlers/render"
	"github.com/soboure69/My-Portefolio-data-science/internal/handlers/userctx"
	"github.com/soboure69/My-Portefolio-data-science/internal/models"
)

type authService interface {
	Auth(ctx context.Context, r *http.Request) (models.Account, error)
}

// AuthMiddleware rejects requests without valid access token with 401.
// Authenticated account is available with userctx.FromContext
func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, err := as.Auth(r.Context(), r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="folio"`)
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := userctx.New(r.Context(), account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
