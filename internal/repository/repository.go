package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/soboure69/My-Portefolio-data-science/internal/models"
)

// Account repository interface
type AccountRepo interface {
	// Create account. ID and CreatedAt are set by repository
	// If account with the email exists already has to return apperrors.ErrUserAlreadyExists
	CreateAccount(ctx context.Context, account models.Account) (models.Account, error)

	// Get account by it's id or email
	// If account not found must return apperrors.ErrUserNotFound
	GetAccountByID(ctx context.Context, id uuid.UUID) (models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (models.Account, error)
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Save token in repository
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token if it exists, even expired or used one
	// If token not found must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, tokenString string) (models.RefreshToken, error)

	// Mark token used and return it
	// If the token is already used, must not overwrite 'UsedAt' and must return apperrors.ErrRefreshTokenIsUsed
	GetAndMarkUsed(ctx context.Context, tokenString string) (models.RefreshToken, error)

	// Mark every not used token of user as used. Returns number of revoked tokens
	RevokeForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

type Storage interface {
	Account() AccountRepo
	Refresh() RefreshTokenRepo

	// Run fn in a transaction. Storage passed to fn must be used inside fn only
	InTx(ctx context.Context, fn func(Storage) error) error
}
