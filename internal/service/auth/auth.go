package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
	"github.com/soboure69/My-Portefolio-data-science/internal/models"
	"github.com/soboure69/My-Portefolio-data-science/internal/repository"
)

const (
	defaultAccessHeaderName = "Authorization"
	defaultAccessAuthScheme = "Bearer"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type TokenManager interface {
	GeneratePair(ctx context.Context, account models.Account) (models.IssuedPair, error)
	UseRefresh(ctx context.Context, refresh string) (models.RefreshToken, error)
	RevokeAll(ctx context.Context, userID uuid.UUID) error
	ParseAccess(ctx context.Context, access string) (uuid.UUID, error)
}

type Config struct {
	// Hasher to use during registration or login process
	// BcryptHasher if not set
	Hasher PasswordHasher

	// Header to read access token from and its auth scheme
	AccessHeaderName string
	AccessAuthScheme string
}

type AuthService struct {
	hasher PasswordHasher
	tokens TokenManager
	repo   repository.AccountRepo

	accessHeaderName string
	accessAuthScheme string

	// compared on unknown email so login takes the same time for any input
	dummyHash string
}

func NewService(cfg Config, tokens TokenManager, repo repository.AccountRepo) (*AuthService, error) {
	s := &AuthService{
		hasher:           cfg.Hasher,
		tokens:           tokens,
		repo:             repo,
		accessHeaderName: cfg.AccessHeaderName,
		accessAuthScheme: cfg.AccessAuthScheme,
	}
	if s.hasher == nil {
		s.hasher = DefaultHasher
	}
	if s.accessHeaderName == "" {
		s.accessHeaderName = defaultAccessHeaderName
	}
	if s.accessAuthScheme == "" {
		s.accessAuthScheme = defaultAccessAuthScheme
	}

	hash, err := s.hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("hasher is not usable. Err: %w", err)
	}
	s.dummyHash = hash

	return s, nil
}

// Register creates account with hashed password
// Returns apperrors.ErrUserAlreadyExists if email is taken
func (s *AuthService) Register(ctx context.Context, account models.Account, password string) (models.Account, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.Account{}, fmt.Errorf("can't use this as password, Err: %w", err)
	}
	account.HashedPassword = hash

	created, err := s.repo.CreateAccount(ctx, account)
	if err != nil {
		return models.Account{}, fmt.Errorf("can't create account. Err: %w", err)
	}
	return created, nil
}

// Login checks credentials and issues new token pair
// Unknown email and wrong password both return apperrors.ErrInvalidCredentials
func (s *AuthService) Login(ctx context.Context, email string, password string) (models.IssuedPair, error) {
	account, err := s.repo.GetAccountByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = s.hasher.Compare(s.dummyHash, password)
		return models.IssuedPair{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.IssuedPair{}, fmt.Errorf("can't get account. Err: %w", err)
	}

	if err := s.hasher.Compare(account.HashedPassword, password); err != nil {
		return models.IssuedPair{}, apperrors.ErrInvalidCredentials
	}

	pair, err := s.tokens.GeneratePair(ctx, account)
	if err != nil {
		return models.IssuedPair{}, fmt.Errorf("token could not be generated. Err: %w", err)
	}
	return pair, nil
}

// Refresh rotates refresh token: the given one becomes used and a new pair is issued
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.IssuedPair, error) {
	token, err := s.tokens.UseRefresh(ctx, refresh)
	if err != nil {
		return models.IssuedPair{}, err
	}

	account, err := s.repo.GetAccountByID(ctx, token.UserID)
	if err != nil {
		return models.IssuedPair{}, fmt.Errorf("refresh token owner: %w", err)
	}

	pair, err := s.tokens.GeneratePair(ctx, account)
	if err != nil {
		return models.IssuedPair{}, fmt.Errorf("token could not be generated. Err: %w", err)
	}
	return pair, nil
}

// Logout revokes every refresh token of the account
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.tokens.RevokeAll(ctx, userID)
}

// Auth reads access token from request header and returns its account
func (s *AuthService) Auth(ctx context.Context, r *http.Request) (models.Account, error) {
	access, err := s.readAccess(r)
	if err != nil {
		return models.Account{}, err
	}

	userID, err := s.tokens.ParseAccess(ctx, access)
	if err != nil {
		return models.Account{}, fmt.Errorf("%w: %w", apperrors.ErrNotAuthenticated, err)
	}

	account, err := s.repo.GetAccountByID(ctx, userID)
	if err != nil {
		return models.Account{}, fmt.Errorf("%w: %w", apperrors.ErrNotAuthenticated, err)
	}
	return account, nil
}

func (s *AuthService) readAccess(r *http.Request) (string, error) {
	header := r.Header.Get(s.accessHeaderName)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, s.accessAuthScheme) || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: no %s token in %s header", apperrors.ErrNotAuthenticated, s.accessAuthScheme, s.accessHeaderName)
	}
	return strings.TrimSpace(token), nil
}
