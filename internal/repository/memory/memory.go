// Package memory keeps accounts and refresh tokens in process memory.
// It backs the dev server when no database is configured
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
	"github.com/soboure69/My-Portefolio-data-science/internal/models"
	"github.com/soboure69/My-Portefolio-data-science/internal/repository"
)

type data struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]models.Account
	emails   map[string]uuid.UUID
	tokens   map[string]models.RefreshToken
}

type Storage struct {
	d *data

	// serializes transactions
	txMu *sync.Mutex
}

func NewStorage() *Storage {
	return &Storage{
		d: &data{
			accounts: make(map[uuid.UUID]models.Account),
			emails:   make(map[string]uuid.UUID),
			tokens:   make(map[string]models.RefreshToken),
		},
		txMu: &sync.Mutex{},
	}
}

func (s *Storage) Account() repository.AccountRepo {
	return &AccountRepo{d: s.d}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{d: s.d}
}

// InTx runs fn with the same storage and restores previous state if fn fails.
// Writes made outside of transactions while fn runs are lost on rollback
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.d.mu.RLock()
	accounts, emails, tokens := maps.Clone(s.d.accounts), maps.Clone(s.d.emails), maps.Clone(s.d.tokens)
	s.d.mu.RUnlock()

	// nested InTx must not deadlock on txMu
	inner := &Storage{d: s.d, txMu: &sync.Mutex{}}
	if err := fn(inner); err != nil {
		s.d.mu.Lock()
		s.d.accounts, s.d.emails, s.d.tokens = accounts, emails, tokens
		s.d.mu.Unlock()
		return err
	}
	return nil
}

type AccountRepo struct {
	d *data
}

func (r *AccountRepo) CreateAccount(ctx context.Context, a models.Account) (models.Account, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.emails[a.Email]; ok {
		return models.Account{}, apperrors.ErrUserAlreadyExists
	}

	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.Roles = slices.Clone(a.Roles)
	a.Permissions = slices.Clone(a.Permissions)

	r.d.accounts[a.ID] = a
	r.d.emails[a.Email] = a.ID
	return cloneAccount(a), nil
}

func (r *AccountRepo) GetAccountByID(ctx context.Context, id uuid.UUID) (models.Account, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	a, ok := r.d.accounts[id]
	if !ok {
		return models.Account{}, apperrors.ErrUserNotFound
	}
	return cloneAccount(a), nil
}

func (r *AccountRepo) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	id, ok := r.d.emails[email]
	if !ok {
		return models.Account{}, apperrors.ErrUserNotFound
	}
	return cloneAccount(r.d.accounts[id]), nil
}

func cloneAccount(a models.Account) models.Account {
	a.Roles = slices.Clone(a.Roles)
	a.Permissions = slices.Clone(a.Permissions)
	return a
}

type RefreshTokenRepo struct {
	d *data
}

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.tokens[token.Token]; ok {
		return models.RefreshToken{}, fmt.Errorf("repo error: refresh token %s already saved", token.ID)
	}
	r.d.tokens[token.Token] = cloneToken(token)
	return cloneToken(token), nil
}

func (r *RefreshTokenRepo) Get(ctx context.Context, tokenString string) (models.RefreshToken, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	t, ok := r.d.tokens[tokenString]
	if !ok {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return cloneToken(t), nil
}

func (r *RefreshTokenRepo) GetAndMarkUsed(ctx context.Context, tokenString string) (models.RefreshToken, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	t, ok := r.d.tokens[tokenString]
	switch {
	case !ok:
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	case t.UsedAt != nil:
		return cloneToken(t), fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenIsUsed)
	}

	now := time.Now()
	t.UsedAt = &now
	r.d.tokens[tokenString] = t
	return cloneToken(t), nil
}

func (r *RefreshTokenRepo) RevokeForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	now := time.Now()
	var revoked int64
	for key, t := range r.d.tokens {
		if t.UserID != userID || t.UsedAt != nil {
			continue
		}
		usedAt := now
		t.UsedAt = &usedAt
		r.d.tokens[key] = t
		revoked++
	}
	return revoked, nil
}

func cloneToken(t models.RefreshToken) models.RefreshToken {
	if t.UsedAt != nil {
		usedAt := *t.UsedAt
		t.UsedAt = &usedAt
	}
	return t
}
