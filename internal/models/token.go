package models

import (
	"time"

	"github.com/google/uuid"
)

// Credentials sent to the login endpoint
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenPair is the wire format of login and refresh responses
type TokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshRequest is the wire format of refresh request body
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// RefreshToken record stored by the reference auth API
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time // nil if token not used
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// IssuedPair is what the token manager issues on login or refresh
type IssuedPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

func (p IssuedPair) Wire() TokenPair {
	return TokenPair{Token: p.Access.Value, RefreshToken: p.Refresh.Value}
}
