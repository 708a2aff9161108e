package apperrors

import (
	"errors"
)

var (
	// Client side
	ErrRequestCanceled    = errors.New("request canceled")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrNoRefreshToken     = errors.New("no refresh token available")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidTokenPair   = errors.New("server returned invalid token pair")
	ErrTokenNoExpiry      = errors.New("token has no expiry claim")

	// Token store
	ErrKeyNotFound        = errors.New("key not found")
	ErrStoreNotMigrated   = errors.New("store schema is not migrated")
	ErrUnsupportedStorage = errors.New("unsupported storage scheme")

	// Reference auth API
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenIsUsed   = errors.New("refresh token is used")
	ErrRefreshTokenExpired  = errors.New("refresh token is expired")
)
