package auth

import (
	"time"
)

const DefaultRefreshThreshold = 300 * time.Second

type Config struct {
	// Token store keys
	TokenKey        string `json:"token_key" yaml:"token_key" validate:"required"`
	RefreshTokenKey string `json:"refresh_token_key" yaml:"refresh_token_key" validate:"required"`
	UserKey         string `json:"user_key" yaml:"user_key" validate:"required"`

	// Header the token is sent in: "<TokenHeader>: <TokenPrefix><token>"
	TokenHeader string `json:"token_header" yaml:"token_header" validate:"required"`
	TokenPrefix string `json:"token_prefix" yaml:"token_prefix"`

	LoginEndpoint   string `json:"login_endpoint" yaml:"login_endpoint" validate:"required"`
	RefreshEndpoint string `json:"refresh_endpoint" yaml:"refresh_endpoint" validate:"required"`
	LogoutEndpoint  string `json:"logout_endpoint" yaml:"logout_endpoint" validate:"required"`
	UserEndpoint    string `json:"user_endpoint" yaml:"user_endpoint" validate:"required"`

	// Refresh token before request if it expires within RefreshThreshold
	AutoRefresh      bool          `json:"auto_refresh" yaml:"auto_refresh"`
	RefreshThreshold time.Duration `json:"refresh_threshold" yaml:"refresh_threshold" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		TokenKey:         "auth_token",
		RefreshTokenKey:  "refresh_token",
		UserKey:          "user_data",
		TokenHeader:      "Authorization",
		TokenPrefix:      "Bearer ",
		LoginEndpoint:    "/auth/login",
		RefreshEndpoint:  "/auth/refresh",
		LogoutEndpoint:   "/auth/logout",
		UserEndpoint:     "/auth/me",
		AutoRefresh:      true,
		RefreshThreshold: DefaultRefreshThreshold,
	}
}
