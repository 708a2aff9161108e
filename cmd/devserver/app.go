package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
	"github.com/soboure69/My-Portefolio-data-science/internal/db"
	"github.com/soboure69/My-Portefolio-data-science/internal/handlers"
	"github.com/soboure69/My-Portefolio-data-science/internal/logger"
	"github.com/soboure69/My-Portefolio-data-science/internal/models"
	"github.com/soboure69/My-Portefolio-data-science/internal/repository"
	"github.com/soboure69/My-Portefolio-data-science/internal/repository/memory"
	"github.com/soboure69/My-Portefolio-data-science/internal/repository/postgres"
	"github.com/soboure69/My-Portefolio-data-science/internal/service/auth"
	"github.com/soboure69/My-Portefolio-data-science/internal/service/auth/tokenmanager"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger logger.Logger
	close  func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	storage, closeStorage, err := openStorage(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	// Initialize services
	tokenManager, err := tokenmanager.New(
		tokenmanager.Config{SecretKey: c.SecretKey, AccessTTL: c.AccessTTL, RefreshTTL: c.RefreshTTL},
		storage.Refresh(),
	)
	if err != nil {
		closeStorage()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	authService, err := auth.NewService(auth.Config{}, tokenManager, storage.Account())
	if err != nil {
		closeStorage()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	if err := seedAccounts(ctx, authService, c.SeedUsers, logger); err != nil {
		closeStorage()
		return nil, err
	}

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    handlers.NewRouter(authService, logger),
		logger:     logger,
		close:      closeStorage,
	}, nil
}

// openStorage connects to postgres if dsn is set, otherwise keeps data in memory
func openStorage(ctx context.Context, dsn string) (repository.Storage, func(), error) {
	if dsn == "" {
		return memory.NewStorage(), func() {}, nil
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	return postgres.NewStorage(pool), pool.Close, nil
}

type registerer interface {
	Register(ctx context.Context, account models.Account, password string) (models.Account, error)
}

// seedAccounts creates configured accounts. Existing ones are left as is
func seedAccounts(ctx context.Context, r registerer, seeds []string, l logger.Logger) error {
	for _, value := range seeds {
		seed, err := parseSeed(value)
		if err != nil {
			return err
		}

		account, err := r.Register(ctx, models.Account{Email: seed.Email, Roles: seed.Roles}, seed.Password)
		switch {
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			l.Info("seed account exists already", "email", seed.Email)
		case err != nil:
			return fmt.Errorf("seed account %s: %w", seed.Email, err)
		default:
			l.Info("seed account created", "email", seed.Email, "user_id", account.ID)
		}
	}
	return nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
