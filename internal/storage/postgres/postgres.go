package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
	"github.com/soboure69/My-Portefolio-data-science/internal/db"
)

type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
}

type Store struct {
	DB DBTX

	// Set if store owns the pool
	pool *pgxpool.Pool
}

// Open migrates schema and connects to database at dsn
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := db.ConnectAndMigrate(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{DB: pool, pool: pool}, nil
}

const getValue = `-- name: Get value by key
SELECT value FROM kv_store
WHERE key = $1
`

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	rows, _ := s.DB.Query(ctx, getValue, key)
	value, err := pgx.CollectOneRow(rows, pgx.RowTo[string])

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, pgx.ErrNoRows):
		return "", apperrors.ErrKeyNotFound
	default:
		return "", dbError(err)
	}
}

const setValue = `-- name: Upsert value
INSERT INTO kv_store (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`

func (s *Store) Set(ctx context.Context, key string, value string) error {
	if _, err := s.DB.Exec(ctx, setValue, key, value); err != nil {
		return dbError(err)
	}
	return nil
}

const deleteValue = `-- name: Delete value
DELETE FROM kv_store
WHERE key = $1
`

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.DB.Exec(ctx, deleteValue, key); err != nil {
		return dbError(err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func dbError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("db error: %w", apperrors.ErrStoreNotMigrated)
	}
	return fmt.Errorf("db error: %w", err)
}
