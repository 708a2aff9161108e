package redis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
)

type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration // 0 means keys never expire
}

func New(client *goredis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

// Open connects by dsn "redis://[:password@]host:port/db?prefix=folio:&ttl=720h".
// prefix and ttl are store options, the rest goes to redis client as is
func Open(ctx context.Context, dsn string) (*Store, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}

	q := u.Query()
	prefix := q.Get("prefix")

	var ttl time.Duration
	if raw := q.Get("ttl"); raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis ttl: %w", err)
		}
	}

	q.Del("prefix")
	q.Del("ttl")
	u.RawQuery = q.Encode()

	opts, err := goredis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return New(client, prefix, ttl), nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, goredis.Nil):
		return "", apperrors.ErrKeyNotFound
	default:
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
}

func (s *Store) Set(ctx context.Context, key string, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
