package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS kv_items (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// postgresAddExpiry upgrades tables created before items could expire.
const postgresAddExpiry = `ALTER TABLE kv_items ADD COLUMN IF NOT EXISTS expires_at TIMESTAMPTZ`

// A NULL $3 never expires.
const upsertItemSQL = `
    INSERT INTO kv_items (key, value, updated_at, expires_at)
    VALUES ($1, $2, now(), $3)
    ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now(), expires_at = EXCLUDED.expires_at
`

// PostgresStorage keeps items in a Postgres table shared by every replica.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to databaseURL and ensures the items table exists.
func NewPostgresStorage(ctx context.Context, databaseURL string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create kv_items: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresAddExpiry); err != nil {
		pool.Close()
		return nil, fmt.Errorf("add kv_items.expires_at: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

func (s *PostgresStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_items WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *PostgresStorage) SetItem(ctx context.Context, key, value string) error {
	return s.SetItemTTL(ctx, key, value, 0)
}

// SetItemTTL stores value until ttl elapses. Expired rows stay in the table until DeleteExpired.
func (s *PostgresStorage) SetItemTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := s.pool.Exec(ctx, upsertItemSQL, key, value, expiresAt)
	return err
}

func (s *PostgresStorage) RemoveItem(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kv_items WHERE key = $1`, key)
	return err
}

// DeleteExpired removes expired rows and returns how many were deleted.
func (s *PostgresStorage) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM kv_items WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Ping checks that a pooled connection answers. Used for health checks.
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool resources.
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}
