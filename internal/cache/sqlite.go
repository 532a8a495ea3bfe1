package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// expires_at is unix milliseconds; NULL never expires.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv_items (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	expires_at INTEGER
)`

// sqliteAddExpiry upgrades tables created before items could expire.
const sqliteAddExpiry = `ALTER TABLE kv_items ADD COLUMN expires_at INTEGER`

const sqliteUpsert = `
INSERT INTO kv_items(key, value, updated_at, expires_at) VALUES(?,?,?,?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at, expires_at = excluded.expires_at`

// SQLiteStorage keeps items in a SQLite file so the slot survives restarts.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage opens (or creates) the database at path and ensures the items table exists.
func NewSQLiteStorage(ctx context.Context, path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv_items: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteAddExpiry); err != nil && !strings.Contains(err.Error(), "duplicate column") {
		_ = db.Close()
		return nil, fmt.Errorf("add kv_items.expires_at: %w", err)
	}
	return &SQLiteStorage{db: db, now: time.Now}, nil
}

func (s *SQLiteStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_items WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStorage) SetItem(ctx context.Context, key, value string) error {
	return s.SetItemTTL(ctx, key, value, 0)
}

// SetItemTTL stores value until ttl elapses. Expired rows stay on disk until DeleteExpired.
func (s *SQLiteStorage) SetItemTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	now := s.now()
	var expiresAt any
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, sqliteUpsert, key, value, now.UTC().Format(time.RFC3339), expiresAt)
	return err
}

func (s *SQLiteStorage) RemoveItem(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_items WHERE key = ?`, key)
	return err
}

// DeleteExpired removes expired rows and returns how many were deleted.
func (s *SQLiteStorage) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_items WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping checks the database handle. Used for health checks.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database. Call during shutdown.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
