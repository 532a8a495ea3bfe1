package cache

import (
	"context"
	"strings"
	"time"
)

// Storage is a string key/value capability the result cache persists into.
// Implementations are safe for concurrent use.
type Storage interface {
	// GetItem returns the stored value and true, or "" and false when the key is absent.
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error
}

// ExpiringStorage is a Storage that can bound the lifetime of a single item.
// ttl <= 0 stores the item like SetItem.
type ExpiringStorage interface {
	Storage
	SetItemTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// Sweeper is implemented by storages that keep expired items until they are deleted.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Pinger is implemented by storages with a reachable backend. Used for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend names accepted by config.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
)

// categorizeStorageError returns a stable label for storage error logs (timeout, connection, unknown).
func categorizeStorageError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") || strings.Contains(errStr, "refused") {
		return "connection"
	}
	return "unknown"
}
