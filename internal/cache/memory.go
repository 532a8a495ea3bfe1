package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStorage keeps items in process memory. Contents are lost on restart.
type MemoryStorage struct {
	items *gocache.Cache
}

// memoryCleanupInterval is how often items stored with their own ttl are evicted
// when the storage has no default ttl.
const memoryCleanupInterval = time.Minute

// NewMemoryStorage returns an empty MemoryStorage. Items older than ttl are dropped;
// ttl <= 0 keeps them until removed.
func NewMemoryStorage(ttl time.Duration) *MemoryStorage {
	exp := gocache.NoExpiration
	cleanup := memoryCleanupInterval
	if ttl > 0 {
		exp = ttl
		cleanup = ttl
	}
	return &MemoryStorage{items: gocache.New(exp, cleanup)}
}

func (m *MemoryStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	v, ok := m.items.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (m *MemoryStorage) SetItem(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.items.SetDefault(key, value)
	return nil
}

// SetItemTTL stores value until ttl elapses, overriding the storage default.
func (m *MemoryStorage) SetItemTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		m.items.SetDefault(key, value)
		return nil
	}
	m.items.Set(key, value, ttl)
	return nil
}

func (m *MemoryStorage) RemoveItem(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.items.Delete(key)
	return nil
}

// Len returns the number of unexpired items.
func (m *MemoryStorage) Len() int {
	return len(m.items.Items())
}
