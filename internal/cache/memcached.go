package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "dashboard:"

// maxRelativeExp is the longest expiration memcached treats as relative (30 days).
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedStorage keeps items in memcached under a fixed key prefix.
type MemcachedStorage struct {
	client *memcache.Client
	expSec int32
}

// NewMemcachedStorage creates a MemcachedStorage. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). Items expire after ttl;
// ttl <= 0 or beyond 30 days keeps them until evicted. timeout and maxIdleConns use
// package defaults if zero.
func NewMemcachedStorage(addrs string, ttl, timeout time.Duration, maxIdleConns int) *MemcachedStorage {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	var expSec int32
	if s := int64(ttl / time.Second); s > 0 && s <= maxRelativeExp {
		expSec = int32(s)
	}
	return &MemcachedStorage{client: client, expSec: expSec}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedStorage) key(k string) string {
	return keyPrefix + k
}

func (c *MemcachedStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(item.Value), true, nil
}

func (c *MemcachedStorage) SetItem(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      []byte(value),
		Expiration: c.expSec,
	})
}

// SetItemTTL stores value for ttl, rounded up to whole seconds. Lifetimes beyond
// 30 days are sent as an absolute unix time.
func (c *MemcachedStorage) SetItemTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return c.SetItem(ctx, key, value)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      []byte(value),
		Expiration: expirationFor(ttl, time.Now()),
	})
}

// expirationFor converts ttl into memcached's Expiration field.
func expirationFor(ttl time.Duration, now time.Time) int32 {
	s := int64((ttl + time.Second - 1) / time.Second)
	if s <= maxRelativeExp {
		return int32(s)
	}
	return int32(now.Add(ttl).Unix())
}

func (c *MemcachedStorage) RemoveItem(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.client.Delete(c.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedStorage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedStorage) Close() error {
	return c.client.Close()
}
