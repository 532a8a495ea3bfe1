package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard-service/internal/models"
	"github.com/kjstillabower/weather-dashboard-service/internal/observability"
)

// DefaultKey is the storage key of the result slot.
const DefaultKey = "weather_data"

// DefaultMaxAge is how long a stored result stays fresh.
const DefaultMaxAge = 10 * time.Minute

// entry is the serialized slot: {"data": ..., "timestamp": epoch-ms, "location": ...}.
type entry struct {
	Data      models.Weather `json:"data"`
	Timestamp int64          `json:"timestamp"`
	Location  string         `json:"location"`
}

// Snapshot is a fresh slot together with its capture time.
type Snapshot struct {
	Weather    models.Weather
	Location   string
	CapturedAt time.Time
}

// ResultCache holds the last successful result in a single storage slot.
// Every write overwrites the slot regardless of location. No method returns an error:
// storage and decoding failures are logged, counted, and treated as a miss.
type ResultCache struct {
	storage Storage
	key     string
	maxAge  time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewResultCache returns a ResultCache writing to key in storage. Empty key and
// non-positive maxAge select DefaultKey and DefaultMaxAge.
func NewResultCache(storage Storage, key string, maxAge time.Duration, logger *zap.Logger) *ResultCache {
	if key == "" {
		key = DefaultKey
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{storage: storage, key: key, maxAge: maxAge, logger: logger, now: time.Now}
}

// MaxAge returns the freshness window.
func (c *ResultCache) MaxAge() time.Duration {
	return c.maxAge
}

// Store overwrites the slot with w captured now. It does nothing once ctx is done.
func (c *ResultCache) Store(ctx context.Context, w models.Weather) {
	if ctx.Err() != nil {
		c.logger.Debug("skipping cache store for finished request", zap.String("location", w.Location))
		return
	}
	raw, err := json.Marshal(entry{Data: w, Timestamp: c.now().UnixMilli(), Location: w.Location})
	if err != nil {
		c.storageFailure(ctx, "encode", err)
		return
	}
	if err := c.storage.SetItem(ctx, c.key, string(raw)); err != nil {
		c.storageFailure(ctx, "set", err)
		return
	}
	c.logger.Debug("cache stored", zap.String("location", w.Location))
}

// Load returns the stored result when it is at most MaxAge old and, for a non-empty
// locationFilter, stored for exactly that location. A stale or mismatched slot is purged.
func (c *ResultCache) Load(ctx context.Context, locationFilter string) (models.Weather, bool) {
	snap, ok := c.Snapshot(ctx, locationFilter)
	if !ok {
		return models.Weather{}, false
	}
	return snap.Weather, true
}

// Snapshot is Load that also reports when the result was captured.
func (c *ResultCache) Snapshot(ctx context.Context, locationFilter string) (Snapshot, bool) {
	raw, ok, err := c.storage.GetItem(ctx, c.key)
	if err != nil {
		if ctx.Err() != nil {
			return Snapshot{}, false
		}
		observability.CacheMissesTotal.WithLabelValues("error").Inc()
		c.storageFailure(ctx, "get", err)
		return Snapshot{}, false
	}
	if !ok {
		observability.CacheMissesTotal.WithLabelValues("absent").Inc()
		return Snapshot{}, false
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		observability.CacheMissesTotal.WithLabelValues("error").Inc()
		c.storageFailure(ctx, "decode", err)
		return Snapshot{}, false
	}

	captured := time.UnixMilli(e.Timestamp)
	if c.now().Sub(captured) > c.maxAge {
		observability.CacheMissesTotal.WithLabelValues("expired").Inc()
		c.logger.Debug("cache entry expired", zap.String("location", e.Location), zap.Time("captured_at", captured))
		c.Purge(ctx)
		return Snapshot{}, false
	}
	if locationFilter != "" && locationFilter != e.Location {
		observability.CacheMissesTotal.WithLabelValues("location_mismatch").Inc()
		c.logger.Debug("cache entry for other location",
			zap.String("stored", e.Location),
			zap.String("requested", locationFilter))
		c.Purge(ctx)
		return Snapshot{}, false
	}

	observability.CacheHitsTotal.Inc()
	return Snapshot{Weather: e.Data, Location: e.Location, CapturedAt: captured}, true
}

// Purge removes the slot. Removing an empty slot is a no-op.
func (c *ResultCache) Purge(ctx context.Context) {
	if err := c.storage.RemoveItem(context.WithoutCancel(ctx), c.key); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("remove").Inc()
		c.logger.Warn("cache purge failed",
			zap.String("key", c.key),
			zap.String("category", categorizeStorageError(err)),
			zap.Error(err))
	}
}

// storageFailure logs and counts err, then clears the slot.
func (c *ResultCache) storageFailure(ctx context.Context, op string, err error) {
	observability.CacheErrorsTotal.WithLabelValues(op).Inc()
	c.logger.Warn("cache storage failure, treating as miss",
		zap.String("operation", op),
		zap.String("key", c.key),
		zap.String("category", categorizeStorageError(err)),
		zap.Error(err))
	c.Purge(ctx)
}
