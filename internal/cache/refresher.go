package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard-service/internal/models"
	"github.com/kjstillabower/weather-dashboard-service/internal/observability"
)

// RefreshFunc fetches a new result for the slot, given the result it holds now so the
// replacement can be requested in the same units. main supplies one on top of the
// weather service so this package does not depend on it.
type RefreshFunc func(ctx context.Context, current models.Weather) (models.Weather, error)

// Refresher re-fetches the slot's result shortly before it goes stale so the
// "my location" panel keeps being served from the cache.
type Refresher struct {
	cache     *ResultCache
	refresh   RefreshFunc
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	scheduler *gocron.Scheduler
}

// NewRefresher returns a Refresher that checks the slot every interval and refreshes
// entries older than interval. Each refresh is bounded by timeout (30s when zero).
func NewRefresher(cache *ResultCache, refresh RefreshFunc, interval, timeout time.Duration, logger *zap.Logger) *Refresher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		cache:     cache,
		refresh:   refresh,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Start schedules the refresh job and starts the underlying scheduler.
func (r *Refresher) Start() error {
	if r.interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", r.interval)
	}
	if r.interval >= r.cache.MaxAge() {
		r.logger.Warn("refresh interval is not shorter than cache max age; entries may expire between runs",
			zap.Duration("interval", r.interval),
			zap.Duration("max_age", r.cache.MaxAge()))
	}
	_, err := r.scheduler.Every(r.interval).SingletonMode().WaitForSchedule().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule cache refresh: %w", err)
	}
	r.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (r *Refresher) Stop() {
	r.scheduler.Stop()
}

// RunOnce refreshes the slot if it holds a fresh entry at least one interval old.
// A result for a different location or in different units than the slot's is discarded.
func (r *Refresher) RunOnce(ctx context.Context) {
	snap, ok := r.cache.Snapshot(ctx, "")
	if !ok {
		observability.CacheRefreshTotal.WithLabelValues("empty").Inc()
		return
	}
	if age := r.cache.now().Sub(snap.CapturedAt); age < r.interval {
		observability.CacheRefreshTotal.WithLabelValues("fresh").Inc()
		return
	}

	w, err := r.refresh(ctx, snap.Weather)
	if err != nil {
		observability.CacheRefreshTotal.WithLabelValues("error").Inc()
		r.logger.Warn("cache refresh failed", zap.String("location", snap.Location), zap.Error(err))
		return
	}
	if w.Location != snap.Location {
		observability.CacheRefreshTotal.WithLabelValues("location_changed").Inc()
		r.logger.Info("cache refresh resolved a different location, keeping slot",
			zap.String("stored", snap.Location),
			zap.String("refreshed", w.Location))
		return
	}
	if w.Units != snap.Weather.Units {
		observability.CacheRefreshTotal.WithLabelValues("units_changed").Inc()
		r.logger.Info("cache refresh returned different units, keeping slot",
			zap.String("stored", snap.Weather.Units.Temp+" "+snap.Weather.Units.Wind),
			zap.String("refreshed", w.Units.Temp+" "+w.Units.Wind))
		return
	}
	r.cache.Store(ctx, w)
	observability.CacheRefreshTotal.WithLabelValues("success").Inc()
	r.logger.Debug("cache refreshed", zap.String("location", w.Location))
}
