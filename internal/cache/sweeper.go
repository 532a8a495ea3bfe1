package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard-service/internal/observability"
)

// ExpirySweep periodically deletes expired items from a Sweeper.
type ExpirySweep struct {
	storage   Sweeper
	interval  time.Duration
	logger    *zap.Logger
	scheduler *gocron.Scheduler
}

// NewExpirySweep returns a sweep that runs every interval.
func NewExpirySweep(storage Sweeper, interval time.Duration, logger *zap.Logger) *ExpirySweep {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirySweep{
		storage:   storage,
		interval:  interval,
		logger:    logger,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Start schedules the sweep and starts the underlying scheduler.
func (e *ExpirySweep) Start() error {
	if e.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", e.interval)
	}
	_, err := e.scheduler.Every(e.interval).SingletonMode().WaitForSchedule().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.interval)
		defer cancel()
		e.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule expiry sweep: %w", err)
	}
	e.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler.
func (e *ExpirySweep) Stop() {
	e.scheduler.Stop()
}

// RunOnce deletes expired items and returns how many were removed.
func (e *ExpirySweep) RunOnce(ctx context.Context) int64 {
	n, err := e.storage.DeleteExpired(ctx)
	if err != nil {
		e.logger.Warn("expiry sweep failed", zap.String("category", categorizeStorageError(err)), zap.Error(err))
		return 0
	}
	if n > 0 {
		observability.CacheExpiredDeletedTotal.Add(float64(n))
		e.logger.Debug("expired items deleted", zap.Int64("count", n))
	}
	return n
}
