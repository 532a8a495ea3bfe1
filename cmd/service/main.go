package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard-service/internal/cache"
	"github.com/kjstillabower/weather-dashboard-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-dashboard-service/internal/client"
	"github.com/kjstillabower/weather-dashboard-service/internal/config"
	"github.com/kjstillabower/weather-dashboard-service/internal/geolocation"
	httphandler "github.com/kjstillabower/weather-dashboard-service/internal/http"
	"github.com/kjstillabower/weather-dashboard-service/internal/lifecycle"
	"github.com/kjstillabower/weather-dashboard-service/internal/models"
	"github.com/kjstillabower/weather-dashboard-service/internal/observability"
	"github.com/kjstillabower/weather-dashboard-service/internal/randomloc"
	"github.com/kjstillabower/weather-dashboard-service/internal/resolver"
	"github.com/kjstillabower/weather-dashboard-service/internal/service"
	"github.com/kjstillabower/weather-dashboard-service/internal/units"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	lifecycle.MarkStarted(time.Now())

	upstream := client.New(client.Config{
		ForecastURL:         cfg.ForecastURL,
		GeocodingURL:        cfg.GeocodingURL,
		ReverseGeocodingURL: cfg.ReverseGeocodingURL,
		IPLocationURL:       cfg.IPLocationURL,
		Timeout:             cfg.UpstreamTimeout,
		UserAgent:           cfg.UserAgent,
		Breaker: circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
		},
	}, logger)

	var fallback geolocation.Device = geolocation.Unavailable{}
	if cfg.StaticPosition != nil {
		fallback = geolocation.Static{Position: *cfg.StaticPosition}
		logger.Info("static device position configured",
			zap.Float64("latitude", cfg.StaticPosition.Latitude),
			zap.Float64("longitude", cfg.StaticPosition.Longitude))
	}
	device := geolocation.Bounded{Device: geolocation.Reported{Fallback: fallback}, Timeout: cfg.GeolocationTimeout}
	res := resolver.New(upstream, upstream, device, logger)
	weatherService := service.NewWeatherService(res, upstream, cfg.Defaults)

	storage, closer, err := openStorage(cfg, logger)
	if err != nil {
		logger.Fatal("cache storage", zap.Error(err))
	}
	results := cache.NewResultCache(storage, cfg.CacheKey, cfg.CacheTTL, logger)
	picker := randomloc.NewPicker(storage, cfg.RandomLocations, cfg.RandomSessionTTL, logger)

	var sweep *cache.ExpirySweep
	if s, ok := storage.(cache.Sweeper); ok {
		sweep = cache.NewExpirySweep(s, cfg.CacheSweepInterval, logger)
		if err := sweep.Start(); err != nil {
			logger.Fatal("cache expiry sweep", zap.Error(err))
		}
	}

	var refresher *cache.Refresher
	if cfg.CacheRefreshInterval > 0 {
		refresher = cache.NewRefresher(results, slotRefresh(weatherService, cfg.DefaultAutoLocate), cfg.CacheRefreshInterval, cfg.CacheRefreshTimeout, logger)
		if err := refresher.Start(); err != nil {
			logger.Fatal("cache refresher", zap.Error(err))
		}
	}

	observability.RegisterRateLimitGauges(cfg.HealthWindow)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	healthConfig := &httphandler.HealthConfig{
		Window:               cfg.HealthWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		BreakerStates:        upstream.BreakerStates,
	}
	if p, ok := storage.(cache.Pinger); ok {
		healthConfig.CachePing = p.Ping
	}
	handler := httphandler.NewHandler(httphandler.Deps{
		Weather:           weatherService,
		Cache:             results,
		Random:            picker,
		Health:            healthConfig,
		DefaultAutoLocate: cfg.DefaultAutoLocate,
		LocationMinLength: cfg.LocationMinLength,
		LocationMaxLength: cfg.LocationMaxLength,
	}, logger)
	router := httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.BeginShutdown("signal")
	if refresher != nil {
		refresher.Stop()
	}
	if sweep != nil {
		sweep.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests",
		zap.Int64("count", httphandler.InFlightCount()),
		zap.Any("by_route", httphandler.InFlightByRoute()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if closer != nil {
		if err := closer.Close(); err != nil {
			logger.Error("cache storage close", zap.Error(err))
		}
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

type weatherGetter interface {
	GetWeather(ctx context.Context, cfg models.RequestConfig, q models.LocationQuery) (models.Weather, error)
}

// slotRefresh re-resolves the auto-located position and fetches it in the units the
// slot already holds.
func slotRefresh(svc weatherGetter, mode models.AutoLocateMode) cache.RefreshFunc {
	return func(ctx context.Context, current models.Weather) (models.Weather, error) {
		temp, wind := units.FromLabels(current.Units)
		return svc.GetWeather(ctx, models.RequestConfig{TempUnit: temp, WindUnit: wind}, models.LocationQuery{AutoLocate: mode})
	}
}

// openStorage builds the configured cache backend. closer is nil for in-memory storage.
func openStorage(cfg *config.Config, logger *zap.Logger) (cache.ExpiringStorage, io.Closer, error) {
	switch cfg.CacheBackend {
	case cache.BackendMemcached:
		mc := cache.NewMemcachedStorage(cfg.MemcachedAddrs, 0, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc, nil
	case cache.BackendSQLite:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := cache.NewSQLiteStorage(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cache backend: sqlite", zap.String("path", cfg.SQLitePath))
		return s, s, nil
	case cache.BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := cache.NewPostgresStorage(ctx, cfg.CacheSQLDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cache backend: postgres")
		return s, s, nil
	default:
		logger.Info("cache backend: in_memory")
		return cache.NewMemoryStorage(0), nil, nil
	}
}
