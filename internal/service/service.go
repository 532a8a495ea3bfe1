package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard-service/internal/client"
	"github.com/kjstillabower/weather-dashboard-service/internal/models"
	"github.com/kjstillabower/weather-dashboard-service/internal/normalize"
	"github.com/kjstillabower/weather-dashboard-service/internal/observability"
	"github.com/kjstillabower/weather-dashboard-service/internal/resolver"
)

// LocationResolver is the subset of resolver.Resolver the service drives step by step.
type LocationResolver interface {
	Locate(ctx context.Context, mode models.AutoLocateMode) (models.Coordinates, error)
	Name(ctx context.Context, coords models.Coordinates, lang string) (resolver.Resolved, error)
	Search(ctx context.Context, name, lang string) (resolver.Resolved, error)
}

// WeatherService resolves a location, fetches its forecast and normalizes the result.
// It holds no per-request state and is safe for concurrent use.
type WeatherService struct {
	resolver LocationResolver
	fetcher  client.ForecastFetcher
	defaults models.RequestConfig
}

// NewWeatherService returns a WeatherService. defaults fills any field a request leaves empty.
func NewWeatherService(resolver LocationResolver, fetcher client.ForecastFetcher, defaults models.RequestConfig) *WeatherService {
	return &WeatherService{resolver: resolver, fetcher: fetcher, defaults: defaults}
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns a no-op logger otherwise.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return zap.NewNop()
}

// RequestConfig returns cfg with empty fields taken from the service defaults.
func (s *WeatherService) RequestConfig(cfg models.RequestConfig) models.RequestConfig {
	if cfg.Provider == "" {
		cfg.Provider = s.defaults.Provider
	}
	if cfg.Language == "" {
		cfg.Language = s.defaults.Language
	}
	if cfg.TempUnit == "" {
		cfg.TempUnit = s.defaults.TempUnit
	}
	if cfg.WindUnit == "" {
		cfg.WindUnit = s.defaults.WindUnit
	}
	return cfg
}

// SupportedProvider reports whether name selects the Open-Meteo provider. Empty means default.
func SupportedProvider(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", models.ProviderOpenMeteo, "openmeteo":
		return true
	default:
		return false
	}
}

// GetWeather returns normalized weather for q. Auto-locate wins over coordinates, and
// coordinates over a name. A failed GPS lookup falls back to IP lookup once; nothing
// else is retried. A cancelled or expired ctx yields an error matching models.ErrCancelled.
func (s *WeatherService) GetWeather(ctx context.Context, cfg models.RequestConfig, q models.LocationQuery) (models.Weather, error) {
	start := time.Now()
	logger := loggerFromContext(ctx)
	cfg = s.RequestConfig(cfg)

	if !SupportedProvider(cfg.Provider) {
		return models.Weather{}, fmt.Errorf("%w: %q", models.ErrUnsupportedProvider, cfg.Provider)
	}
	if q.IsEmpty() {
		return models.Weather{}, models.ErrNoLocationProvided
	}
	if err := ctx.Err(); err != nil {
		return models.Weather{}, models.Cancelled(err)
	}

	place, source, err := s.resolve(ctx, cfg.Language, q)
	if err != nil {
		return models.Weather{}, s.fail(ctx, err)
	}
	observability.RecordWeatherQuery(source)

	payload, err := s.fetcher.Fetch(ctx, place.Coordinates)
	if err != nil {
		return models.Weather{}, s.fail(ctx, fmt.Errorf("fetch forecast for %s: %w", place.Name, err))
	}
	if err := ctx.Err(); err != nil {
		return models.Weather{}, models.Cancelled(err)
	}

	weather := normalize.Normalize(payload, cfg, place.Name)
	logger.Debug("weather served",
		zap.String("location", weather.Location),
		zap.String("source", source),
		zap.Duration("duration", time.Since(start)))
	return weather, nil
}

// resolve runs the location state machine and reports which branch produced the place.
func (s *WeatherService) resolve(ctx context.Context, lang string, q models.LocationQuery) (resolver.Resolved, string, error) {
	switch {
	case q.AutoLocate != models.AutoLocateNone:
		coords, source, err := s.autoLocate(ctx, q.AutoLocate)
		if err != nil {
			return resolver.Resolved{}, "", err
		}
		place, err := s.resolver.Name(ctx, coords, lang)
		return place, source, err
	case q.Coordinates != nil:
		place, err := s.resolver.Name(ctx, *q.Coordinates, lang)
		return place, "coordinates", err
	default:
		place, err := s.resolver.Search(ctx, q.Name, lang)
		return place, "search", err
	}
}

// autoLocate tries GPS first when asked to and substitutes one IP lookup for any GPS failure.
// An IP failure, primary or fallback, is returned as is.
func (s *WeatherService) autoLocate(ctx context.Context, mode models.AutoLocateMode) (models.Coordinates, string, error) {
	if mode == models.AutoLocateGPS {
		coords, err := s.resolver.Locate(ctx, models.AutoLocateGPS)
		if err == nil {
			return coords, string(models.AutoLocateGPS), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Coordinates{}, "", models.Cancelled(ctxErr)
		}
		observability.AutoLocateFallbackTotal.Inc()
		loggerFromContext(ctx).Debug("gps unavailable, falling back to ip lookup", zap.Error(err))
	} else if mode != models.AutoLocateIP {
		return models.Coordinates{}, "", fmt.Errorf("%w: unknown auto-locate mode %q", models.ErrNoLocationProvided, mode)
	}
	coords, err := s.resolver.Locate(ctx, models.AutoLocateIP)
	if err != nil {
		return models.Coordinates{}, "", err
	}
	return coords, string(models.AutoLocateIP), nil
}

// fail converts errors raised while ctx was being torn down into cancellation errors.
func (s *WeatherService) fail(ctx context.Context, err error) error {
	if errors.Is(err, models.ErrCancelled) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return models.Cancelled(ctxErr)
	}
	return err
}
