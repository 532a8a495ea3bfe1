//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard-service/internal/cache"
	"github.com/kjstillabower/weather-dashboard-service/internal/client"
	"github.com/kjstillabower/weather-dashboard-service/internal/config"
	"github.com/kjstillabower/weather-dashboard-service/internal/geolocation"
	"github.com/kjstillabower/weather-dashboard-service/internal/models"
	"github.com/kjstillabower/weather-dashboard-service/internal/resolver"
	"github.com/kjstillabower/weather-dashboard-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	Client        client.Config
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless LIVE_UPSTREAM is set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if os.Getenv("LIVE_UPSTREAM") == "" {
		t.Skip("LIVE_UPSTREAM not set, skipping integration test")
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		Client: client.Config{
			ForecastURL:         config.DefaultForecastURL,
			GeocodingURL:        config.DefaultGeocodingURL,
			ReverseGeocodingURL: config.DefaultReverseGeocodingURL,
			IPLocationURL:       config.DefaultIPLocationURL,
			Timeout:             10 * time.Second,
			UserAgent:           "weather-dashboard-service/integration",
		},
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationService wires a service against the live APIs and a result cache on the
// configured backend. Memcached falls back to in-memory when unreachable.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, *cache.ResultCache) {
	t.Helper()
	logger := zap.NewNop()
	c := client.New(cfg.Client, logger)
	res := resolver.New(c, c, geolocation.Unavailable{}, logger)
	svc := service.NewWeatherService(res, c, models.RequestConfig{})

	var storage cache.Storage = cache.NewMemoryStorage(0)
	if cfg.CacheBackend == cache.BackendMemcached {
		mc := cache.NewMemcachedStorage(cfg.MemcachedAddr, 0, 500*time.Millisecond, 2)
		if err := mc.Ping(t.Context()); err == nil {
			storage = mc
			t.Cleanup(func() { _ = mc.Close() })
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
		}
	}
	return svc, cache.NewResultCache(storage, "", 0, logger)
}
