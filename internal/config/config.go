package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-dashboard-service/internal/models"
)

// Default upstream endpoints.
const (
	DefaultForecastURL         = "https://api.open-meteo.com/v1/forecast"
	DefaultGeocodingURL        = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultReverseGeocodingURL = "https://api.bigdatacloud.net/data/reverse-geocode-client"
	DefaultIPLocationURL       = "https://ipapi.co/json/"
)

// Config holds service configuration loaded from .env, YAML and env.
type Config struct {
	ServerPort string

	ForecastURL         string
	GeocodingURL        string
	ReverseGeocodingURL string
	IPLocationURL       string
	UpstreamTimeout     time.Duration // 0 leaves upstream calls bounded only by the request
	UserAgent           string

	RequestTimeout time.Duration

	Defaults          models.RequestConfig
	DefaultAutoLocate models.AutoLocateMode

	CacheBackend          string // in_memory, memcached, sqlite or postgres
	CacheKey              string
	CacheTTL              time.Duration
	CacheRefreshInterval  time.Duration // 0 disables the refresher
	CacheRefreshTimeout   time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	SQLitePath            string
	CacheSQLDSN           string

	GeolocationTimeout time.Duration
	StaticPosition     *models.Coordinates

	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	HealthWindow         time.Duration
	DegradedErrorPct     int
	OverloadThresholdPct int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	RandomLocations  []string
	RandomSessionTTL time.Duration

	CacheSweepInterval time.Duration // how often sqlite/postgres delete expired items

	LocationMinLength int
	LocationMaxLength int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Upstream struct {
		ForecastURL         string `yaml:"forecast_url"`
		GeocodingURL        string `yaml:"geocoding_url"`
		ReverseGeocodingURL string `yaml:"reverse_geocoding_url"`
		IPLocationURL       string `yaml:"ip_location_url"`
		Timeout             string `yaml:"timeout"`
		UserAgent           string `yaml:"user_agent"`
	} `yaml:"upstream"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Weather struct {
		Provider   string `yaml:"provider"`
		Language   string `yaml:"lang"`
		TempUnit   string `yaml:"temp_unit"`
		WindUnit   string `yaml:"wind_unit"`
		AutoLocate string `yaml:"auto_locate"`
	} `yaml:"weather"`

	Cache struct {
		Backend         string `yaml:"backend"`
		Key             string `yaml:"key"`
		TTL             string `yaml:"ttl"`
		RefreshInterval string `yaml:"refresh_interval"`
		RefreshTimeout  string `yaml:"refresh_timeout"`
		SweepInterval   string `yaml:"sweep_interval"`
		Memcached       struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
	} `yaml:"cache"`

	Geolocation struct {
		Timeout   string   `yaml:"timeout"`
		Latitude  *float64 `yaml:"latitude"`
		Longitude *float64 `yaml:"longitude"`
	} `yaml:"geolocation"`

	CircuitBreaker struct {
		FailureThreshold int    `yaml:"failure_threshold"`
		SuccessThreshold int    `yaml:"success_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Health struct {
		Window               string `yaml:"window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	RandomLocations  []string `yaml:"random_locations"`
	RandomSessionTTL string   `yaml:"random_session_ttl"`

	Validation struct {
		LocationMinLength int `yaml:"location_min_length"`
		LocationMaxLength int `yaml:"location_max_length"`
	} `yaml:"validation"`
}

// Load reads .env (optional), config/{ENV_NAME}.yaml (default dev), then applies env
// overrides for CACHE_BACKEND, MEMCACHED_ADDRS, CACHE_SQL_DSN and SERVER_PORT.
// Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")

	cfg.ForecastURL = firstNonEmpty(fc.Upstream.ForecastURL, DefaultForecastURL)
	cfg.GeocodingURL = firstNonEmpty(fc.Upstream.GeocodingURL, DefaultGeocodingURL)
	cfg.ReverseGeocodingURL = firstNonEmpty(fc.Upstream.ReverseGeocodingURL, DefaultReverseGeocodingURL)
	cfg.IPLocationURL = firstNonEmpty(fc.Upstream.IPLocationURL, DefaultIPLocationURL)
	cfg.UpstreamTimeout = parseDurationOrZero(fc.Upstream.Timeout, 0)
	cfg.UserAgent = firstNonEmpty(fc.Upstream.UserAgent, "weather-dashboard-service")

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 20*time.Second)

	cfg.Defaults = models.RequestConfig{
		Provider: firstNonEmpty(fc.Weather.Provider, models.ProviderOpenMeteo),
		Language: strings.ToLower(firstNonEmpty(fc.Weather.Language, "es")),
		TempUnit: models.TempUnit(strings.ToUpper(firstNonEmpty(fc.Weather.TempUnit, string(models.Celsius)))),
		WindUnit: models.SpeedUnit(strings.ToLower(firstNonEmpty(fc.Weather.WindUnit, string(models.KilometersPerHour)))),
	}
	cfg.DefaultAutoLocate = models.AutoLocateMode(strings.ToLower(firstNonEmpty(fc.Weather.AutoLocate, string(models.AutoLocateIP))))

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	cfg.CacheKey = firstNonEmpty(fc.Cache.Key, "weather_data")
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.CacheRefreshInterval = parseDurationOrZero(fc.Cache.RefreshInterval, 0)
	cfg.CacheRefreshTimeout = parseDuration(fc.Cache.RefreshTimeout, 15*time.Second)
	cfg.CacheSweepInterval = parseDuration(fc.Cache.SweepInterval, 10*time.Minute)
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.SQLitePath = firstNonEmpty(fc.Cache.SQLite.Path, "weather_cache.db")
	cfg.CacheSQLDSN = firstNonEmpty(os.Getenv("CACHE_SQL_DSN"), fc.Cache.Postgres.DSN)

	cfg.GeolocationTimeout = parseDuration(fc.Geolocation.Timeout, 10*time.Second)
	if fc.Geolocation.Latitude != nil && fc.Geolocation.Longitude != nil {
		cfg.StaticPosition = &models.Coordinates{Latitude: *fc.Geolocation.Latitude, Longitude: *fc.Geolocation.Longitude}
	} else if fc.Geolocation.Latitude != nil || fc.Geolocation.Longitude != nil {
		return nil, fmt.Errorf("geolocation.latitude and geolocation.longitude must be set together")
	}

	cfg.CircuitBreakerFailureThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = fc.CircuitBreaker.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.OverloadThresholdPct = fc.Health.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.RandomLocations = fc.RandomLocations
	cfg.RandomSessionTTL = parseDuration(fc.RandomSessionTTL, 24*time.Hour)

	cfg.LocationMinLength = fc.Validation.LocationMinLength
	if cfg.LocationMinLength <= 0 {
		cfg.LocationMinLength = 1
	}
	cfg.LocationMaxLength = fc.Validation.LocationMaxLength
	if cfg.LocationMaxLength <= 0 {
		cfg.LocationMaxLength = 100
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks enums and cross-field constraints. RequestTimeout is raised above
// UpstreamTimeout when both are set.
func validate(cfg *Config) error {
	if cfg.UpstreamTimeout < 0 {
		return fmt.Errorf("upstream.timeout must not be negative")
	}
	if cfg.UpstreamTimeout > 0 && cfg.RequestTimeout <= cfg.UpstreamTimeout {
		cfg.RequestTimeout = cfg.UpstreamTimeout + time.Second
	}
	if cfg.CacheRefreshInterval < 0 {
		return fmt.Errorf("cache.refresh_interval must not be negative")
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "sqlite":
	case "postgres":
		if cfg.CacheSQLDSN == "" {
			return fmt.Errorf("cache.backend postgres requires CACHE_SQL_DSN or cache.postgres.dsn")
		}
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached, sqlite or postgres, got %q", cfg.CacheBackend)
	}
	switch cfg.Defaults.TempUnit {
	case models.Celsius, models.Fahrenheit, models.Kelvin:
	default:
		return fmt.Errorf("weather.temp_unit must be C, F or K, got %q", cfg.Defaults.TempUnit)
	}
	switch cfg.Defaults.WindUnit {
	case models.KilometersPerHour, models.MilesPerHour, models.MetersPerSecond:
	default:
		return fmt.Errorf("weather.wind_unit must be kmh, mph or ms, got %q", cfg.Defaults.WindUnit)
	}
	switch cfg.DefaultAutoLocate {
	case models.AutoLocateGPS, models.AutoLocateIP:
	default:
		return fmt.Errorf("weather.auto_locate must be gps or ip, got %q", cfg.DefaultAutoLocate)
	}
	if p := cfg.StaticPosition; p != nil {
		if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
			return fmt.Errorf("geolocation position out of range: %v,%v", p.Latitude, p.Longitude)
		}
	}
	if cfg.LocationMinLength > cfg.LocationMaxLength {
		return fmt.Errorf("validation.location_min_length exceeds location_max_length")
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("health.degraded_error_pct must be at most 100")
	}
	if cfg.OverloadThresholdPct > 100 {
		return fmt.Errorf("health.overload_threshold_pct must be at most 100")
	}
	return nil
}
