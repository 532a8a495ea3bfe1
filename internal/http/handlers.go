package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard-service/internal/cache"
	"github.com/kjstillabower/weather-dashboard-service/internal/lifecycle"
	"github.com/kjstillabower/weather-dashboard-service/internal/models"
	"github.com/kjstillabower/weather-dashboard-service/internal/randomloc"
	"github.com/kjstillabower/weather-dashboard-service/internal/traffic"
	"github.com/kjstillabower/weather-dashboard-service/internal/units"
	"github.com/kjstillabower/weather-dashboard-service/internal/validation"
)

// HeaderSessionID carries the random panel's session across requests.
const HeaderSessionID = "X-Session-ID"

// WeatherGetter is the lookup the handlers serve. *service.WeatherService implements it.
type WeatherGetter interface {
	GetWeather(ctx context.Context, cfg models.RequestConfig, q models.LocationQuery) (models.Weather, error)
	RequestConfig(cfg models.RequestConfig) models.RequestConfig
}

// HealthConfig holds thresholds and probes for the health handler.
type HealthConfig struct {
	Window               time.Duration
	DegradedErrorPct     int
	RateLimitRPS         int
	OverloadThresholdPct int
	// CachePing, when set, is called to check cache backend reachability.
	CachePing func(ctx context.Context) error
	// BreakerStates, when set, reports upstream circuit breaker states by endpoint.
	BreakerStates func() map[string]string
}

// Deps groups what NewHandler needs.
type Deps struct {
	Weather           WeatherGetter
	Cache             *cache.ResultCache
	Random            *randomloc.Picker
	Health            *HealthConfig
	DefaultAutoLocate models.AutoLocateMode
	LocationMinLength int
	LocationMaxLength int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather          WeatherGetter
	cache            *cache.ResultCache
	random           *randomloc.Picker
	healthConfig     *HealthConfig
	defaultAuto      models.AutoLocateMode
	minLen, maxLen   int
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	auto := deps.DefaultAutoLocate
	if auto == models.AutoLocateNone {
		auto = models.AutoLocateIP
	}
	return &Handler{
		weather:      deps.Weather,
		cache:        deps.Cache,
		random:       deps.Random,
		healthConfig: deps.Health,
		defaultAuto:  auto,
		minLen:       deps.LocationMinLength,
		maxLen:       deps.LocationMaxLength,
		logger:       logger,
	}
}

// weatherResponse is a Weather plus where it came from.
type weatherResponse struct {
	models.Weather
	Cached   bool   `json:"cached"`
	CachedAt string `json:"cachedAt,omitempty"`
	Session  string `json:"sessionId,omitempty"`
}

// GetWeather handles GET /weather with exactly one of lat+lon, location or auto.
// One-shot lookups are not cached.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	cfg, err := validation.ParseRequestConfig(values)
	if err != nil {
		h.rejectRequest(w, r, err)
		return
	}
	q, err := validation.ParseLocationQuery(values, h.minLen, h.maxLen)
	if err != nil {
		h.rejectRequest(w, r, err)
		return
	}
	weather, ok := h.lookup(w, r, cfg, q)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, weatherResponse{Weather: weather})
}

// SearchWeather handles GET /weather/search?location=, the free-text panel.
func (h *Handler) SearchWeather(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	cfg, err := validation.ParseRequestConfig(values)
	if err != nil {
		h.rejectRequest(w, r, err)
		return
	}
	name, err := validation.ValidateLocation(values.Get("location"), h.minLen, h.maxLen)
	if err != nil {
		h.rejectRequest(w, r, err)
		return
	}
	weather, ok := h.lookup(w, r, cfg, models.LocationQuery{Name: name})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, weatherResponse{Weather: weather})
}

// GetMyWeather handles GET /weather/mine. A fresh cached result in the requested units
// is served as is; otherwise the caller is auto-located and the result is stored.
func (h *Handler) GetMyWeather(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	cfg, err := validation.ParseRequestConfig(values)
	if err != nil {
		h.rejectRequest(w, r, err)
		return
	}
	mode, err := validation.ParseAutoLocate(values, h.defaultAuto)
	if err != nil {
		h.rejectRequest(w, r, err)
		return
	}

	if h.cache != nil {
		if snap, ok := h.cache.Snapshot(r.Context(), ""); ok && h.sameUnits(snap.Weather, cfg) {
			traffic.Record(traffic.Success)
			loggerFrom(r).Debug("serving cached weather", zap.String("location", snap.Location))
			writeJSON(w, http.StatusOK, weatherResponse{
				Weather:  snap.Weather,
				Cached:   true,
				CachedAt: snap.CapturedAt.UTC().Format(time.RFC3339),
			})
			return
		}
	}
	h.refreshMine(w, r, cfg, mode)
}

// RefreshMyWeather handles POST /weather/mine/refresh: auto-locate, fetch and store
// regardless of what the cache holds.
func (h *Handler) RefreshMyWeather(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	cfg, err := validation.ParseRequestConfig(values)
	if err != nil {
		h.rejectRequest(w, r, err)
		return
	}
	mode, err := validation.ParseAutoLocate(values, h.defaultAuto)
	if err != nil {
		h.rejectRequest(w, r, err)
		return
	}
	h.refreshMine(w, r, cfg, mode)
}

func (h *Handler) refreshMine(w http.ResponseWriter, r *http.Request, cfg models.RequestConfig, mode models.AutoLocateMode) {
	weather, ok := h.lookup(w, r, cfg, models.LocationQuery{AutoLocate: mode})
	if !ok {
		return
	}
	if h.cache != nil {
		h.cache.Store(r.Context(), weather)
	}
	writeJSON(w, http.StatusOK, weatherResponse{Weather: weather})
}

// PurgeCache handles DELETE /weather/cache.
func (h *Handler) PurgeCache(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		h.cache.Purge(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRandomWeather handles GET /weather/random. The city is chosen once per session
// (X-Session-ID, generated when absent) and kept until the session refreshes it or
// the pick expires.
func (h *Handler) GetRandomWeather(w http.ResponseWriter, r *http.Request) {
	h.serveRandom(w, r, false)
}

// RefreshRandomWeather handles POST /weather/random/refresh: forget the session's
// city, draw a new one and serve its weather.
func (h *Handler) RefreshRandomWeather(w http.ResponseWriter, r *http.Request) {
	h.serveRandom(w, r, true)
}

func (h *Handler) serveRandom(w http.ResponseWriter, r *http.Request, reset bool) {
	cfg, err := validation.ParseRequestConfig(r.URL.Query())
	if err != nil {
		h.rejectRequest(w, r, err)
		return
	}
	session := r.Header.Get(HeaderSessionID)
	if session == "" {
		session = uuid.New().String()
	}
	w.Header().Set(HeaderSessionID, session)

	if reset {
		h.random.Reset(r.Context(), session)
	}
	city := h.random.Pick(r.Context(), session)
	weather, ok := h.lookup(w, r, cfg, models.LocationQuery{Name: city})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, weatherResponse{Weather: weather, Session: session})
}

// lookup runs the service, records the outcome and writes the error response on failure.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request, cfg models.RequestConfig, q models.LocationQuery) (models.Weather, bool) {
	weather, err := h.weather.GetWeather(r.Context(), cfg, q)
	if err != nil {
		traffic.Record(outcomeFor(err))
		writeServiceError(w, r, err)
		return models.Weather{}, false
	}
	traffic.Record(traffic.Success)
	return weather, true
}

// sameUnits reports whether w was rendered in the units cfg resolves to.
func (h *Handler) sameUnits(w models.Weather, cfg models.RequestConfig) bool {
	resolved := h.weather.RequestConfig(cfg)
	return w.Units.Temp == units.TempUnitLabel(resolved.TempUnit) &&
		w.Units.Wind == units.SpeedUnitLabel(resolved.WindUnit)
}

// rejectRequest answers a request whose parameters failed validation.
func (h *Handler) rejectRequest(w http.ResponseWriter, r *http.Request, err error) {
	traffic.Record(traffic.ClientError)
	loggerFrom(r).Debug("request rejected", zap.Error(err))
	if validation.IsLocationError(err) {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}
	writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
}

// outcomeFor classifies a service error for the traffic tracker.
func outcomeFor(err error) traffic.Outcome {
	switch {
	case errors.Is(err, models.ErrCancelled):
		return traffic.Cancelled
	case errors.Is(err, models.ErrNoLocationProvided),
		errors.Is(err, models.ErrLocationNotFound),
		errors.Is(err, models.ErrUnsupportedProvider):
		return traffic.ClientError
	default:
		return traffic.Failure
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["upstream"] = "unhealthy"
	} else {
		checks["upstream"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.BreakerStates != nil {
		states := h.healthConfig.BreakerStates()
		names := make([]string, 0, len(states))
		for name := range states {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			checks["circuit_"+name] = states[name]
		}
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if h.healthConfig.CachePing(pingCtx) == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
		cancel()
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-dashboard-service",
		"version":   "dev",
		"uptime":    lifecycle.Uptime().Truncate(time.Second).String(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in priority order: shutting-down > overloaded >
// degraded (open circuit, then error rate) > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, lifecycle.ShutdownReason()}
	}
	cfg := h.healthConfig
	if cfg == nil || cfg.Window <= 0 {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if cfg.RateLimitRPS > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.Window.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(traffic.RequestCount(cfg.Window)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if cfg.BreakerStates != nil {
		for _, state := range cfg.BreakerStates() {
			if state == "open" {
				return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
			}
		}
	}
	if cfg.DegradedErrorPct > 0 {
		failures, total := traffic.FailureRate(cfg.Window)
		if total > 0 && float64(failures)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := r.Context().Value("correlation_id").(string)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError maps a service error to its status and code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := loggerFrom(r)
	switch {
	case errors.Is(err, models.ErrCancelled):
		logger.Debug("request cancelled", zap.Error(err))
		writeError(w, r, http.StatusGatewayTimeout, "REQUEST_CANCELLED", "Request cancelled before weather was retrieved")
	case errors.Is(err, models.ErrUnsupportedProvider):
		writeError(w, r, http.StatusBadRequest, "UNSUPPORTED_PROVIDER", err.Error())
	case errors.Is(err, models.ErrNoLocationProvided):
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
	case errors.Is(err, models.ErrLocationNotFound):
		logger.Debug("location not found", zap.Error(err))
		var nf *models.LocationNotFoundError
		msg := "Location not found"
		if errors.As(err, &nf) {
			msg = nf.Error()
		}
		writeError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", msg)
	case errors.Is(err, models.ErrCircuitOpen):
		logger.Warn("upstream circuit open", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "CIRCUIT_OPEN", "Weather provider temporarily unavailable")
	case errors.Is(err, models.ErrGeolocationUnavailable):
		logger.Debug("geolocation unavailable", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "GEOLOCATION_UNAVAILABLE", "Unable to determine your location")
	default:
		logger.Warn("upstream error", zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	}
}

// loggerFrom returns the request-scoped logger set by CorrelationIDMiddleware, or a no-op logger.
func loggerFrom(r *http.Request) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.NewNop()
}
