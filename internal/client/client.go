package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-dashboard-service/internal/models"
	"github.com/kjstillabower/weather-dashboard-service/internal/observability"
)

// Endpoint labels used for metrics, breakers and UpstreamError.Endpoint.
const (
	EndpointForecast         = "forecast"
	EndpointGeocoding        = "geocoding"
	EndpointReverseGeocoding = "reverse_geocoding"
	EndpointIPLocation       = "ip_location"
)

const forecastCurrentFields = "temperature_2m,relative_humidity_2m,apparent_temperature,weather_code,wind_speed_10m"

// Geocoder turns place names into coordinates and back.
type Geocoder interface {
	Search(ctx context.Context, name, lang string) ([]Place, error)
	ReverseGeocode(ctx context.Context, c models.Coordinates, lang string) (string, error)
}

// IPLocator estimates the caller's position from its public IP.
type IPLocator interface {
	LocateIP(ctx context.Context) (models.Coordinates, error)
}

// ForecastFetcher retrieves current conditions and today's sun times for a position.
type ForecastFetcher interface {
	Fetch(ctx context.Context, c models.Coordinates) (models.ForecastPayload, error)
}

// Place is one forward-geocoding match.
type Place struct {
	Name        string
	Country     string
	Coordinates models.Coordinates
}

// Config holds upstream base URLs and transport settings.
type Config struct {
	ForecastURL         string
	GeocodingURL        string
	ReverseGeocodingURL string
	IPLocationURL       string
	// Timeout bounds each call. Zero leaves calls bounded only by the caller's context.
	Timeout   time.Duration
	UserAgent string
	Breaker   circuitbreaker.Config
}

// Client talks to the forecast, geocoding and IP lookup APIs. It is safe for concurrent use.
type Client struct {
	http     *resty.Client
	cfg      Config
	logger   *zap.Logger
	breakers map[string]*circuitbreaker.CircuitBreaker
}

// New returns a Client. Each endpoint gets its own circuit breaker.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "weather-dashboard-service"
	}
	rc := resty.New().
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent).
		SetLogger(logger.Sugar()).
		SetRetryCount(0)
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}

	c := &Client{
		http:     rc,
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}
	for _, endpoint := range []string{EndpointForecast, EndpointGeocoding, EndpointReverseGeocoding, EndpointIPLocation} {
		bc := cfg.Breaker
		bc.Component = endpoint
		bc.OnStateChange = func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(endpoint, from.String(), to.String())
			logger.Warn("circuit breaker state change",
				zap.String("endpoint", endpoint),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		}
		c.breakers[endpoint] = circuitbreaker.New(bc)
		observability.CircuitBreakerState.WithLabelValues(endpoint).Set(0)
	}
	return c
}

type geocodingResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type reverseGeocodingResponse struct {
	City     string `json:"city"`
	Locality string `json:"locality"`
}

type ipLocationResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Error     bool     `json:"error"`
	Reason    string   `json:"reason"`
}

// Search returns at most one match for name, localized to lang. No match is an empty slice, not an error.
func (c *Client) Search(ctx context.Context, name, lang string) ([]Place, error) {
	params := map[string]string{"name": name, "count": "1"}
	if lang != "" {
		params["language"] = lang
	}
	var resp geocodingResponse
	if err := c.get(ctx, EndpointGeocoding, c.cfg.GeocodingURL, params, &resp); err != nil {
		return nil, err
	}
	places := make([]Place, 0, len(resp.Results))
	for _, r := range resp.Results {
		places = append(places, Place{
			Name:        r.Name,
			Country:     r.Country,
			Coordinates: models.Coordinates{Latitude: r.Latitude, Longitude: r.Longitude},
		})
	}
	return places, nil
}

// ReverseGeocode returns the city name for a position. An empty string means the API knew no city.
func (c *Client) ReverseGeocode(ctx context.Context, coords models.Coordinates, lang string) (string, error) {
	params := map[string]string{
		"latitude":  formatCoord(coords.Latitude),
		"longitude": formatCoord(coords.Longitude),
	}
	if lang != "" {
		params["localityLanguage"] = lang
	}
	var resp reverseGeocodingResponse
	if err := c.get(ctx, EndpointReverseGeocoding, c.cfg.ReverseGeocodingURL, params, &resp); err != nil {
		return "", err
	}
	return resp.City, nil
}

// LocateIP returns the approximate position of this process's public egress IP. The
// lookup carries no client address, so behind a proxy or in a data center it locates
// the server rather than the browser.
func (c *Client) LocateIP(ctx context.Context) (models.Coordinates, error) {
	var resp ipLocationResponse
	if err := c.get(ctx, EndpointIPLocation, c.cfg.IPLocationURL, nil, &resp); err != nil {
		return models.Coordinates{}, err
	}
	if resp.Error {
		observability.UpstreamErrorsTotal.WithLabelValues(EndpointIPLocation, string(ErrorCategoryUpstreamRejected)).Inc()
		return models.Coordinates{}, fmt.Errorf("%w: %s: %s", models.ErrUpstream, EndpointIPLocation, resp.Reason)
	}
	if resp.Latitude == nil || resp.Longitude == nil {
		observability.UpstreamErrorsTotal.WithLabelValues(EndpointIPLocation, string(ErrorCategoryParsing)).Inc()
		return models.Coordinates{}, fmt.Errorf("%w: %s: response has no position", models.ErrUpstream, EndpointIPLocation)
	}
	return models.Coordinates{Latitude: *resp.Latitude, Longitude: *resp.Longitude}, nil
}

// Fetch retrieves current conditions and daily sunrise/sunset in UTC, wind in m/s.
func (c *Client) Fetch(ctx context.Context, coords models.Coordinates) (models.ForecastPayload, error) {
	params := map[string]string{
		"latitude":        formatCoord(coords.Latitude),
		"longitude":       formatCoord(coords.Longitude),
		"current":         forecastCurrentFields,
		"daily":           "sunrise,sunset",
		"wind_speed_unit": "ms",
		"timezone":        "GMT",
	}
	var payload models.ForecastPayload
	if err := c.get(ctx, EndpointForecast, c.cfg.ForecastURL, params, &payload); err != nil {
		return models.ForecastPayload{}, err
	}
	return payload, nil
}

// BreakerStates returns the current circuit state per endpoint.
func (c *Client) BreakerStates() map[string]string {
	out := make(map[string]string, len(c.breakers))
	for endpoint, b := range c.breakers {
		out[endpoint] = b.State().String()
	}
	return out
}

// get performs one GET through the endpoint's breaker and decodes a 2xx JSON body into out.
// Caller cancellation surfaces as models.ErrCancelled; non-2xx as *models.UpstreamError.
func (c *Client) get(ctx context.Context, endpoint, url string, params map[string]string, out interface{}) error {
	err := c.breakers[endpoint].Call(ctx, func() error {
		return c.do(ctx, endpoint, url, params, out)
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, models.ErrCancelled) {
		err = models.Cancelled(ctxErr)
	}
	if errors.Is(err, models.ErrCircuitOpen) {
		observability.UpstreamErrorsTotal.WithLabelValues(endpoint, string(ErrorCategoryCircuitOpen)).Inc()
	}
	return err
}

func (c *Client) do(ctx context.Context, endpoint, url string, params map[string]string, out interface{}) error {
	start := time.Now()
	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.SetHeader("X-Correlation-ID", corrID)
	}

	resp, err := req.Get(url)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(endpoint, "error").Observe(duration)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Cancelled(ctxErr)
		}
		err = fmt.Errorf("%w: %s: request failed: %w", models.ErrUpstream, endpoint, err)
		observability.UpstreamErrorsTotal.WithLabelValues(endpoint, string(CategorizeError(err))).Inc()
		return err
	}

	status := statusLabel(resp.StatusCode())
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(duration)

	if !resp.IsSuccess() {
		err := &models.UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode()}
		observability.UpstreamErrorsTotal.WithLabelValues(endpoint, string(CategorizeError(err))).Inc()
		c.logger.Debug("upstream non-success status",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode()))
		return err
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		observability.UpstreamErrorsTotal.WithLabelValues(endpoint, string(ErrorCategoryParsing)).Inc()
		return fmt.Errorf("%w: %s: parse response: %w", models.ErrUpstream, endpoint, err)
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
