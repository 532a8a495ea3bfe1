package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-dashboard-service/internal/models"
)

func newTestClient(url string) *Client {
	return New(Config{
		ForecastURL:         url + "/v1/forecast",
		GeocodingURL:        url + "/v1/search",
		ReverseGeocodingURL: url + "/data/reverse-geocode-client",
		IPLocationURL:       url + "/json/",
		Breaker:             circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute},
	}, zap.NewNop())
}

func writeJSONBody(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestClient_Fetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/v1/forecast" {
			t.Errorf("path = %q, want /v1/forecast", r.URL.Path)
		}
		q := r.URL.Query()
		want := map[string]string{
			"latitude":        "40.4168",
			"longitude":       "-3.7038",
			"current":         forecastCurrentFields,
			"daily":           "sunrise,sunset",
			"wind_speed_unit": "ms",
			"timezone":        "GMT",
		}
		for k, v := range want {
			if got := q.Get(k); got != v {
				t.Errorf("query %s = %q, want %q", k, got, v)
			}
		}
		writeJSONBody(t, w, map[string]interface{}{
			"current": map[string]interface{}{
				"time":                 "2024-06-01T12:00",
				"temperature_2m":       21.4,
				"relative_humidity_2m": 55,
				"apparent_temperature": 20.6,
				"weather_code":         1,
				"wind_speed_10m":       3.2,
			},
			"daily": map[string]interface{}{
				"sunrise": []string{"2024-06-01T04:45"},
				"sunset":  []string{"2024-06-01T19:40"},
			},
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	got, err := c.Fetch(context.Background(), models.Coordinates{Latitude: 40.4168, Longitude: -3.7038})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Current.Temperature2m != 21.4 || got.Current.WeatherCode != 1 || got.Current.WindSpeed10m != 3.2 {
		t.Errorf("Fetch() current = %+v", got.Current)
	}
	if got.Current.RelativeHumidity2m != 55 {
		t.Errorf("humidity = %v, want 55", got.Current.RelativeHumidity2m)
	}
	if len(got.Daily.Sunrise) != 1 || got.Daily.Sunset[0] != "2024-06-01T19:40" {
		t.Errorf("Fetch() daily = %+v", got.Daily)
	}
}

func TestClient_Search(t *testing.T) {
	tests := []struct {
		name      string
		body      map[string]interface{}
		wantCount int
	}{
		{
			name: "one match",
			body: map[string]interface{}{"results": []map[string]interface{}{
				{"name": "Madrid", "country": "Spain", "latitude": 40.4168, "longitude": -3.7038},
			}},
			wantCount: 1,
		},
		{name: "no results key", body: map[string]interface{}{"generationtime_ms": 0.5}, wantCount: 0},
		{name: "empty results", body: map[string]interface{}{"results": []interface{}{}}, wantCount: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				if q.Get("name") != "Madrid" || q.Get("count") != "1" || q.Get("language") != "es" {
					t.Errorf("unexpected query %s", r.URL.RawQuery)
				}
				writeJSONBody(t, w, tt.body)
			}))
			defer server.Close()

			places, err := newTestClient(server.URL).Search(context.Background(), "Madrid", "es")
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if len(places) != tt.wantCount {
				t.Fatalf("Search() returned %d places, want %d", len(places), tt.wantCount)
			}
			if tt.wantCount == 1 {
				if places[0].Name != "Madrid" || places[0].Coordinates.Latitude != 40.4168 {
					t.Errorf("Search() place = %+v", places[0])
				}
			}
		})
	}
}

func TestClient_ReverseGeocode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("latitude") != "48.8566" || q.Get("longitude") != "2.3522" || q.Get("localityLanguage") != "fr" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		writeJSONBody(t, w, map[string]string{"city": "Paris", "locality": "1er Arrondissement"})
	}))
	defer server.Close()

	city, err := newTestClient(server.URL).ReverseGeocode(context.Background(), models.Coordinates{Latitude: 48.8566, Longitude: 2.3522}, "fr")
	if err != nil {
		t.Fatalf("ReverseGeocode() error = %v", err)
	}
	if city != "Paris" {
		t.Errorf("ReverseGeocode() = %q, want Paris", city)
	}
}

func TestClient_LocateIP(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    models.Coordinates
		wantErr bool
	}{
		{name: "position", body: `{"ip":"203.0.113.9","latitude":40.4,"longitude":-3.7}`, want: models.Coordinates{Latitude: 40.4, Longitude: -3.7}},
		{name: "zero position is valid", body: `{"latitude":0,"longitude":0}`, want: models.Coordinates{}},
		{name: "api error flag", body: `{"error":true,"reason":"RateLimited"}`, wantErr: true},
		{name: "missing fields", body: `{"ip":"203.0.113.9"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.RawQuery != "" || r.URL.Path != "/json/" {
					t.Errorf("IP lookup should send no parameters or address path, got %q", r.URL.RequestURI())
				}
				for _, h := range []string{"X-Forwarded-For", "X-Real-IP", "Forwarded"} {
					if v := r.Header.Get(h); v != "" {
						t.Errorf("IP lookup sent %s = %q, want no client address", h, v)
					}
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			got, err := newTestClient(server.URL).LocateIP(context.Background())
			if tt.wantErr {
				if !errors.Is(err, models.ErrUpstream) {
					t.Fatalf("LocateIP() error = %v, want ErrUpstream", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LocateIP() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("LocateIP() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClient_NonSuccessStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"400 bad request", http.StatusBadRequest},
		{"404 not found", http.StatusNotFound},
		{"429 rate limited", http.StatusTooManyRequests},
		{"500 server error", http.StatusInternalServerError},
		{"503 unavailable", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Fetch(context.Background(), models.Coordinates{})
			if !errors.Is(err, models.ErrUpstream) {
				t.Fatalf("Fetch() error = %v, want ErrUpstream", err)
			}
			var upstream *models.UpstreamError
			if !errors.As(err, &upstream) {
				t.Fatalf("Fetch() error = %T, want *models.UpstreamError", err)
			}
			if upstream.Endpoint != EndpointForecast || upstream.StatusCode != tt.status {
				t.Errorf("UpstreamError = %+v", upstream)
			}
		})
	}
}

func TestClient_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"current": not-json`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Fetch(context.Background(), models.Coordinates{})
	if !errors.Is(err, models.ErrUpstream) {
		t.Fatalf("Fetch() error = %v, want ErrUpstream", err)
	}
	if got := CategorizeError(err); got != ErrorCategoryParsing {
		t.Errorf("CategorizeError() = %v, want parsing", got)
	}
}

func TestClient_Cancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(server.URL).Fetch(ctx, models.Coordinates{})
	if !errors.Is(err, models.ErrCancelled) {
		t.Fatalf("Fetch() error = %v, want ErrCancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v, want to match context.Canceled", err)
	}
	if errors.Is(err, models.ErrUpstream) {
		t.Error("cancellation must not look like an upstream failure")
	}
}

func TestClient_AlreadyCancelledContext(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(server.URL).Search(ctx, "Madrid", "es")
	if !errors.Is(err, models.ErrCancelled) {
		t.Fatalf("Search() error = %v, want ErrCancelled", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server hits = %d, want 0", hits.Load())
	}
}

func TestClient_ForwardsCorrelationID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Correlation-ID"); got != "corr-123" {
			t.Errorf("X-Correlation-ID = %q, want corr-123", got)
		}
		writeJSONBody(t, w, map[string]interface{}{"latitude": 1.0, "longitude": 2.0})
	}))
	defer server.Close()

	ctx := context.WithValue(context.Background(), "correlation_id", "corr-123")
	if _, err := newTestClient(server.URL).LocateIP(ctx); err != nil {
		t.Fatalf("LocateIP() error = %v", err)
	}
}

// TestClient_BreakerOpensPerEndpoint verifies that repeated 5xx answers open the
// endpoint's circuit without affecting the other endpoints.
func TestClient_BreakerOpensPerEndpoint(t *testing.T) {
	var forecastHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/forecast" {
			forecastHits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSONBody(t, w, map[string]interface{}{"latitude": 1.0, "longitude": 2.0})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	for i := 0; i < 2; i++ {
		if _, err := c.Fetch(context.Background(), models.Coordinates{}); !errors.Is(err, models.ErrUpstream) {
			t.Fatalf("Fetch() #%d error = %v, want ErrUpstream", i, err)
		}
	}
	_, err := c.Fetch(context.Background(), models.Coordinates{})
	if !errors.Is(err, models.ErrCircuitOpen) {
		t.Fatalf("Fetch() after threshold error = %v, want ErrCircuitOpen", err)
	}
	if forecastHits.Load() != 2 {
		t.Errorf("forecast hits = %d, want 2", forecastHits.Load())
	}
	if got := c.BreakerStates()[EndpointForecast]; got != "open" {
		t.Errorf("forecast breaker = %q, want open", got)
	}
	if _, err := c.LocateIP(context.Background()); err != nil {
		t.Errorf("LocateIP() error = %v, other endpoints should be unaffected", err)
	}
}

func TestClient_NotFoundDoesNotOpenBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	for i := 0; i < 5; i++ {
		_, err := c.ReverseGeocode(context.Background(), models.Coordinates{}, "en")
		if errors.Is(err, models.ErrCircuitOpen) {
			t.Fatalf("ReverseGeocode() #%d opened the circuit on 404", i)
		}
	}
	if got := c.BreakerStates()[EndpointReverseGeocoding]; got != "closed" {
		t.Errorf("reverse_geocoding breaker = %q, want closed", got)
	}
}
