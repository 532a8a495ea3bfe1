package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kjstillabower/weather-dashboard-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-dashboard-service/internal/client"
	"github.com/kjstillabower/weather-dashboard-service/internal/models"
)

// Paths served by FakeUpstream.
const (
	ForecastPath         = "/v1/forecast"
	GeocodingPath        = "/v1/search"
	ReverseGeocodingPath = "/data/reverse-geocode-client"
	IPLocationPath       = "/json/"
)

// Madrid is the position the fake geocoder and IP lookup answer with by default.
var Madrid = models.Coordinates{Latitude: 40.4, Longitude: -3.7}

// FakeUpstream serves the four outbound APIs from one httptest server. Each endpoint
// answers with a fixed Madrid scenario unless its status override is set.
type FakeUpstream struct {
	Server *httptest.Server

	mu             sync.Mutex
	places         map[string]models.Coordinates
	city           string
	ipPosition     models.Coordinates
	statusOverride map[string]int
	calls          map[string]int
	block          chan struct{}
}

// NewFakeUpstream starts a fake upstream closed with the test.
// "Madrid, España" and "Madrid" geocode to Madrid; every reverse lookup is "Madrid".
func NewFakeUpstream(t *testing.T) *FakeUpstream {
	t.Helper()
	f := &FakeUpstream{
		places: map[string]models.Coordinates{
			"madrid, españa": Madrid,
			"madrid":         Madrid,
		},
		city:           "Madrid",
		ipPosition:     Madrid,
		statusOverride: make(map[string]int),
		calls:          make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(ForecastPath, f.handle(client.EndpointForecast, f.forecast))
	mux.HandleFunc(GeocodingPath, f.handle(client.EndpointGeocoding, f.search))
	mux.HandleFunc(ReverseGeocodingPath, f.handle(client.EndpointReverseGeocoding, f.reverse))
	mux.HandleFunc(IPLocationPath, f.handle(client.EndpointIPLocation, f.ip))
	f.Server = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.Unblock()
		f.Server.Close()
	})
	return f
}

// ClientConfig returns a client.Config pointing every endpoint at the fake.
func (f *FakeUpstream) ClientConfig() client.Config {
	base := f.Server.URL
	return client.Config{
		ForecastURL:         base + ForecastPath,
		GeocodingURL:        base + GeocodingPath,
		ReverseGeocodingURL: base + ReverseGeocodingPath,
		IPLocationURL:       base + IPLocationPath,
		UserAgent:           "weather-dashboard-service/test",
		Breaker:             circuitbreaker.Config{FailureThreshold: 100},
	}
}

// AddPlace makes name (matched case-insensitively) geocode to coords.
func (f *FakeUpstream) AddPlace(name string, coords models.Coordinates) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.places[strings.ToLower(name)] = coords
}

// SetCity changes the reverse geocoding answer.
func (f *FakeUpstream) SetCity(city string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.city = city
}

// SetStatus makes endpoint answer with status and an empty JSON body. 0 clears it.
func (f *FakeUpstream) SetStatus(endpoint string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.statusOverride, endpoint)
		return
	}
	f.statusOverride[endpoint] = status
}

// Block makes every request wait until Unblock or until the caller gives up.
func (f *FakeUpstream) Block() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.block == nil {
		f.block = make(chan struct{})
	}
}

// Unblock releases blocked requests.
func (f *FakeUpstream) Unblock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.block != nil {
		close(f.block)
		f.block = nil
	}
}

// Calls returns how many requests endpoint has received.
func (f *FakeUpstream) Calls(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func (f *FakeUpstream) handle(endpoint string, body func(r *http.Request) interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[endpoint]++
		status := f.statusOverride[endpoint]
		block := f.block
		f.mu.Unlock()

		if block != nil {
			select {
			case <-block:
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_ = json.NewEncoder(w).Encode(body(r))
	}
}

func (f *FakeUpstream) forecast(_ *http.Request) interface{} {
	return MadridForecast()
}

func (f *FakeUpstream) search(r *http.Request) interface{} {
	name := r.URL.Query().Get("name")
	f.mu.Lock()
	coords, ok := f.places[strings.ToLower(strings.TrimSpace(name))]
	f.mu.Unlock()
	if !ok {
		return map[string]interface{}{"generationtime_ms": 0.5}
	}
	display := strings.TrimSpace(strings.SplitN(name, ",", 2)[0])
	return map[string]interface{}{
		"results": []map[string]interface{}{{
			"name":      display,
			"country":   "España",
			"latitude":  coords.Latitude,
			"longitude": coords.Longitude,
		}},
	}
}

func (f *FakeUpstream) reverse(_ *http.Request) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]interface{}{"city": f.city, "locality": f.city}
}

func (f *FakeUpstream) ip(_ *http.Request) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]interface{}{"latitude": f.ipPosition.Latitude, "longitude": f.ipPosition.Longitude}
}

// MadridForecast is a daytime forecast: 21.3 °C, mainly clear, feels like 20.8 °C,
// 3.2 m/s wind, humidity 45 %.
func MadridForecast() models.ForecastPayload {
	var p models.ForecastPayload
	p.Current.Time = "2024-06-01T12:00"
	p.Current.Temperature2m = 21.3
	p.Current.RelativeHumidity2m = 45
	p.Current.ApparentTemperature = 20.8
	p.Current.WeatherCode = 1
	p.Current.WindSpeed10m = 3.2
	p.Daily.Sunrise = []string{"2024-06-01T04:45"}
	p.Daily.Sunset = []string{"2024-06-01T19:40"}
	return p
}
