package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard-service/internal/observability"
)

// NewRouter mounts the dashboard API. Weather routes are rate limited, bounded by
// requestTimeout (none when zero) and read device geolocation headers.
// Every route is registered on the root router so a known path with the wrong
// method answers 405.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	weatherChain := []mux.MiddlewareFunc{RateLimitMiddleware(limiter)}
	if requestTimeout > 0 {
		weatherChain = append(weatherChain, TimeoutMiddleware(requestTimeout))
	}
	weatherChain = append(weatherChain, GeolocationMiddleware)
	weather := func(path string, fn http.HandlerFunc, method string) {
		var handler http.Handler = fn
		for i := len(weatherChain) - 1; i >= 0; i-- {
			handler = weatherChain[i](handler)
		}
		router.Handle(path, handler).Methods(method)
	}
	weather("/weather", h.GetWeather, http.MethodGet)
	weather("/weather/search", h.SearchWeather, http.MethodGet)
	weather("/weather/mine", h.GetMyWeather, http.MethodGet)
	weather("/weather/mine/refresh", h.RefreshMyWeather, http.MethodPost)
	weather("/weather/cache", h.PurgeCache, http.MethodDelete)
	weather("/weather/random", h.GetRandomWeather, http.MethodGet)
	weather("/weather/random/refresh", h.RefreshRandomWeather, http.MethodPost)
	return router
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" is not allowed on "+r.URL.Path)
}
