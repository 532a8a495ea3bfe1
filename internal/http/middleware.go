package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard-service/internal/geolocation"
	"github.com/kjstillabower/weather-dashboard-service/internal/observability"
	"github.com/kjstillabower/weather-dashboard-service/internal/traffic"
)

// HeaderCorrelationID carries the request id in both directions.
const HeaderCorrelationID = "X-Correlation-ID"

// CorrelationIDMiddleware reuses the caller's correlation id or mints one, echoes it,
// and puts it in the context next to a logger that carries it.
func CorrelationIDMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderCorrelationID)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(HeaderCorrelationID, id)

			ctx := context.WithValue(r.Context(), "correlation_id", id)
			ctx = context.WithValue(ctx, "logger", logger.With(zap.String("correlation_id", id)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MetricsMiddleware counts and times requests by route template. While a request is
// served it is registered with the server drain that shutdown waits on.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := getRoute(r)
		start := time.Now()
		end := serverDrain.Begin(route)
		observability.HTTPRequestsInFlight.Inc()

		rec := &responseRecorder{ResponseWriter: w}
		defer func() {
			observability.HTTPRequestsInFlight.Dec()
			end()
			observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, statusClass(rec.status())).Inc()
			observability.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}()
		next.ServeHTTP(rec, r)
	})
}

// getRoute returns the matched route template so metric labels stay bounded.
func getRoute(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	if p := r.URL.Path; p == "/health" || p == "/metrics" {
		return p
	}
	return "unmatched"
}

// responseRecorder remembers the status a handler sent, explicitly or by writing a body.
type responseRecorder struct {
	http.ResponseWriter
	code int
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// TimeoutMiddleware bounds each request's context by timeout. Lookups still running at
// the deadline see context.DeadlineExceeded and answer 504.
func TimeoutMiddleware(timeout time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware answers 429 once the token bucket is empty. A nil limiter disables it.
func RateLimitMiddleware(limiter *rate.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}
			loggerFrom(r).Debug("rate limit denied", zap.String("path", r.URL.Path))
			traffic.Record(traffic.Denied)
			observability.RateLimitDeniedTotal.Inc()
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
		})
	}
}

// GeolocationMiddleware moves a device position (or a denial) reported in request
// headers into the context, where the GPS device reads it. Malformed headers are a 400.
func GeolocationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := geolocation.FromHeaders(r.Context(), r.Header)
		if err != nil {
			traffic.Record(traffic.ClientError)
			writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
