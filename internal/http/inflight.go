package http

import (
	"context"
	"sync"
	"time"
)

// RequestDrain tracks requests still being served, per route template, so shutdown can
// wait for them and report what was interrupted.
type RequestDrain struct {
	mu      sync.Mutex
	total   int64
	byRoute map[string]int64
}

// NewRequestDrain returns an empty drain.
func NewRequestDrain() *RequestDrain {
	return &RequestDrain{byRoute: make(map[string]int64)}
}

// Begin records a request on route and returns the func that ends it. The returned
// func is safe to call more than once.
func (d *RequestDrain) Begin(route string) func() {
	d.mu.Lock()
	d.total++
	d.byRoute[route]++
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			d.total--
			if d.byRoute[route]--; d.byRoute[route] <= 0 {
				delete(d.byRoute, route)
			}
			d.mu.Unlock()
		})
	}
}

// Count returns the number of requests in flight.
func (d *RequestDrain) Count() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

// ByRoute returns a copy of the in-flight counts keyed by route template.
func (d *RequestDrain) ByRoute() map[string]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int64, len(d.byRoute))
	for k, v := range d.byRoute {
		out[k] = v
	}
	return out
}

// Wait polls every interval (50ms when not positive) until nothing is in flight or ctx ends.
func (d *RequestDrain) Wait(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for d.Count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// serverDrain is fed by MetricsMiddleware.
var serverDrain = NewRequestDrain()

// InFlightCount returns how many requests the server is serving.
func InFlightCount() int64 {
	return serverDrain.Count()
}

// InFlightByRoute returns the server's in-flight requests keyed by route template.
func InFlightByRoute() map[string]int64 {
	return serverDrain.ByRoute()
}

// WaitForInFlight blocks until the server has no requests in flight or ctx ends.
func WaitForInFlight(ctx context.Context, interval time.Duration) error {
	return serverDrain.Wait(ctx, interval)
}
