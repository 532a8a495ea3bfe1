package lifecycle

import (
	"sync"
	"time"
)

var (
	mu        sync.RWMutex
	startedAt time.Time
	draining  bool
	reason    string
)

// MarkStarted records the process start time reported by /health.
func MarkStarted(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	startedAt = t
}

// Uptime returns the time since MarkStarted, or zero if it was never called.
func Uptime() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	if startedAt.IsZero() {
		return 0
	}
	return time.Since(startedAt)
}

// BeginShutdown flags the process as draining. /health answers 503 shutting-down from now on.
// The first reason given is kept.
func BeginShutdown(why string) {
	mu.Lock()
	defer mu.Unlock()
	if !draining {
		reason = why
	}
	draining = true
}

// IsShuttingDown reports whether BeginShutdown has been called.
func IsShuttingDown() bool {
	mu.RLock()
	defer mu.RUnlock()
	return draining
}

// ShutdownReason returns the reason passed to the first BeginShutdown call.
func ShutdownReason() string {
	mu.RLock()
	defer mu.RUnlock()
	return reason
}

// Reset clears all lifecycle state. For tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	startedAt = time.Time{}
	draining = false
	reason = ""
}
