package traffic

import (
	"sync"
	"time"
)

// Outcome classifies how a weather lookup ended.
type Outcome int

const (
	Success Outcome = iota
	// Failure is a lookup that failed on the service side (upstream, circuit open).
	Failure
	// ClientError is a lookup rejected because of the caller's input (bad or unknown location).
	ClientError
	// Cancelled is a lookup abandoned by the caller or its deadline.
	Cancelled
	// Denied is a request refused by the rate limiter.
	Denied
	numOutcomes
)

const retention = 30 * time.Minute

var defaultTracker = NewTracker()

// Record records an outcome on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// Count returns how many of the given outcomes fell within the window.
func Count(window time.Duration, outcomes ...Outcome) int {
	return defaultTracker.Count(window, outcomes...)
}

// RequestCount returns the number of outcomes of every kind within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.Count(window)
}

// DenialCount returns the number of rate-limit denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.Count(window, Denied)
}

// FailureRate returns (failures, total) within the window. Client errors count as
// answered requests; cancellations and denials are excluded.
func FailureRate(window time.Duration) (failures, total int) {
	return defaultTracker.FailureRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker keeps one sliding window of timestamps per outcome.
type Tracker struct {
	mu    sync.Mutex
	now   func() time.Time
	times [numOutcomes][]time.Time
}

// NewTracker returns an empty Tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Record appends the current time to the outcome's window.
func (t *Tracker) Record(o Outcome) {
	if o < 0 || o >= numOutcomes {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Count returns the number of the given outcomes within the window; all outcomes when none given.
func (t *Tracker) Count(window time.Duration, outcomes ...Outcome) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	if len(outcomes) == 0 {
		n := 0
		for o := Outcome(0); o < numOutcomes; o++ {
			n += countSince(t.times[o], cutoff)
		}
		return n
	}
	n := 0
	for _, o := range outcomes {
		if o >= 0 && o < numOutcomes {
			n += countSince(t.times[o], cutoff)
		}
	}
	return n
}

// FailureRate returns (failures, successes+failures+client errors) within the window.
func (t *Tracker) FailureRate(window time.Duration) (failures, total int) {
	failures = t.Count(window, Failure)
	return failures, failures + t.Count(window, Success, ClientError)
}

// Reset clears every window.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for o := range t.times {
		t.times[o] = nil
	}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than the retention period. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for o := range t.times {
		times := t.times[o]
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
