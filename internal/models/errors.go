package models

import (
	"errors"
	"fmt"
)

var (
	ErrNoLocationProvided     = errors.New("no location provided")
	ErrLocationNotFound       = errors.New("location not found")
	ErrGeolocationUnavailable = errors.New("geolocation unavailable")
	ErrUpstream               = errors.New("upstream failure")
	ErrCancelled              = errors.New("request cancelled")
	ErrUnsupportedProvider    = errors.New("unsupported weather provider")
	ErrCircuitOpen            = errors.New("circuit breaker open")
)

// LocationNotFoundError is returned when forward geocoding has no match for Query.
type LocationNotFoundError struct {
	Query string
}

func (e *LocationNotFoundError) Error() string {
	return fmt.Sprintf("location %q not found", e.Query)
}

func (e *LocationNotFoundError) Is(target error) bool {
	return target == ErrLocationNotFound
}

// UpstreamError is returned when an outbound call answers with a non-2xx status.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.Endpoint, e.StatusCode)
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// Cancelled wraps a context error so it matches both ErrCancelled and the original cause.
func Cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
