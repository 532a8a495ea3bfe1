package geolocation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/weather-dashboard-service/internal/models"
)

// DefaultTimeout bounds a single device position request.
const DefaultTimeout = 10 * time.Second

// Headers a caller uses to share its device position with the service.
const (
	HeaderLatitude  = "X-Device-Latitude"
	HeaderLongitude = "X-Device-Longitude"
	// HeaderDenied set to "true" reports that the user refused the position prompt.
	HeaderDenied = "X-Geolocation-Denied"
)

// Failure causes. All of them match models.ErrGeolocationUnavailable.
var (
	ErrUnsupported      = fmt.Errorf("%w: not supported", models.ErrGeolocationUnavailable)
	ErrPermissionDenied = fmt.Errorf("%w: permission denied", models.ErrGeolocationUnavailable)
	ErrTimeout          = fmt.Errorf("%w: timed out", models.ErrGeolocationUnavailable)
)

// Device is the environment's positioning capability.
type Device interface {
	CurrentPosition(ctx context.Context) (models.Coordinates, error)
}

// Unavailable is a Device for environments without positioning.
type Unavailable struct{}

func (Unavailable) CurrentPosition(ctx context.Context) (models.Coordinates, error) {
	return models.Coordinates{}, ErrUnsupported
}

// Static is a Device that always reports a fixed, configured position.
type Static struct {
	Position models.Coordinates
}

func (s Static) CurrentPosition(ctx context.Context) (models.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return models.Coordinates{}, err
	}
	return s.Position, nil
}

type reportKey struct{}

type report struct {
	position models.Coordinates
	denied   bool
}

// WithPosition attaches a caller-reported position to ctx.
func WithPosition(ctx context.Context, c models.Coordinates) context.Context {
	return context.WithValue(ctx, reportKey{}, report{position: c})
}

// WithDenied records on ctx that the caller refused to share its position.
func WithDenied(ctx context.Context) context.Context {
	return context.WithValue(ctx, reportKey{}, report{denied: true})
}

// FromHeaders reads a caller-reported position or denial from request headers into ctx.
// Headers that are absent leave ctx unchanged; malformed ones are an error.
func FromHeaders(ctx context.Context, h http.Header) (context.Context, error) {
	if strings.EqualFold(strings.TrimSpace(h.Get(HeaderDenied)), "true") {
		return WithDenied(ctx), nil
	}
	latRaw, lonRaw := strings.TrimSpace(h.Get(HeaderLatitude)), strings.TrimSpace(h.Get(HeaderLongitude))
	if latRaw == "" && lonRaw == "" {
		return ctx, nil
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil || lat < -90 || lat > 90 {
		return ctx, fmt.Errorf("invalid %s %q", HeaderLatitude, latRaw)
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil || lon < -180 || lon > 180 {
		return ctx, fmt.Errorf("invalid %s %q", HeaderLongitude, lonRaw)
	}
	return WithPosition(ctx, models.Coordinates{Latitude: lat, Longitude: lon}), nil
}

// Reported is a Device that answers with the position the caller attached to the
// request context, and otherwise defers to Fallback (Unavailable when nil).
type Reported struct {
	Fallback Device
}

func (r Reported) CurrentPosition(ctx context.Context) (models.Coordinates, error) {
	if rep, ok := ctx.Value(reportKey{}).(report); ok {
		if rep.denied {
			return models.Coordinates{}, ErrPermissionDenied
		}
		return rep.position, nil
	}
	if r.Fallback == nil {
		return Unavailable{}.CurrentPosition(ctx)
	}
	return r.Fallback.CurrentPosition(ctx)
}

// Bounded wraps a Device so each request gives up after Timeout (DefaultTimeout when zero).
type Bounded struct {
	Device  Device
	Timeout time.Duration
}

// CurrentPosition returns the wrapped device's position. Every failure matches
// models.ErrGeolocationUnavailable except caller cancellation, which matches models.ErrCancelled.
func (b Bounded) CurrentPosition(ctx context.Context) (models.Coordinates, error) {
	if b.Device == nil {
		return models.Coordinates{}, ErrUnsupported
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	posCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		pos models.Coordinates
		err error
	}
	done := make(chan result, 1)
	go func() {
		pos, err := b.Device.CurrentPosition(posCtx)
		done <- result{pos, err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.pos, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Coordinates{}, models.Cancelled(ctxErr)
		}
		if errors.Is(res.err, models.ErrGeolocationUnavailable) {
			return models.Coordinates{}, res.err
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			return models.Coordinates{}, ErrTimeout
		}
		return models.Coordinates{}, fmt.Errorf("%w: %w", models.ErrGeolocationUnavailable, res.err)
	case <-posCtx.Done():
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Coordinates{}, models.Cancelled(ctxErr)
		}
		return models.Coordinates{}, ErrTimeout
	}
}
