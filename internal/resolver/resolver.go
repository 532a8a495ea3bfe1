package resolver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard-service/internal/client"
	"github.com/kjstillabower/weather-dashboard-service/internal/geolocation"
	"github.com/kjstillabower/weather-dashboard-service/internal/models"
)

// UnknownLocation names positions the reverse geocoder has no city for.
const UnknownLocation = "Unknown Location"

// Resolved is a position together with its display name.
type Resolved struct {
	Coordinates models.Coordinates
	Name        string
}

// Resolver turns a LocationQuery into coordinates and a display name.
type Resolver struct {
	geocoder client.Geocoder
	ip       client.IPLocator
	device   geolocation.Device
	logger   *zap.Logger
}

// New returns a Resolver. A nil device behaves as geolocation.Unavailable.
func New(geocoder client.Geocoder, ip client.IPLocator, device geolocation.Device, logger *zap.Logger) *Resolver {
	if device == nil {
		device = geolocation.Unavailable{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{geocoder: geocoder, ip: ip, device: device, logger: logger}
}

// Resolve produces coordinates and a display name for q. When several fields are set,
// auto-locate wins over coordinates, and coordinates over the name.
func (r *Resolver) Resolve(ctx context.Context, q models.LocationQuery, lang string) (Resolved, error) {
	switch {
	case q.AutoLocate != models.AutoLocateNone:
		coords, err := r.Locate(ctx, q.AutoLocate)
		if err != nil {
			return Resolved{}, err
		}
		return r.Name(ctx, coords, lang)
	case q.Coordinates != nil:
		return r.Name(ctx, *q.Coordinates, lang)
	case strings.TrimSpace(q.Name) != "":
		return r.Search(ctx, q.Name, lang)
	default:
		return Resolved{}, models.ErrNoLocationProvided
	}
}

// Locate runs one auto-locate branch and returns the position only.
func (r *Resolver) Locate(ctx context.Context, mode models.AutoLocateMode) (models.Coordinates, error) {
	switch mode {
	case models.AutoLocateGPS:
		return r.device.CurrentPosition(ctx)
	case models.AutoLocateIP:
		return r.ip.LocateIP(ctx)
	case models.AutoLocateNone:
		return models.Coordinates{}, models.ErrNoLocationProvided
	default:
		return models.Coordinates{}, fmt.Errorf("%w: unknown auto-locate mode %q", models.ErrNoLocationProvided, mode)
	}
}

// Name reverse-geocodes coords. A missing city yields UnknownLocation.
func (r *Resolver) Name(ctx context.Context, coords models.Coordinates, lang string) (Resolved, error) {
	city, err := r.geocoder.ReverseGeocode(ctx, coords, lang)
	if err != nil {
		return Resolved{}, err
	}
	city = strings.TrimSpace(city)
	if city == "" {
		r.logger.Debug("reverse geocoding returned no city",
			zap.Float64("latitude", coords.Latitude),
			zap.Float64("longitude", coords.Longitude))
		city = UnknownLocation
	}
	return Resolved{Coordinates: coords, Name: city}, nil
}

// Search forward-geocodes name and keeps the top match.
func (r *Resolver) Search(ctx context.Context, name, lang string) (Resolved, error) {
	places, err := r.geocoder.Search(ctx, strings.TrimSpace(name), lang)
	if err != nil {
		return Resolved{}, err
	}
	if len(places) == 0 {
		return Resolved{}, &models.LocationNotFoundError{Query: name}
	}
	top := places[0]
	display := top.Name
	if display == "" {
		display = strings.TrimSpace(name)
	}
	return Resolved{Coordinates: top.Coordinates, Name: display}, nil
}
