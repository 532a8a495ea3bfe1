package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/weather-dashboard-service/internal/models"
)

var validate = validator.New()

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooShort is returned when location length is below the minimum.
var ErrLocationTooShort = errors.New("location too short")

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

// ErrInvalidCoordinates is returned for missing halves, unparsable or out-of-range lat/lon.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ErrAmbiguousLocation is returned when more than one of lat/lon, location and auto is given.
var ErrAmbiguousLocation = errors.New("give only one of lat/lon, location or auto")

// ErrInvalidParameter is returned for malformed display preferences (lang, units).
var ErrInvalidParameter = errors.New("invalid parameter")

// ValidateLocation trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma, hyphen,
// period and apostrophe. Returns the trimmed string or an error suitable for
// 400 INVALID_LOCATION responses.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

// isAllowedLocationRune returns true for letters (Unicode), digits, space, comma, hyphen, period, apostrophe.
func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// preferences holds the display query parameters shared by every weather route.
type preferences struct {
	Lang     string `validate:"omitempty,alpha,min=2,max=3"`
	TempUnit string `validate:"omitempty,oneof=C F K"`
	WindUnit string `validate:"omitempty,oneof=kmh mph ms"`
	Provider string `validate:"omitempty,max=32"`
}

// ParseRequestConfig reads lang, temp_unit, wind_unit and provider. Absent values stay
// empty so the service defaults apply. Provider support is checked by the service.
func ParseRequestConfig(values url.Values) (models.RequestConfig, error) {
	p := preferences{
		Lang:     strings.ToLower(strings.TrimSpace(values.Get("lang"))),
		TempUnit: strings.ToUpper(strings.TrimSpace(values.Get("temp_unit"))),
		WindUnit: strings.ToLower(strings.TrimSpace(values.Get("wind_unit"))),
		Provider: strings.TrimSpace(values.Get("provider")),
	}
	if err := validate.Struct(p); err != nil {
		return models.RequestConfig{}, fmt.Errorf("%w: %s", ErrInvalidParameter, describe(err))
	}
	return models.RequestConfig{
		Provider: p.Provider,
		Language: p.Lang,
		TempUnit: models.TempUnit(p.TempUnit),
		WindUnit: models.SpeedUnit(p.WindUnit),
	}, nil
}

// locationParams holds the mutually exclusive location query parameters.
type locationParams struct {
	Lat  *float64 `validate:"omitempty,latitude"`
	Lon  *float64 `validate:"omitempty,longitude"`
	Auto string   `validate:"omitempty,oneof=gps ip"`
}

// ParseLocationQuery reads exactly one of lat+lon, location or auto from values.
// None at all yields models.ErrNoLocationProvided.
func ParseLocationQuery(values url.Values, minLen, maxLen int) (models.LocationQuery, error) {
	latRaw, lonRaw := strings.TrimSpace(values.Get("lat")), strings.TrimSpace(values.Get("lon"))
	name := values.Get("location")
	auto := strings.ToLower(strings.TrimSpace(values.Get("auto")))

	given := 0
	if latRaw != "" || lonRaw != "" {
		given++
	}
	if strings.TrimSpace(name) != "" {
		given++
	}
	if auto != "" {
		given++
	}
	switch {
	case given == 0:
		return models.LocationQuery{}, models.ErrNoLocationProvided
	case given > 1:
		return models.LocationQuery{}, ErrAmbiguousLocation
	}

	var p locationParams
	if latRaw != "" || lonRaw != "" {
		if latRaw == "" || lonRaw == "" {
			return models.LocationQuery{}, fmt.Errorf("%w: lat and lon must be given together", ErrInvalidCoordinates)
		}
		lat, err := strconv.ParseFloat(latRaw, 64)
		if err != nil {
			return models.LocationQuery{}, fmt.Errorf("%w: lat %q", ErrInvalidCoordinates, latRaw)
		}
		lon, err := strconv.ParseFloat(lonRaw, 64)
		if err != nil {
			return models.LocationQuery{}, fmt.Errorf("%w: lon %q", ErrInvalidCoordinates, lonRaw)
		}
		p.Lat, p.Lon = &lat, &lon
	}
	p.Auto = auto
	if err := validate.Struct(p); err != nil {
		if p.Auto != "" {
			return models.LocationQuery{}, fmt.Errorf("%w: auto must be gps or ip", ErrInvalidParameter)
		}
		return models.LocationQuery{}, fmt.Errorf("%w: %s", ErrInvalidCoordinates, describe(err))
	}

	switch {
	case p.Lat != nil:
		return models.LocationQuery{Coordinates: &models.Coordinates{Latitude: *p.Lat, Longitude: *p.Lon}}, nil
	case p.Auto != "":
		return models.LocationQuery{AutoLocate: models.AutoLocateMode(p.Auto)}, nil
	}
	loc, err := ValidateLocation(name, minLen, maxLen)
	if err != nil {
		return models.LocationQuery{}, err
	}
	return models.LocationQuery{Name: loc}, nil
}

// ParseAutoLocate reads the optional auto parameter, defaulting to def.
func ParseAutoLocate(values url.Values, def models.AutoLocateMode) (models.AutoLocateMode, error) {
	auto := strings.ToLower(strings.TrimSpace(values.Get("auto")))
	if auto == "" {
		return def, nil
	}
	p := locationParams{Auto: auto}
	if err := validate.Struct(p); err != nil {
		return "", fmt.Errorf("%w: auto must be gps or ip", ErrInvalidParameter)
	}
	return models.AutoLocateMode(auto), nil
}

// IsLocationError reports whether err is a malformed or missing location.
func IsLocationError(err error) bool {
	return errors.Is(err, ErrLocationEmpty) ||
		errors.Is(err, ErrLocationTooShort) ||
		errors.Is(err, ErrLocationTooLong) ||
		errors.Is(err, ErrLocationInvalidChars) ||
		errors.Is(err, ErrInvalidCoordinates) ||
		errors.Is(err, ErrAmbiguousLocation) ||
		errors.Is(err, models.ErrNoLocationProvided)
}

// describe flattens validator errors into "field failed tag" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
