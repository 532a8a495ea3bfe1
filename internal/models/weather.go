package models

// TempUnit is a display unit for temperatures. Celsius is the provider baseline.
type TempUnit string

const (
	Celsius    TempUnit = "C"
	Fahrenheit TempUnit = "F"
	Kelvin     TempUnit = "K"
)

// SpeedUnit is a display unit for wind speed. km/h is the conversion baseline.
type SpeedUnit string

const (
	KilometersPerHour SpeedUnit = "kmh"
	MilesPerHour      SpeedUnit = "mph"
	MetersPerSecond   SpeedUnit = "ms"
)

// AutoLocateMode selects how a request's coordinates are taken from the environment.
type AutoLocateMode string

const (
	AutoLocateNone AutoLocateMode = ""
	AutoLocateGPS  AutoLocateMode = "gps"
	AutoLocateIP   AutoLocateMode = "ip"
)

// ProviderOpenMeteo is the only supported forecast provider.
const ProviderOpenMeteo = "open-meteo"

// RequestConfig carries per-call display preferences. Callers build one per request.
type RequestConfig struct {
	Provider string    `json:"provider"`
	Language string    `json:"lang"`
	TempUnit TempUnit  `json:"tempUnit"`
	WindUnit SpeedUnit `json:"windSpeedUnit"`
}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// LocationQuery names where weather is wanted. Exactly one field is expected to be set.
type LocationQuery struct {
	Coordinates *Coordinates   `json:"coordinates,omitempty"`
	Name        string         `json:"location,omitempty"`
	AutoLocate  AutoLocateMode `json:"autoLocate,omitempty"`
}

// IsEmpty reports whether the query names no location at all.
func (q LocationQuery) IsEmpty() bool {
	return q.Coordinates == nil && q.Name == "" && q.AutoLocate == AutoLocateNone
}

// FieldCount returns how many of the mutually exclusive fields are set.
func (q LocationQuery) FieldCount() int {
	n := 0
	if q.Coordinates != nil {
		n++
	}
	if q.Name != "" {
		n++
	}
	if q.AutoLocate != AutoLocateNone {
		n++
	}
	return n
}

// ForecastPayload is the raw forecast response. It never leaves the service layer.
type ForecastPayload struct {
	Current struct {
		Time                string  `json:"time"`
		Temperature2m       float64 `json:"temperature_2m"`
		RelativeHumidity2m  float64 `json:"relative_humidity_2m"`
		ApparentTemperature float64 `json:"apparent_temperature"`
		WeatherCode         int     `json:"weather_code"`
		WindSpeed10m        float64 `json:"wind_speed_10m"`
	} `json:"current"`
	Daily struct {
		Sunrise []string `json:"sunrise"`
		Sunset  []string `json:"sunset"`
	} `json:"daily"`
}

// WeatherCode is the stable tag pair a provider code maps to.
type WeatherCode struct {
	Type        string
	Description string
}

// Units holds the display labels matching a Weather's values.
type Units struct {
	Temp string `json:"temp"`
	Wind string `json:"wind"`
}

// Weather is the normalized, provider-agnostic result returned to every caller.
type Weather struct {
	Location    string  `json:"location"`
	IsNight     bool    `json:"isNight"`
	Temperature int     `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	WeatherDesc string  `json:"weather_desc"`
	WeatherType string  `json:"weather_type"`
	FeelsLike   int     `json:"feels_like"`
	Wind        float64 `json:"wind"`
	Units       Units   `json:"units"`
}
