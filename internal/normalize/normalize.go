package normalize

import (
	"time"

	"github.com/kjstillabower/weather-dashboard-service/internal/models"
	"github.com/kjstillabower/weather-dashboard-service/internal/units"
)

// providerTimeLayout is the ISO-8601 minute format Open-Meteo uses when timezone=GMT.
const providerTimeLayout = "2006-01-02T15:04"

// msToKmh converts the provider's m/s wind speed to the converter's km/h baseline.
const msToKmh = 3.6

// Normalize turns a forecast payload into the stable Weather shape for cfg's units.
// It never fails: unmapped codes become Unknown and unparsable sun times count as day.
func Normalize(p models.ForecastPayload, cfg models.RequestConfig, location string) models.Weather {
	code := LookupCode(p.Current.WeatherCode)

	var sunrise, sunset string
	if len(p.Daily.Sunrise) > 0 {
		sunrise = p.Daily.Sunrise[0]
	}
	if len(p.Daily.Sunset) > 0 {
		sunset = p.Daily.Sunset[0]
	}

	return models.Weather{
		Location:    location,
		IsNight:     IsNight(sunrise, sunset, p.Current.Time),
		Temperature: units.RoundInt(units.ConvertTemperature(p.Current.Temperature2m, cfg.TempUnit)),
		Humidity:    p.Current.RelativeHumidity2m,
		WeatherDesc: code.Description,
		WeatherType: code.Type,
		FeelsLike:   units.RoundInt(units.ConvertTemperature(p.Current.ApparentTemperature, cfg.TempUnit)),
		Wind:        units.Round1(units.ConvertWindSpeed(p.Current.WindSpeed10m*msToKmh, cfg.WindUnit)),
		Units: models.Units{
			Temp: units.TempUnitLabel(cfg.TempUnit),
			Wind: units.SpeedUnitLabel(cfg.WindUnit),
		},
	}
}

// IsNight reports current < sunrise || current > sunset. Equal instants are day.
func IsNight(sunrise, sunset, current string) bool {
	rise, ok1 := parseInstant(sunrise)
	set, ok2 := parseInstant(sunset)
	now, ok3 := parseInstant(current)
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	return now.Before(rise) || now.After(set)
}

func parseInstant(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(providerTimeLayout, s, time.UTC); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
