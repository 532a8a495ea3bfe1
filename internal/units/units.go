package units

import (
	"math"

	"github.com/kjstillabower/weather-dashboard-service/internal/models"
)

// ConvertTemperature converts a Celsius value to unit. Unknown units return the input unchanged.
func ConvertTemperature(celsius float64, unit models.TempUnit) float64 {
	switch unit {
	case models.Fahrenheit:
		return celsius*9/5 + 32
	case models.Kelvin:
		return celsius + 273.15
	default:
		return celsius
	}
}

// ConvertWindSpeed converts a km/h value to unit. Unknown units return the input unchanged.
func ConvertWindSpeed(kmh float64, unit models.SpeedUnit) float64 {
	switch unit {
	case models.MilesPerHour:
		return kmh * 0.621371
	case models.MetersPerSecond:
		return kmh / 3.6
	default:
		return kmh
	}
}

func TempUnitLabel(unit models.TempUnit) string {
	switch unit {
	case models.Fahrenheit:
		return "°F"
	case models.Kelvin:
		return "K"
	default:
		return "°C"
	}
}

func SpeedUnitLabel(unit models.SpeedUnit) string {
	switch unit {
	case models.MilesPerHour:
		return "mph"
	case models.MetersPerSecond:
		return "m/s"
	default:
		return "km/h"
	}
}

// FromLabels maps a result's display labels back to the units that produced them.
// Unrecognized labels come back empty so the caller's defaults apply.
func FromLabels(u models.Units) (models.TempUnit, models.SpeedUnit) {
	var temp models.TempUnit
	switch u.Temp {
	case "°C":
		temp = models.Celsius
	case "°F":
		temp = models.Fahrenheit
	case "K":
		temp = models.Kelvin
	}
	var wind models.SpeedUnit
	switch u.Wind {
	case "km/h":
		wind = models.KilometersPerHour
	case "mph":
		wind = models.MilesPerHour
	case "m/s":
		wind = models.MetersPerSecond
	}
	return temp, wind
}

// RoundInt rounds half up (-2.5 -> -2), the rounding the dashboard has always displayed.
func RoundInt(v float64) int {
	return int(math.Floor(v + 0.5))
}

// Round1 rounds half up to one decimal place.
func Round1(v float64) float64 {
	return math.Floor(v*10+0.5) / 10
}
