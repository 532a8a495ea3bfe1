package normalize

import "github.com/kjstillabower/weather-dashboard-service/internal/models"

const unknownTag = "Unknown"

// codes maps Open-Meteo WMO weather codes to stable tags. Read-only after init.
var codes = map[int]models.WeatherCode{
	0:  {Type: "Clear", Description: "ClearSky"},
	1:  {Type: "Cloudy", Description: "MainlyClear"},
	2:  {Type: "Cloudy", Description: "PartlyCloudy"},
	3:  {Type: "Cloudy", Description: "Overcast"},
	45: {Type: "Fog", Description: "Fog"},
	48: {Type: "Fog", Description: "DepositingRimeFog"},
	51: {Type: "LightShowerRain", Description: "LightDrizzle"},
	53: {Type: "ShowerRain", Description: "ModerateDrizzle"},
	55: {Type: "ShowerRain", Description: "DenseDrizzle"},
	61: {Type: "LightRain", Description: "SlightRain"},
	63: {Type: "ModerateRain", Description: "ModerateRain"},
	65: {Type: "ShowerRain", Description: "HeavyRain"},
	71: {Type: "LightSnow", Description: "SlightSnow"},
	73: {Type: "HeavySnow", Description: "ModerateSnow"},
	75: {Type: "HeavySnow", Description: "HeavySnow"},
	80: {Type: "LightShowerRain", Description: "SlightShowerRain"},
	81: {Type: "ShowerRain", Description: "ModerateShowerRain"},
	82: {Type: "ShowerRain", Description: "ViolentShowerRain"},
	95: {Type: "Thunderstorm", Description: "Thunderstorm"},
}

// LookupCode returns the tags for code, or Unknown/Unknown when the table has no entry.
func LookupCode(code int) models.WeatherCode {
	if wc, ok := codes[code]; ok {
		return wc
	}
	return models.WeatherCode{Type: unknownTag, Description: unknownTag}
}
