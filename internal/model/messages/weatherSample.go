package messages

import "time"

// WeatherSample is one day of aggregated weather-station data.
// Immutable once recorded.
type WeatherSample struct {
	Date              time.Time `json:"date"`
	MeanTempC         float64   `json:"mean_temperature_c"`
	SolarRadiationWm2 float64   `json:"solar_radiation_wm2"` // daily mean incoming shortwave
	RainfallMM        float64   `json:"rainfall_mm"`
}
