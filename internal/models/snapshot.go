package models

import (
	"fmt"
	"time"
)

// iconURLFormat is the OpenWeatherMap icon endpoint; %s is the icon id (e.g. "04d").
const iconURLFormat = "https://openweathermap.org/img/wn/%s@2x.png"

// Snapshot is an immutable record of current conditions for one city at fetch time.
// Only the weather client constructs it, and only from a fully parsed provider response.
// Pass by value; never modify a held Snapshot.
type Snapshot struct {
	TemperatureCelsius       float64   `json:"temperatureCelsius"`
	HumidityPercent          float64   `json:"humidityPercent"`
	WindSpeedMetersPerSecond float64   `json:"windSpeedMetersPerSecond"`
	Description              string    `json:"description"`
	IconID                   string    `json:"iconId,omitempty"`
	CityName                 string    `json:"cityName,omitempty"`
	FetchedAt                time.Time `json:"fetchedAt"`
}

// HasIcon reports whether the provider supplied an icon id.
func (s Snapshot) HasIcon() bool {
	return s.IconID != ""
}

// IconURL returns the provider icon image URL, or "" when no icon id is present.
func (s Snapshot) IconURL() string {
	if !s.HasIcon() {
		return ""
	}
	return fmt.Sprintf(iconURLFormat, s.IconID)
}
