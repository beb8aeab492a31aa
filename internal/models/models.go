package models

import (
	"fmt"
	"strings"
	"time"
)

// City represents a tracked city with resolved coordinates.
// A city is created on first geocode and never deleted; Confirmed flips to
// true exactly once, after the historical backfill has fully committed.
type City struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Latitude    float64    `json:"latitude" db:"latitude"`
	Longitude   float64    `json:"longitude" db:"longitude"`
	Confirmed   bool       `json:"confirmed" db:"confirmed"`
	LastUpdated *time.Time `json:"last_updated,omitempty" db:"last_updated"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// NormalizeCityID derives the stable city identifier from a display name.
// Resolving "  Stockholm " and "stockholm" must yield the same row.
func NormalizeCityID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(id), "-")
}

// WeatherReading is a single weather data point for a target timestamp.
// NULL upstream values are represented as pointers.
type WeatherReading struct {
	TargetAt        time.Time `json:"target_at"`
	Temperature     *float64  `json:"temperature,omitempty"`
	FeelsLike       *float64  `json:"feels_like,omitempty"`
	PrecipitationMm *float64  `json:"precipitation_mm,omitempty"`
	WindSpeedKmh    *float64  `json:"wind_speed_kmh,omitempty"`
	HumidityPct     *float64  `json:"humidity_pct,omitempty"`
	WeatherCode     *int      `json:"weather_code,omitempty"`
	Condition       string    `json:"condition,omitempty"`
}

// TrafficReading is a single traffic data point for a target timestamp.
type TrafficReading struct {
	TargetAt   time.Time `json:"target_at"`
	Congestion float64   `json:"congestion"`
	SpeedKmh   float64   `json:"speed_kmh"`
	Incidents  int       `json:"incidents"`
}

// Validate checks invariants on a traffic reading before it is persisted.
func (r *TrafficReading) Validate() error {
	if r.Congestion < 0 || r.Congestion > 1 {
		return &ValidationError{
			Field:   "congestion",
			Value:   fmt.Sprintf("%f", r.Congestion),
			Message: "congestion must be within [0, 1]",
		}
	}
	if r.Incidents < 0 {
		return &ValidationError{
			Field:   "incidents",
			Value:   fmt.Sprintf("%d", r.Incidents),
			Message: "incident count must not be negative",
		}
	}
	return nil
}

// WeatherVersion is one immutable committed weather record. Multiple
// versions may exist per (city, target_at), one per distinct
// (fetched_at, horizon); version is monotonic within that pair.
type WeatherVersion struct {
	ID              int64     `json:"id" db:"id"`
	CityID          string    `json:"city_id" db:"city_id"`
	TargetAt        time.Time `json:"target_at" db:"target_at"`
	FetchedAt       time.Time `json:"fetched_at" db:"fetched_at"`
	Horizon         int       `json:"horizon" db:"horizon"`
	Version         int64     `json:"version" db:"version"`
	Temperature     *float64  `json:"temperature,omitempty" db:"temperature"`
	FeelsLike       *float64  `json:"feels_like,omitempty" db:"feels_like"`
	PrecipitationMm *float64  `json:"precipitation_mm,omitempty" db:"precipitation_mm"`
	WindSpeedKmh    *float64  `json:"wind_speed_kmh,omitempty" db:"wind_speed_kmh"`
	HumidityPct     *float64  `json:"humidity_pct,omitempty" db:"humidity_pct"`
	WeatherCode     *int      `json:"weather_code,omitempty" db:"weather_code"`
	Condition       *string   `json:"condition,omitempty" db:"condition"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Reading converts a stored version back into the source-level reading shape.
func (v *WeatherVersion) Reading() WeatherReading {
	r := WeatherReading{
		TargetAt:        v.TargetAt,
		Temperature:     v.Temperature,
		FeelsLike:       v.FeelsLike,
		PrecipitationMm: v.PrecipitationMm,
		WindSpeedKmh:    v.WindSpeedKmh,
		HumidityPct:     v.HumidityPct,
		WeatherCode:     v.WeatherCode,
	}
	if v.Condition != nil {
		r.Condition = *v.Condition
	}
	return r
}

// TrafficVersion is one immutable committed traffic record, versioned the
// same way as WeatherVersion.
type TrafficVersion struct {
	ID         int64     `json:"id" db:"id"`
	CityID     string    `json:"city_id" db:"city_id"`
	TargetAt   time.Time `json:"target_at" db:"target_at"`
	FetchedAt  time.Time `json:"fetched_at" db:"fetched_at"`
	Horizon    int       `json:"horizon" db:"horizon"`
	Version    int64     `json:"version" db:"version"`
	Congestion float64   `json:"congestion" db:"congestion"`
	SpeedKmh   float64   `json:"speed_kmh" db:"speed_kmh"`
	Incidents  int       `json:"incidents" db:"incidents"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Reading converts a stored version back into the source-level reading shape.
func (v *TrafficVersion) Reading() TrafficReading {
	return TrafficReading{
		TargetAt:   v.TargetAt,
		Congestion: v.Congestion,
		SpeedKmh:   v.SpeedKmh,
		Incidents:  v.Incidents,
	}
}

// AnalysisResult is a persisted vibe computation for a city at a point in
// time. Rows are append-only; the latest row is the current vibe.
type AnalysisResult struct {
	ID          int64     `json:"id" db:"id"`
	CityID      string    `json:"city_id" db:"city_id"`
	ComputedAt  time.Time `json:"computed_at" db:"computed_at"`
	Category    string    `json:"category" db:"category"`
	Status      string    `json:"status" db:"status"`
	Description string    `json:"description" db:"description"`
	MetricsJSON string    `json:"metrics_json" db:"metrics_json"`
}

// ValidationError represents a data validation error.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent.
func (e *ValidationError) IsTransient() bool {
	return false
}
