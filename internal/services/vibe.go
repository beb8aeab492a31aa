package services

import (
	"math"
	"time"
)

// CityStatus is a high-level classification of one observed series.
type CityStatus string

const (
	StatusStable    CityStatus = "stable"
	StatusImproving CityStatus = "improving"
	StatusDeclining CityStatus = "declining"
	StatusUnstable  CityStatus = "unstable"
)

// VibeCategory is the overall classification of a city's vibe.
type VibeCategory string

const (
	VibePositive        VibeCategory = "Positive"
	VibeNeutral         VibeCategory = "Neutral"
	VibeNegative        VibeCategory = "Negative"
	VibePeopleOutOnTown VibeCategory = "PeopleOutOnTown"
	VibeCozyAtHome      VibeCategory = "CozyAtHome"
	VibeRushHourStress  VibeCategory = "RushHourStress"
	VibeQuietCity       VibeCategory = "QuietCity"
	VibeStormWatch      VibeCategory = "StormWatch"
)

// MetricSummary condenses a numeric time series into the three figures the
// rule engine works with.
type MetricSummary struct {
	Avg         float64 `json:"avg"`
	Trend       float64 `json:"trend"`
	Variability float64 `json:"variability"`
}

// Thresholds holds the tunable boundaries for status and vibe rules.
type Thresholds struct {
	VariabilityUnstable float64
	TrendImproving      float64
	TrendDeclining      float64

	ColdTemp          float64
	HotTemp           float64
	HighHumidity      float64
	SignificantPrecip float64
	HeavyCongestion   float64
	LightCongestion   float64
	HighIncidents     float64
}

// DefaultThresholds returns the standard rule boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VariabilityUnstable: 2.0,
		TrendImproving:      1.0,
		TrendDeclining:      -1.0,
		ColdTemp:            5.0,
		HotTemp:             25.0,
		HighHumidity:        90.0,
		SignificantPrecip:   1.0,
		HeavyCongestion:     0.7,
		LightCongestion:     0.3,
		HighIncidents:       2,
	}
}

// SummarizeSeries builds a MetricSummary for a series ordered oldest to
// newest. Trend is last minus first; variability is the population
// standard deviation. Series shorter than two values have zero trend and
// variability.
func SummarizeSeries(values []float64) MetricSummary {
	if len(values) == 0 {
		return MetricSummary{}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))

	if len(values) < 2 {
		return MetricSummary{Avg: avg}
	}

	var sq float64
	for _, v := range values {
		d := v - avg
		sq += d * d
	}

	return MetricSummary{
		Avg:         avg,
		Trend:       values[len(values)-1] - values[0],
		Variability: math.Sqrt(sq / float64(len(values))),
	}
}

// ClassifyStatus maps a summary onto a CityStatus. Instability dominates;
// otherwise the trend decides the direction.
func ClassifyStatus(m MetricSummary, t Thresholds) CityStatus {
	if m.Variability > t.VariabilityUnstable {
		return StatusUnstable
	}
	if m.Trend >= t.TrendImproving {
		return StatusImproving
	}
	if m.Trend <= t.TrendDeclining {
		return StatusDeclining
	}
	return StatusStable
}

// VibeInput is everything the rule engine looks at for one computation.
type VibeInput struct {
	Temperature MetricSummary
	Humidity    MetricSummary
	PrecipSum   float64
	Congestion  MetricSummary
	Incidents   MetricSummary
	Now         time.Time
}

// VibeMetrics is the detail payload persisted alongside each result.
type VibeMetrics struct {
	Weather struct {
		Temperature MetricSummary `json:"temp"`
		Humidity    MetricSummary `json:"hum"`
		PrecipSum   float64       `json:"precip"`
	} `json:"weather_summary"`
	Traffic struct {
		Congestion MetricSummary `json:"cong"`
		Incidents  MetricSummary `json:"inc"`
	} `json:"traffic_summary"`
	WeatherStatus CityStatus `json:"weather_status"`
	TrafficStatus CityStatus `json:"traffic_status"`
}

// Vibe is the outcome of one rule-engine evaluation.
type Vibe struct {
	Category    VibeCategory
	Description string
	Metrics     VibeMetrics
}

// isPaydayWeekend reports whether the 25th lands on a Friday, Saturday or
// Sunday.
func isPaydayWeekend(now time.Time) bool {
	if now.Day() != 25 {
		return false
	}
	switch now.Weekday() {
	case time.Friday, time.Saturday, time.Sunday:
		return true
	}
	return false
}

func isBadWeather(in VibeInput, status CityStatus, t Thresholds) bool {
	return in.Temperature.Avg < t.ColdTemp ||
		in.Humidity.Avg > t.HighHumidity ||
		status == StatusDeclining || status == StatusUnstable ||
		in.PrecipSum > t.SignificantPrecip
}

func isGoodOutdoorWeather(in VibeInput, status CityStatus, t Thresholds) bool {
	return in.Temperature.Avg >= t.ColdTemp && in.Temperature.Avg <= t.HotTemp &&
		in.Humidity.Avg < t.HighHumidity &&
		(status == StatusStable || status == StatusImproving)
}

// ComputeVibe synthesizes weather, traffic and the time of day into a
// single vibe. The rules are evaluated in priority order; the first match
// wins.
func ComputeVibe(in VibeInput, t Thresholds) Vibe {
	weatherStatus := ClassifyStatus(in.Temperature, t)
	trafficStatus := ClassifyStatus(in.Congestion, t)

	now := in.Now
	weekend := now.Weekday() == time.Saturday || now.Weekday() == time.Sunday
	fridayEvening := now.Weekday() == time.Friday && now.Hour() >= 17
	rushHour := (now.Hour() >= 7 && now.Hour() <= 9) || (now.Hour() >= 16 && now.Hour() <= 18)
	night := now.Hour() >= 22 || now.Hour() <= 5

	goodWeather := isGoodOutdoorWeather(in, weatherStatus, t)
	badWeather := isBadWeather(in, weatherStatus, t)

	category := VibeNeutral
	description := "A standard day in the city."

	switch {
	case weatherStatus == StatusUnstable && in.Incidents.Avg > t.HighIncidents:
		category = VibeStormWatch
		description = "Unpredictable weather and traffic chaos. The city is on edge."

	case fridayEvening && badWeather:
		category = VibeCozyAtHome
		description = "Dreadful weather outside, but it's Friday! The city is retreating for a cozy night in."

	case (isPaydayWeekend(now) || fridayEvening || goodWeather) && goodWeather:
		category = VibePeopleOutOnTown
		description = "High spirits, full wallets, and perfect weather. The streets are alive!"

	case rushHour && !weekend && in.Congestion.Avg > t.HeavyCongestion:
		category = VibeRushHourStress
		description = "The morning grind is in full swing. High congestion and hurried people."

	case night && in.Congestion.Avg < t.LightCongestion:
		category = VibeQuietCity
		description = "The city is resting. Quiet streets and a peaceful atmosphere."

	case goodWeather && in.Congestion.Avg < t.LightCongestion && weekend:
		category = VibePositive
		description = "A beautiful, lazy weekend day. Perfect for a stroll."

	case badWeather && in.Congestion.Avg > t.HeavyCongestion:
		category = VibeNegative
		description = "Bad weather and heavy traffic. A frustrating day for commuters."

	case weatherStatus == StatusImproving:
		category = VibePositive
		description = "The mood is lifting as conditions improve."
	}

	vibe := Vibe{Category: category, Description: description}
	vibe.Metrics.Weather.Temperature = in.Temperature
	vibe.Metrics.Weather.Humidity = in.Humidity
	vibe.Metrics.Weather.PrecipSum = in.PrecipSum
	vibe.Metrics.Traffic.Congestion = in.Congestion
	vibe.Metrics.Traffic.Incidents = in.Incidents
	vibe.Metrics.WeatherStatus = weatherStatus
	vibe.Metrics.TrafficStatus = trafficStatus
	return vibe
}
