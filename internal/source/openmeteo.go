package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"city-vibe/internal/models"
	"city-vibe/pkg/httpclient"
	"city-vibe/pkg/metrics"
)

const openMeteoName = "open-meteo"

// OpenMeteoClient fetches weather data from the Open-Meteo API. Current
// conditions and forecasts come from the forecast endpoint; historical
// observations come from the archive endpoint.
type OpenMeteoClient struct {
	client     *httpclient.Client
	logger     *zap.Logger
	metrics    *metrics.Collector
	baseURL    string
	archiveURL string
}

// NewOpenMeteoClient creates a new Open-Meteo weather source.
func NewOpenMeteoClient(client *httpclient.Client, logger *zap.Logger, metricsCollector *metrics.Collector) *OpenMeteoClient {
	return &OpenMeteoClient{
		client:     client,
		logger:     logger,
		metrics:    metricsCollector,
		baseURL:    "https://api.open-meteo.com/v1",
		archiveURL: "https://archive-api.open-meteo.com/v1",
	}
}

// SetBaseURLs overrides the upstream endpoints. Used by tests.
func (c *OpenMeteoClient) SetBaseURLs(forecast, archive string) {
	c.baseURL = forecast
	c.archiveURL = archive
}

// Name returns the provider name.
func (c *OpenMeteoClient) Name() string { return openMeteoName }

type openMeteoCurrentResponse struct {
	Current struct {
		Time                string  `json:"time"`
		Temperature2M       float64 `json:"temperature_2m"`
		ApparentTemperature float64 `json:"apparent_temperature"`
		RelativeHumidity2M  float64 `json:"relative_humidity_2m"`
		Rain                float64 `json:"rain"`
		WindSpeed10M        float64 `json:"wind_speed_10m"`
		WeatherCode         int     `json:"weather_code"`
	} `json:"current"`
}

type openMeteoDailyResponse struct {
	Daily struct {
		Time                 []string  `json:"time"`
		Temperature2MMax     []float64 `json:"temperature_2m_max"`
		Temperature2MMin     []float64 `json:"temperature_2m_min"`
		ApparentTempMax      []float64 `json:"apparent_temperature_max"`
		PrecipitationSum     []float64 `json:"precipitation_sum"`
		WindSpeed10MMax      []float64 `json:"wind_speed_10m_max"`
		RelativeHumidityMean []float64 `json:"relative_humidity_2m_mean"`
		WeatherCode          []int     `json:"weather_code"`
	} `json:"daily"`
}

// Current fetches the current conditions for a city.
func (c *OpenMeteoClient) Current(ctx context.Context, city models.City) (models.WeatherReading, error) {
	c.metrics.RecordSourceFetch(openMeteoName, "current")
	timer := c.metrics.NewTimer(c.metrics.SourceFetchDuration.WithLabelValues(openMeteoName))
	defer timer.ObserveDuration()

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", city.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", city.Longitude))
	q.Set("current", "temperature_2m,apparent_temperature,relative_humidity_2m,rain,wind_speed_10m,weather_code")
	q.Set("wind_speed_unit", "kmh")
	q.Set("timezone", "UTC")

	body, err := c.client.Get(ctx, c.baseURL+"/forecast?"+q.Encode())
	if err != nil {
		c.metrics.RecordSourceError(openMeteoName, string(Classify(err)))
		return models.WeatherReading{}, wrapFetch(openMeteoName, err)
	}

	var resp openMeteoCurrentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.metrics.RecordSourceError(openMeteoName, string(ClassInvalidResponse))
		return models.WeatherReading{}, &InvalidResponseError{Source: openMeteoName, Reason: err.Error()}
	}

	observedAt, err := parseOpenMeteoTime(resp.Current.Time)
	if err != nil {
		c.metrics.RecordSourceError(openMeteoName, string(ClassInvalidResponse))
		return models.WeatherReading{}, &InvalidResponseError{
			Source: openMeteoName,
			Reason: fmt.Sprintf("unparseable current time %q", resp.Current.Time),
		}
	}

	cur := resp.Current
	condition := ConditionFromCode(cur.WeatherCode)
	return models.WeatherReading{
		TargetAt:        observedAt,
		Temperature:     &cur.Temperature2M,
		FeelsLike:       &cur.ApparentTemperature,
		PrecipitationMm: &cur.Rain,
		WindSpeedKmh:    &cur.WindSpeed10M,
		HumidityPct:     &cur.RelativeHumidity2M,
		WeatherCode:     &cur.WeatherCode,
		Condition:       condition,
	}, nil
}

// Historical fetches one daily observation per day in [from, to] from the
// archive endpoint.
func (c *OpenMeteoClient) Historical(ctx context.Context, city models.City, from, to time.Time) ([]models.WeatherReading, error) {
	c.metrics.RecordSourceFetch(openMeteoName, "historical")
	timer := c.metrics.NewTimer(c.metrics.SourceFetchDuration.WithLabelValues(openMeteoName))
	defer timer.ObserveDuration()

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", city.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", city.Longitude))
	q.Set("start_date", from.UTC().Format("2006-01-02"))
	q.Set("end_date", to.UTC().Format("2006-01-02"))
	q.Set("daily", "temperature_2m_max,temperature_2m_min,apparent_temperature_max,precipitation_sum,wind_speed_10m_max,relative_humidity_2m_mean,weather_code")
	q.Set("wind_speed_unit", "kmh")
	q.Set("timezone", "UTC")

	body, err := c.client.Get(ctx, c.archiveURL+"/archive?"+q.Encode())
	if err != nil {
		c.metrics.RecordSourceError(openMeteoName, string(Classify(err)))
		return nil, wrapFetch(openMeteoName, err)
	}

	return c.parseDaily(body)
}

// Forecast fetches a daily forecast for the next horizonDays days.
func (c *OpenMeteoClient) Forecast(ctx context.Context, city models.City, horizonDays int) ([]models.WeatherReading, error) {
	c.metrics.RecordSourceFetch(openMeteoName, "forecast")
	timer := c.metrics.NewTimer(c.metrics.SourceFetchDuration.WithLabelValues(openMeteoName))
	defer timer.ObserveDuration()

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", city.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", city.Longitude))
	q.Set("daily", "temperature_2m_max,temperature_2m_min,apparent_temperature_max,precipitation_sum,wind_speed_10m_max,relative_humidity_2m_mean,weather_code")
	q.Set("forecast_days", fmt.Sprintf("%d", horizonDays))
	q.Set("wind_speed_unit", "kmh")
	q.Set("timezone", "UTC")

	body, err := c.client.Get(ctx, c.baseURL+"/forecast?"+q.Encode())
	if err != nil {
		c.metrics.RecordSourceError(openMeteoName, string(Classify(err)))
		return nil, wrapFetch(openMeteoName, err)
	}

	return c.parseDaily(body)
}

// parseDaily converts a daily-arrays response into readings. A malformed
// day is skipped; only a fully unusable payload is an error.
func (c *OpenMeteoClient) parseDaily(body []byte) ([]models.WeatherReading, error) {
	var resp openMeteoDailyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.metrics.RecordSourceError(openMeteoName, string(ClassInvalidResponse))
		return nil, &InvalidResponseError{Source: openMeteoName, Reason: err.Error()}
	}

	daily := resp.Daily
	if len(daily.Time) == 0 {
		return nil, &InvalidResponseError{Source: openMeteoName, Reason: "empty daily series"}
	}

	readings := make([]models.WeatherReading, 0, len(daily.Time))
	for i, day := range daily.Time {
		targetAt, err := time.Parse("2006-01-02", day)
		if err != nil {
			c.logger.Warn("skipping daily entry with unparseable date",
				zap.String("date", day))
			continue
		}

		reading := models.WeatherReading{TargetAt: targetAt.UTC()}

		if i < len(daily.Temperature2MMax) && i < len(daily.Temperature2MMin) {
			mean := (daily.Temperature2MMax[i] + daily.Temperature2MMin[i]) / 2
			reading.Temperature = &mean
		}
		if i < len(daily.ApparentTempMax) {
			reading.FeelsLike = &daily.ApparentTempMax[i]
		}
		if i < len(daily.PrecipitationSum) {
			reading.PrecipitationMm = &daily.PrecipitationSum[i]
		}
		if i < len(daily.WindSpeed10MMax) {
			reading.WindSpeedKmh = &daily.WindSpeed10MMax[i]
		}
		if i < len(daily.RelativeHumidityMean) {
			reading.HumidityPct = &daily.RelativeHumidityMean[i]
		}
		if i < len(daily.WeatherCode) {
			code := daily.WeatherCode[i]
			reading.WeatherCode = &code
			reading.Condition = ConditionFromCode(code)
		}

		readings = append(readings, reading)
	}

	if len(readings) == 0 {
		return nil, &InvalidResponseError{Source: openMeteoName, Reason: "no usable daily entries"}
	}
	return readings, nil
}

// parseOpenMeteoTime handles both the minute-resolution format Open-Meteo
// uses and full RFC3339.
func parseOpenMeteoTime(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04", value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ConditionFromCode maps a WMO weather interpretation code to a
// human-readable condition.
func ConditionFromCode(code int) string {
	conditions := map[int]string{
		0:  "Clear sky",
		1:  "Mainly clear",
		2:  "Partly cloudy",
		3:  "Overcast",
		45: "Foggy",
		48: "Depositing rime fog",
		51: "Light drizzle",
		53: "Moderate drizzle",
		55: "Dense drizzle",
		56: "Light freezing drizzle",
		57: "Dense freezing drizzle",
		61: "Slight rain",
		63: "Moderate rain",
		65: "Heavy rain",
		66: "Light freezing rain",
		67: "Heavy freezing rain",
		71: "Slight snow fall",
		73: "Moderate snow fall",
		75: "Heavy snow fall",
		77: "Snow grains",
		80: "Slight rain showers",
		81: "Moderate rain showers",
		82: "Violent rain showers",
		85: "Slight snow showers",
		86: "Heavy snow showers",
		95: "Thunderstorm",
		96: "Thunderstorm with slight hail",
		99: "Thunderstorm with heavy hail",
	}

	if desc, ok := conditions[code]; ok {
		return desc
	}
	return "Unknown"
}
