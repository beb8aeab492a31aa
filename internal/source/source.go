// Package source contains the upstream data source clients. Every source
// implements the same capability triple (current / historical / forecast)
// so the orchestrator never special-cases a provider.
package source

import (
	"context"
	"time"

	"city-vibe/internal/models"
)

// WeatherSource is the uniform capability over weather providers.
type WeatherSource interface {
	Name() string
	Current(ctx context.Context, city models.City) (models.WeatherReading, error)
	Historical(ctx context.Context, city models.City, from, to time.Time) ([]models.WeatherReading, error)
	Forecast(ctx context.Context, city models.City, horizonDays int) ([]models.WeatherReading, error)
}

// TrafficSource is the uniform capability over traffic providers. A
// synthetic generator satisfies this contract when no live provider is
// configured.
type TrafficSource interface {
	Name() string
	Current(ctx context.Context, city models.City) (models.TrafficReading, error)
	Historical(ctx context.Context, city models.City, from, to time.Time) ([]models.TrafficReading, error)
	Forecast(ctx context.Context, city models.City, horizonDays int) ([]models.TrafficReading, error)
}
