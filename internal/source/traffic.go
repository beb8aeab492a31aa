package source

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"city-vibe/internal/models"
	"city-vibe/pkg/metrics"
)

const syntheticTrafficName = "synthetic-traffic"

// SyntheticTraffic generates traffic readings when no live provider is
// configured. Readings are deterministic for a (city, timestamp) pair so
// that repeated backfills produce identical records.
type SyntheticTraffic struct {
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewSyntheticTraffic creates the generator.
func NewSyntheticTraffic(logger *zap.Logger, metricsCollector *metrics.Collector) *SyntheticTraffic {
	return &SyntheticTraffic{
		logger:  logger,
		metrics: metricsCollector,
		now:     time.Now,
	}
}

// SetNow overrides the clock. Used by tests.
func (s *SyntheticTraffic) SetNow(now func() time.Time) { s.now = now }

// Name returns the provider name.
func (s *SyntheticTraffic) Name() string { return syntheticTrafficName }

// Current generates a reading for the current hour.
func (s *SyntheticTraffic) Current(ctx context.Context, city models.City) (models.TrafficReading, error) {
	if err := ctx.Err(); err != nil {
		return models.TrafficReading{}, err
	}
	s.metrics.RecordSourceFetch(syntheticTrafficName, "current")

	at := s.now().UTC().Truncate(time.Hour)
	return s.generate(city.ID, at), nil
}

// Historical generates one reading per day at 08:00 UTC, the morning rush
// sample, for every day in [from, to].
func (s *SyntheticTraffic) Historical(ctx context.Context, city models.City, from, to time.Time) ([]models.TrafficReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.metrics.RecordSourceFetch(syntheticTrafficName, "historical")

	var readings []models.TrafficReading
	day := from.UTC().Truncate(24 * time.Hour)
	end := to.UTC().Truncate(24 * time.Hour)
	for !day.After(end) {
		at := day.Add(8 * time.Hour)
		readings = append(readings, s.generate(city.ID, at))
		day = day.AddDate(0, 0, 1)
	}

	s.logger.Debug("generated historical traffic",
		zap.String("city_id", city.ID),
		zap.Int("count", len(readings)))
	return readings, nil
}

// Forecast projects the daily pattern forward horizonDays days.
func (s *SyntheticTraffic) Forecast(ctx context.Context, city models.City, horizonDays int) ([]models.TrafficReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.metrics.RecordSourceFetch(syntheticTrafficName, "forecast")

	today := s.now().UTC().Truncate(24 * time.Hour)
	readings := make([]models.TrafficReading, 0, horizonDays)
	for d := 1; d <= horizonDays; d++ {
		at := today.AddDate(0, 0, d).Add(8 * time.Hour)
		readings = append(readings, s.generate(city.ID, at))
	}
	return readings, nil
}

// generate builds the deterministic reading for a city at a timestamp.
// Congestion follows a weekday rush-hour curve plus seeded jitter; speed
// falls as congestion rises; incidents scale with congestion.
func (s *SyntheticTraffic) generate(cityID string, at time.Time) models.TrafficReading {
	base := baseCongestion(at)

	rng := rand.New(rand.NewSource(seed(cityID, at)))
	jitter := (rng.Float64() - 0.5) * 0.2

	congestion := math.Min(0.95, math.Max(0.05, base+jitter))
	speed := 60 - 40*congestion

	incidents := int(congestion * 4)
	if rng.Float64() < congestion/2 {
		incidents++
	}

	return models.TrafficReading{
		TargetAt:   at,
		Congestion: math.Round(congestion*100) / 100,
		SpeedKmh:   math.Round(speed*10) / 10,
		Incidents:  incidents,
	}
}

func baseCongestion(at time.Time) float64 {
	hour := at.Hour()
	weekend := at.Weekday() == time.Saturday || at.Weekday() == time.Sunday

	switch {
	case weekend:
		if hour >= 11 && hour <= 18 {
			return 0.4
		}
		return 0.2
	case (hour >= 7 && hour <= 9) || (hour >= 16 && hour <= 18):
		return 0.7
	case hour >= 22 || hour <= 5:
		return 0.1
	default:
		return 0.4
	}
}

func seed(cityID string, at time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(cityID))
	h.Write([]byte(at.UTC().Format(time.RFC3339)))
	return int64(h.Sum64())
}
