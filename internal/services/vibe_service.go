package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"city-vibe/internal/models"
	"city-vibe/internal/repository"
	"city-vibe/pkg/metrics"
)

// insufficientDataStatus is stored when the window holds no usable series.
const insufficientDataStatus = "Insufficient data for analysis"

// VibeService computes a city's vibe from the stored observation window
// and persists the result.
type VibeService struct {
	store      repository.VersionStore
	analyses   repository.AnalysisStore
	thresholds Thresholds
	windowDays int
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// NewVibeService creates a vibe service reading windowDays of history per
// computation.
func NewVibeService(
	store repository.VersionStore,
	analyses repository.AnalysisStore,
	windowDays int,
	logger *zap.Logger,
	metricsCollector *metrics.Collector,
) *VibeService {
	if windowDays <= 0 {
		windowDays = 7
	}
	return &VibeService{
		store:      store,
		analyses:   analyses,
		thresholds: DefaultThresholds(),
		windowDays: windowDays,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// Analyze computes the vibe for a city as of now and appends the result to
// the analysis history. A window without data still yields a persisted
// Neutral result, so consumers always find a row after a run.
func (s *VibeService) Analyze(ctx context.Context, cityID string, now time.Time) (*models.AnalysisResult, error) {
	timer := s.metrics.NewTimer(s.metrics.VibeComputationDuration)
	defer timer.ObserveDuration()

	from := now.UTC().AddDate(0, 0, -s.windowDays)
	to := now.UTC()

	weather, err := s.store.WeatherRange(ctx, cityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading weather window: %w", err)
	}
	traffic, err := s.store.TrafficRange(ctx, cityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading traffic window: %w", err)
	}

	result := &models.AnalysisResult{
		CityID:     cityID,
		ComputedAt: now.UTC(),
	}

	if len(weather) == 0 || len(traffic) == 0 {
		result.Category = string(VibeNeutral)
		result.Status = insufficientDataStatus
		result.Description = insufficientDataStatus
		result.MetricsJSON = "{}"
	} else {
		vibe := ComputeVibe(s.buildInput(weather, traffic, now), s.thresholds)

		payload, err := json.Marshal(vibe.Metrics)
		if err != nil {
			return nil, fmt.Errorf("encoding vibe metrics: %w", err)
		}

		result.Category = string(vibe.Category)
		result.Status = string(vibe.Metrics.WeatherStatus)
		result.Description = vibe.Description
		result.MetricsJSON = string(payload)
	}

	if err := s.analyses.InsertAnalysis(ctx, result); err != nil {
		return nil, fmt.Errorf("storing analysis: %w", err)
	}

	s.metrics.VibeComputedTotal.WithLabelValues(result.Category).Inc()
	s.logger.Info("vibe computed",
		zap.String("city_id", cityID),
		zap.String("category", result.Category),
		zap.Int("weather_points", len(weather)),
		zap.Int("traffic_points", len(traffic)))

	return result, nil
}

// buildInput collapses the window rows into the series summaries the rule
// engine consumes. Rows arrive ordered by target time ascending.
func (s *VibeService) buildInput(weather []*models.WeatherVersion, traffic []*models.TrafficVersion, now time.Time) VibeInput {
	var (
		temps     []float64
		humidity  []float64
		precipSum float64
	)
	for _, w := range weather {
		r := w.Reading()
		if r.Temperature != nil {
			temps = append(temps, *r.Temperature)
		}
		if r.HumidityPct != nil {
			humidity = append(humidity, *r.HumidityPct)
		}
		if r.PrecipitationMm != nil {
			precipSum += *r.PrecipitationMm
		}
	}

	congestion := make([]float64, 0, len(traffic))
	incidents := make([]float64, 0, len(traffic))
	for _, t := range traffic {
		r := t.Reading()
		congestion = append(congestion, r.Congestion)
		incidents = append(incidents, float64(r.Incidents))
	}

	return VibeInput{
		Temperature: SummarizeSeries(temps),
		Humidity:    SummarizeSeries(humidity),
		PrecipSum:   precipSum,
		Congestion:  SummarizeSeries(congestion),
		Incidents:   SummarizeSeries(incidents),
		Now:         now,
	}
}
