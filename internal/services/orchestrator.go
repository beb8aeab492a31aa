package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"city-vibe/internal/models"
	"city-vibe/internal/repository"
	"city-vibe/internal/source"
	"city-vibe/pkg/metrics"
)

// Outcome statuses for a single city within a run.
const (
	OutcomeConfirmed          = "confirmed"
	OutcomeRefreshed          = "refreshed"
	OutcomeRegistrationFailed = "registration_failed"
	OutcomeBackfillFailed     = "backfill_failed"
	OutcomeRefreshFailed      = "refresh_failed"
	OutcomeCanceled           = "canceled"
)

// CityOutcome records what happened to one city during a run.
type CityOutcome struct {
	CityID         string       `json:"city_id"`
	CityName       string       `json:"city_name"`
	Status         string       `json:"status"`
	Backfilled     bool         `json:"backfilled"`
	WeatherRecords int          `json:"weather_records"`
	TrafficRecords int          `json:"traffic_records"`
	Error          string       `json:"error,omitempty"`
	ErrorClass     source.Class `json:"error_class,omitempty"`
}

// Failed reports whether the city ended the run in a failure state.
func (o *CityOutcome) Failed() bool {
	switch o.Status {
	case OutcomeConfirmed, OutcomeRefreshed:
		return false
	}
	return true
}

// RunResult aggregates per-city outcomes for one orchestrator run.
type RunResult struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Outcomes   []CityOutcome `json:"outcomes"`
}

// FailedCities returns the number of cities that did not complete.
func (r *RunResult) FailedCities() int {
	n := 0
	for i := range r.Outcomes {
		if r.Outcomes[i].Failed() {
			n++
		}
	}
	return n
}

// OK reports whether every city fully succeeded.
func (r *RunResult) OK() bool {
	return r.FailedCities() == 0
}

// VibeAnalyzer computes and persists the vibe for a city. Optional
// collaborator of the orchestrator.
type VibeAnalyzer interface {
	Analyze(ctx context.Context, cityID string, now time.Time) (*models.AnalysisResult, error)
}

// OrchestratorConfig holds run parameters.
type OrchestratorConfig struct {
	DefaultCities     []string
	HistoryWindowDays int
	ForecastDays      int
	Workers           int
	CallTimeout       time.Duration
}

// Orchestrator drives the full ingestion pipeline: register default
// cities, backfill unconfirmed ones exactly once, then refresh current
// data across all confirmed cities. Cities are processed in parallel by a
// bounded worker pool; all operations for one city happen in order.
type Orchestrator struct {
	cfg      OrchestratorConfig
	registry repository.CityRegistry
	store    repository.VersionStore
	weather  source.WeatherSource
	traffic  source.TrafficSource
	vibe     VibeAnalyzer
	logger   *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

// NewOrchestrator creates a new ingestion orchestrator. vibe may be nil to
// skip analysis after refresh.
func NewOrchestrator(
	cfg OrchestratorConfig,
	registry repository.CityRegistry,
	store repository.VersionStore,
	weather source.WeatherSource,
	traffic source.TrafficSource,
	vibe VibeAnalyzer,
	logger *zap.Logger,
	metricsCollector *metrics.Collector,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		store:    store,
		weather:  weather,
		traffic:  traffic,
		vibe:     vibe,
		logger:   logger,
		metrics:  metricsCollector,
		now:      time.Now,
	}
}

// SetNow overrides the clock. Used by tests.
func (o *Orchestrator) SetNow(now func() time.Time) { o.now = now }

// Run executes one full ingestion cycle. Per-city failures are aggregated
// into the result, never raised; only a store-unavailable error terminates
// the run early. errors returned alongside a partial result carry the
// already-collected outcomes.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: o.now().UTC(),
	}
	timer := o.metrics.NewTimer(o.metrics.RunDuration)
	defer func() {
		timer.ObserveDuration()
		result.FinishedAt = o.now().UTC()
	}()

	o.logger.Info("ingestion run started",
		zap.String("run_id", result.RunID),
		zap.Strings("default_cities", o.cfg.DefaultCities),
		zap.Int("history_window_days", o.cfg.HistoryWindowDays),
		zap.Int("workers", o.cfg.Workers))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		storeErr error
	)
	fail := func(err error) {
		mu.Lock()
		if storeErr == nil {
			storeErr = err
		}
		mu.Unlock()
		cancel()
	}
	collect := func(outcome CityOutcome) {
		mu.Lock()
		result.Outcomes = append(result.Outcomes, outcome)
		mu.Unlock()
		o.metrics.RecordCityOutcome(outcome.Status)
	}

	processed := make(map[string]bool)

	// Step 1: default cities, with backfill for any that are unconfirmed.
	o.forEach(runCtx, o.cfg.DefaultCities, func(cityName string) {
		outcome := o.processCity(runCtx, cityName, fail)
		mu.Lock()
		processed[outcome.CityID] = true
		mu.Unlock()
		collect(outcome)
	})

	if err := runErr(ctx, storeErr); err != nil {
		return result, err
	}

	// Step 2: confirmed cities that were not part of the default set this
	// run still get their recurring refresh.
	confirmed, err := o.registry.ListConfirmed(ctx)
	if err != nil {
		return result, fmt.Errorf("listing confirmed cities: %w", err)
	}

	var remaining []string
	for _, city := range confirmed {
		if !processed[city.ID] {
			remaining = append(remaining, city.Name)
		}
	}

	o.forEach(runCtx, remaining, func(cityName string) {
		collect(o.processCity(runCtx, cityName, fail))
	})

	if err := runErr(ctx, storeErr); err != nil {
		return result, err
	}

	o.logger.Info("ingestion run finished",
		zap.String("run_id", result.RunID),
		zap.Int("cities", len(result.Outcomes)),
		zap.Int("failed", result.FailedCities()))

	return result, nil
}

func runErr(ctx context.Context, storeErr error) error {
	if storeErr != nil {
		return storeErr
	}
	return ctx.Err()
}

// forEach fans work out over the bounded worker pool.
func (o *Orchestrator) forEach(ctx context.Context, cityNames []string, work func(string)) {
	sem := make(chan struct{}, o.cfg.Workers)
	var wg sync.WaitGroup

	for _, name := range cityNames {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(cityName string) {
			defer wg.Done()
			defer func() { <-sem }()
			work(cityName)
		}(name)
	}
	wg.Wait()
}

// processCity runs the defined per-city sequence: register, backfill if
// unconfirmed, then refresh. fail is invoked on store-unavailable errors
// to abort the whole run.
func (o *Orchestrator) processCity(ctx context.Context, cityName string, fail func(error)) CityOutcome {
	outcome := CityOutcome{CityName: cityName}

	if ctx.Err() != nil {
		outcome.Status = OutcomeCanceled
		outcome.Error = ctx.Err().Error()
		return outcome
	}

	city, err := o.ensureRegistered(ctx, cityName)
	if err != nil {
		outcome.Status = OutcomeRegistrationFailed
		outcome.Error = err.Error()
		outcome.ErrorClass = source.Classify(err)
		if isStoreUnavailable(err) {
			fail(err)
		}
		o.logger.Warn("city registration failed",
			zap.String("city", cityName), zap.Error(err))
		return outcome
	}
	outcome.CityID = city.ID
	outcome.CityName = city.Name

	if !city.Confirmed {
		w, t, err := o.backfill(ctx, city)
		outcome.WeatherRecords += w
		outcome.TrafficRecords += t
		if err != nil {
			// Partial backfill must not advance the state machine; the
			// city stays Registered and is retried next run.
			outcome.Status = OutcomeBackfillFailed
			outcome.Error = err.Error()
			outcome.ErrorClass = source.Classify(err)
			if isStoreUnavailable(err) {
				fail(err)
			}
			o.logger.Warn("backfill failed, city remains registered",
				zap.String("city_id", city.ID), zap.Error(err))
			return outcome
		}

		if err := o.registry.MarkConfirmed(ctx, city.ID); err != nil {
			outcome.Status = OutcomeBackfillFailed
			outcome.Error = err.Error()
			if isStoreUnavailable(err) {
				fail(err)
			}
			return outcome
		}
		outcome.Backfilled = true
		o.metrics.BackfillRecords.Observe(float64(outcome.WeatherRecords + outcome.TrafficRecords))
	}

	w, t, err := o.refresh(ctx, city)
	outcome.WeatherRecords += w
	outcome.TrafficRecords += t
	if err != nil {
		outcome.Status = OutcomeRefreshFailed
		outcome.Error = err.Error()
		outcome.ErrorClass = source.Classify(err)
		if isStoreUnavailable(err) {
			fail(err)
		}
		o.logger.Warn("refresh failed",
			zap.String("city_id", city.ID), zap.Error(err))
		return outcome
	}

	if outcome.Backfilled {
		outcome.Status = OutcomeConfirmed
	} else {
		outcome.Status = OutcomeRefreshed
	}
	return outcome
}

func (o *Orchestrator) ensureRegistered(ctx context.Context, cityName string) (*models.City, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.registry.EnsureRegistered(callCtx, cityName)
}

// backfill ingests the full historical window for both sources with
// horizon 0. fetchedAt equals targetAt for realized observations, so a
// retried backfill re-appends idempotently.
func (o *Orchestrator) backfill(ctx context.Context, city *models.City) (weatherCount, trafficCount int, err error) {
	today := o.now().UTC().Truncate(24 * time.Hour)
	from := today.AddDate(0, 0, -o.cfg.HistoryWindowDays)
	to := today.AddDate(0, 0, -1)

	o.logger.Info("starting historical backfill",
		zap.String("city_id", city.ID),
		zap.Time("from", from),
		zap.Time("to", to))

	weatherReadings, err := o.fetchWeatherHistory(ctx, city, from, to)
	if err != nil {
		return 0, 0, fmt.Errorf("weather backfill: %w", err)
	}
	for _, reading := range weatherReadings {
		if _, err := o.store.AppendWeather(ctx, city.ID, reading, reading.TargetAt, reading.TargetAt, 0); err != nil {
			return weatherCount, 0, fmt.Errorf("weather backfill append: %w", err)
		}
		weatherCount++
	}

	// A weather-only backfill is a partial failure: traffic errors here
	// leave the city unconfirmed even though weather committed.
	trafficReadings, err := o.fetchTrafficHistory(ctx, city, from, to)
	if err != nil {
		return weatherCount, 0, fmt.Errorf("traffic backfill: %w", err)
	}
	for _, reading := range trafficReadings {
		if _, err := o.store.AppendTraffic(ctx, city.ID, reading, reading.TargetAt, reading.TargetAt, 0); err != nil {
			return weatherCount, trafficCount, fmt.Errorf("traffic backfill append: %w", err)
		}
		trafficCount++
	}

	return weatherCount, trafficCount, nil
}

// refresh ingests current readings plus near-term forecasts, then advances
// the city's last_updated marker.
func (o *Orchestrator) refresh(ctx context.Context, city *models.City) (weatherCount, trafficCount int, err error) {
	now := o.now().UTC()

	current, err := o.fetchCurrentWeather(ctx, city)
	if err != nil {
		return 0, 0, fmt.Errorf("current weather: %w", err)
	}
	if _, err := o.store.AppendWeather(ctx, city.ID, current, current.TargetAt, now, 0); err != nil {
		return 0, 0, fmt.Errorf("current weather append: %w", err)
	}
	weatherCount++

	currentTraffic, err := o.fetchCurrentTraffic(ctx, city)
	if err != nil {
		return weatherCount, 0, fmt.Errorf("current traffic: %w", err)
	}
	if _, err := o.store.AppendTraffic(ctx, city.ID, currentTraffic, currentTraffic.TargetAt, now, 0); err != nil {
		return weatherCount, 0, fmt.Errorf("current traffic append: %w", err)
	}
	trafficCount++

	forecast, err := o.fetchWeatherForecast(ctx, city)
	if err != nil {
		return weatherCount, trafficCount, fmt.Errorf("weather forecast: %w", err)
	}
	for _, reading := range forecast {
		horizon := horizonDays(now, reading.TargetAt)
		if horizon < 1 {
			continue
		}
		if _, err := o.store.AppendWeather(ctx, city.ID, reading, reading.TargetAt, now, horizon); err != nil {
			return weatherCount, trafficCount, fmt.Errorf("weather forecast append: %w", err)
		}
		weatherCount++
	}

	trafficForecast, err := o.fetchTrafficForecast(ctx, city)
	if err != nil {
		return weatherCount, trafficCount, fmt.Errorf("traffic forecast: %w", err)
	}
	for _, reading := range trafficForecast {
		horizon := horizonDays(now, reading.TargetAt)
		if horizon < 1 {
			continue
		}
		if _, err := o.store.AppendTraffic(ctx, city.ID, reading, reading.TargetAt, now, horizon); err != nil {
			return weatherCount, trafficCount, fmt.Errorf("traffic forecast append: %w", err)
		}
		trafficCount++
	}

	if err := o.registry.Touch(ctx, city.ID, now); err != nil {
		return weatherCount, trafficCount, fmt.Errorf("touch city: %w", err)
	}

	if o.vibe != nil {
		if _, err := o.vibe.Analyze(ctx, city.ID, now); err != nil {
			// Vibe analysis is downstream of ingestion; its failure does
			// not fail the city.
			o.logger.Warn("vibe analysis failed",
				zap.String("city_id", city.ID), zap.Error(err))
		}
	}

	return weatherCount, trafficCount, nil
}

func (o *Orchestrator) fetchWeatherHistory(ctx context.Context, city *models.City, from, to time.Time) ([]models.WeatherReading, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.weather.Historical(callCtx, *city, from, to)
}

func (o *Orchestrator) fetchTrafficHistory(ctx context.Context, city *models.City, from, to time.Time) ([]models.TrafficReading, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.traffic.Historical(callCtx, *city, from, to)
}

func (o *Orchestrator) fetchCurrentWeather(ctx context.Context, city *models.City) (models.WeatherReading, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.weather.Current(callCtx, *city)
}

func (o *Orchestrator) fetchCurrentTraffic(ctx context.Context, city *models.City) (models.TrafficReading, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.traffic.Current(callCtx, *city)
}

func (o *Orchestrator) fetchWeatherForecast(ctx context.Context, city *models.City) ([]models.WeatherReading, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.weather.Forecast(callCtx, *city, o.cfg.ForecastDays)
}

func (o *Orchestrator) fetchTrafficForecast(ctx context.Context, city *models.City) ([]models.TrafficReading, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.traffic.Forecast(callCtx, *city, o.cfg.ForecastDays)
}

// horizonDays is the whole number of days between the fetch date and the
// target date.
func horizonDays(fetchedAt, targetAt time.Time) int {
	fetchDay := fetchedAt.UTC().Truncate(24 * time.Hour)
	targetDay := targetAt.UTC().Truncate(24 * time.Hour)
	return int(targetDay.Sub(fetchDay).Hours() / 24)
}

func isStoreUnavailable(err error) bool {
	var unavailable *repository.UnavailableError
	return errors.As(err, &unavailable)
}
