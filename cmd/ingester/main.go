package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"city-vibe/internal/config"
	"city-vibe/internal/geocode"
	"city-vibe/internal/report"
	"city-vibe/internal/repository"
	"city-vibe/internal/services"
	"city-vibe/internal/source"
	"city-vibe/migrations"
	"city-vibe/pkg/database"
	"city-vibe/pkg/httpclient"
	"city-vibe/pkg/logging"
	"city-vibe/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.New("city-vibe-ingester", "1.0.0", cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting ingestion",
		zap.Strings("default_cities", cfg.Ingest.DefaultCities),
		zap.Int("history_window_days", cfg.Ingest.HistoryWindowDays),
		zap.String("database_path", cfg.Database.Path))

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("city_vibe_ingester")

	// Initialize database
	db, err := database.New(&database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	}, logger, metricsCollector)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Schema creation is idempotent, so every run applies it.
	migs, err := migrations.Up()
	if err != nil {
		logger.Fatal("failed to load migrations", zap.Error(err))
	}
	if err := db.Migrate(ctx, migs); err != nil {
		logger.Fatal("failed to apply migrations", zap.Error(err))
	}

	// Initialize sources
	httpCfg := httpclient.Config{
		Timeout:        cfg.Source.Timeout,
		MaxRetries:     cfg.Source.MaxRetries,
		RetryDelay:     cfg.Source.RetryDelay,
		Multiplier:     cfg.Source.RetryMultiplier,
		BreakerTimeout: cfg.Source.BreakerTimeout,
		RateLimitRPS:   cfg.Source.RateLimitRPS,
		RateBurst:      cfg.Source.RateBurst,
	}

	geocoder := geocode.NewResolver(httpclient.New("geocoding", httpCfg, logger), cfg.Ingest.CountryCode, logger)
	weather := source.NewOpenMeteoClient(httpclient.New("open-meteo", httpCfg, logger), logger, metricsCollector)
	traffic := source.NewSyntheticTraffic(logger, metricsCollector)

	// Initialize repositories
	registry := repository.NewCityRegistry(db, geocoder, logger, metricsCollector)
	store := repository.NewVersionStore(db, logger, metricsCollector)
	analyses := repository.NewAnalysisStore(db, logger)

	vibe := services.NewVibeService(store, analyses, cfg.Vibe.WindowDays, logger, metricsCollector)

	orchestrator := services.NewOrchestrator(services.OrchestratorConfig{
		DefaultCities:     cfg.Ingest.DefaultCities,
		HistoryWindowDays: cfg.Ingest.HistoryWindowDays,
		ForecastDays:      cfg.Ingest.ForecastDays,
		Workers:           cfg.Ingest.Workers,
		CallTimeout:       cfg.Source.Timeout,
	}, registry, store, weather, traffic, vibe, logger, metricsCollector)

	result, runErr := orchestrator.Run(ctx)
	if result != nil && len(result.Outcomes) > 0 {
		writer := report.NewWriter(cfg.Reports.Dir, logger)
		if _, err := writer.Write(result); err != nil {
			logger.Error("failed to write run report", zap.Error(err))
		}
	}

	if runErr != nil {
		logger.Error("ingestion run aborted", zap.Error(runErr))
		os.Exit(1)
	}

	if !result.OK() {
		logger.Warn("ingestion run finished with failures",
			zap.Int("failed_cities", result.FailedCities()),
			zap.Int("total_cities", len(result.Outcomes)))
		os.Exit(1)
	}

	logger.Info("ingestion run succeeded",
		zap.String("run_id", result.RunID),
		zap.Int("cities", len(result.Outcomes)))
}
