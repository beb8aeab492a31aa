package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"city-vibe/internal/config"
	"city-vibe/internal/geocode"
	"city-vibe/internal/handlers"
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
	logger, err := logging.New("city-vibe-api", "1.0.0", cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting api server",
		zap.String("server_host", cfg.Server.Host),
		zap.Int("server_port", cfg.Server.Port),
		zap.String("database_path", cfg.Database.Path),
		zap.Duration("refresh_interval", cfg.Ingest.RefreshInterval))

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("city_vibe")

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

	reportWriter := report.NewWriter(cfg.Reports.Dir, logger)

	runOnce := func() {
		result, err := orchestrator.Run(ctx)
		if result != nil && len(result.Outcomes) > 0 {
			if _, werr := reportWriter.Write(result); werr != nil {
				logger.Error("failed to write run report", zap.Error(werr))
			}
		}
		if err != nil {
			logger.Error("scheduled ingestion run aborted", zap.Error(err))
		}
	}

	// Kick off an initial ingestion so the API has data, then refresh on
	// the configured interval.
	go runOnce()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Ingest.RefreshInterval), runOnce); err != nil {
		logger.Fatal("failed to schedule refresh", zap.Error(err))
	}
	scheduler.Start()

	// Initialize handlers
	cityHandler := handlers.NewCityHandler(registry, store, analyses, logger, metricsCollector)

	// Setup router
	router := mux.NewRouter()
	cityHandler.RegisterRoutes(router)

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("http server listening", zap.String("address", server.Addr))

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info("shutting down server")

	schedulerCtx := scheduler.Stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Let an in-flight scheduled run finish before closing the database.
	select {
	case <-schedulerCtx.Done():
	case <-shutdownCtx.Done():
	}

	logger.Info("server stopped")
}
