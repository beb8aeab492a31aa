// Package config loads application configuration from the environment,
// with optional .env file support.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database struct {
		Path         string `validate:"required"`
		MaxOpenConns int    `validate:"gt=0"`
		MaxIdleConns int    `validate:"gte=0"`
		BusyTimeout  time.Duration
	}

	Server struct {
		Host         string
		Port         int `validate:"gt=0,lte=65535"`
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		IdleTimeout  time.Duration
	}

	Logging struct {
		Level string `validate:"oneof=debug info warn error"`
	}

	Ingest struct {
		DefaultCities     []string `validate:"min=1,dive,required"`
		CountryCode       string
		HistoryWindowDays int `validate:"gt=0"`
		ForecastDays      int `validate:"gt=0,lte=16"`
		Workers           int `validate:"gt=0"`
		RefreshInterval   time.Duration
	}

	Source struct {
		Timeout         time.Duration `validate:"gt=0"`
		MaxRetries      int           `validate:"gte=0"`
		RetryDelay      time.Duration
		RetryMultiplier float64
		RateLimitRPS    float64 `validate:"gt=0"`
		RateBurst       int
		BreakerTimeout  time.Duration
	}

	Reports struct {
		Dir string `validate:"required"`
	}

	Vibe struct {
		WindowDays int `validate:"gt=0"`
	}
}

// Load reads configuration from environment with sensible defaults. A .env
// file in the working directory is applied first when present.
func Load() (*Config, error) {
	// Missing .env is fine; environment variables take over.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Database.Path = getEnv("DATABASE_PATH", "data/city_vibe.db")
	cfg.Database.MaxOpenConns = getEnvInt("DATABASE_MAX_OPEN_CONNS", 4)
	cfg.Database.MaxIdleConns = getEnvInt("DATABASE_MAX_IDLE_CONNS", 2)
	cfg.Database.BusyTimeout = getEnvDuration("DATABASE_BUSY_TIMEOUT", 5*time.Second)

	cfg.Server.Host = getEnv("SERVER_HOST", "0.0.0.0")
	cfg.Server.Port = getEnvInt("SERVER_PORT", 8080)
	cfg.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second)
	cfg.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second)
	cfg.Server.IdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)

	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")

	cfg.Ingest.DefaultCities = splitCities(getEnv("DEFAULT_CITIES", "Stockholm,Malmö"))
	cfg.Ingest.CountryCode = getEnv("COUNTRY_CODE", "SE")
	cfg.Ingest.HistoryWindowDays = getEnvInt("HISTORY_WINDOW_DAYS", 60)
	cfg.Ingest.ForecastDays = getEnvInt("FORECAST_DAYS", 7)
	cfg.Ingest.Workers = getEnvInt("INGEST_WORKERS", 4)
	cfg.Ingest.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", time.Hour)

	cfg.Source.Timeout = getEnvDuration("SOURCE_TIMEOUT", 15*time.Second)
	cfg.Source.MaxRetries = getEnvInt("SOURCE_MAX_RETRIES", 3)
	cfg.Source.RetryDelay = getEnvDuration("SOURCE_RETRY_DELAY", time.Second)
	cfg.Source.RetryMultiplier = getEnvFloat("SOURCE_RETRY_MULTIPLIER", 2)
	cfg.Source.RateLimitRPS = getEnvFloat("SOURCE_RATE_LIMIT_RPS", 2)
	cfg.Source.RateBurst = getEnvInt("SOURCE_RATE_BURST", 2)
	cfg.Source.BreakerTimeout = getEnvDuration("SOURCE_BREAKER_TIMEOUT", 30*time.Second)

	cfg.Reports.Dir = getEnv("REPORTS_DIR", "reports")

	cfg.Vibe.WindowDays = getEnvInt("VIBE_WINDOW_DAYS", 7)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func splitCities(value string) []string {
	var cities []string
	for _, city := range strings.Split(value, ",") {
		if city = strings.TrimSpace(city); city != "" {
			cities = append(cities, city)
		}
	}
	return cities
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
