package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"city-vibe/internal/config"
	"city-vibe/migrations"
	"city-vibe/pkg/database"
	"city-vibe/pkg/logging"
	"city-vibe/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New("city-vibe-migrate", "1.0.0", cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *direction != "up" && *direction != "down" {
		fmt.Fprintf(os.Stderr, "Unknown direction %q, expected up or down\n", *direction)
		os.Exit(1)
	}

	db, err := database.New(&database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	}, logger, metrics.NewCollector("city_vibe_migrate"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("Running %s migrations against %s\n", *direction, cfg.Database.Path)

	var migErr error
	if *direction == "up" {
		migs, err := migrations.Up()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load migrations: %v\n", err)
			os.Exit(1)
		}
		migErr = db.Migrate(context.Background(), migs)
	} else {
		migs, err := migrations.Down()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load migrations: %v\n", err)
			os.Exit(1)
		}
		migErr = db.Rollback(context.Background(), migs)
	}
	if migErr != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", migErr)
		os.Exit(1)
	}

	fmt.Println("Migration completed successfully")
}
