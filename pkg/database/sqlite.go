// Package database wraps sqlx over a local SQLite file with query metrics
// and logging.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"city-vibe/pkg/metrics"
)

// Config holds database configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// DB wraps sqlx.DB with monitoring and metrics
type DB struct {
	db      *sqlx.DB
	logger  *zap.Logger
	metrics *metrics.Collector
	config  *Config
}

// New opens (and creates if necessary) the SQLite database file.
func New(cfg *Config, logger *zap.Logger, metricsCollector *metrics.Collector) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	busyMillis := cfg.BusyTimeout.Milliseconds()
	if busyMillis <= 0 {
		busyMillis = 5000
	}

	// Foreign keys and a busy timeout are required for correctness; WAL
	// lets readers proceed while an append transaction is open. Transactions
	// take the write lock at BEGIN (immediate), so concurrent writers queue
	// on busy_timeout instead of failing SQLITE_BUSY mid-transaction when a
	// deferred read upgrades to a write.
	dsn := fmt.Sprintf("file:%s?%s", cfg.Path, url.Values{
		"_txlock": []string{"immediate"},
		"_pragma": []string{
			"foreign_keys(1)",
			fmt.Sprintf("busy_timeout(%d)", busyMillis),
			"journal_mode(WAL)",
		},
	}.Encode())

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database opened",
		zap.String("path", cfg.Path),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)

	return &DB{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		config:  cfg,
	}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	d.logger.Info("closing database", zap.String("path", d.config.Path))
	return d.db.Close()
}

// DB returns the underlying sqlx.DB instance
func (d *DB) DB() *sqlx.DB {
	return d.db
}

// Migration is one schema script identified by its version stem, e.g.
// "001_create_schema".
type Migration struct {
	Version string
	SQL     string
}

const migrationLedger = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`

// Migrate applies schema scripts in order, skipping versions already
// recorded in schema_migrations. Each script runs at most once per
// database, so scripts do not have to be idempotent.
func (d *DB) Migrate(ctx context.Context, migs []Migration) error {
	if _, err := d.db.ExecContext(ctx, migrationLedger); err != nil {
		return fmt.Errorf("creating migration ledger: %w", err)
	}

	applied := 0
	for _, m := range migs {
		done, err := d.migrationApplied(ctx, m.Version)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if _, err := d.db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Version, err)
		}
		if _, err := d.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.Version, time.Now().UTC()); err != nil {
			return fmt.Errorf("recording migration %s: %w", m.Version, err)
		}
		applied++
	}
	d.logger.Info("migrations applied",
		zap.Int("applied", applied), zap.Int("total", len(migs)))
	return nil
}

// Rollback executes down scripts for versions present in the ledger and
// removes their ledger rows. Versions never applied are skipped.
func (d *DB) Rollback(ctx context.Context, migs []Migration) error {
	if _, err := d.db.ExecContext(ctx, migrationLedger); err != nil {
		return fmt.Errorf("creating migration ledger: %w", err)
	}

	for _, m := range migs {
		done, err := d.migrationApplied(ctx, m.Version)
		if err != nil {
			return err
		}
		if !done {
			continue
		}
		if _, err := d.db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("rollback %s failed: %w", m.Version, err)
		}
		if _, err := d.db.ExecContext(ctx,
			`DELETE FROM schema_migrations WHERE version = ?`, m.Version); err != nil {
			return fmt.Errorf("unrecording migration %s: %w", m.Version, err)
		}
	}
	return nil
}

func (d *DB) migrationApplied(ctx context.Context, version string) (bool, error) {
	var n int
	err := d.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version)
	if err != nil {
		return false, fmt.Errorf("reading migration ledger: %w", err)
	}
	return n > 0, nil
}

// ExecContext executes a command with context and metrics
func (d *DB) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	timer := time.Now()
	defer func() {
		d.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(timer).Seconds())
	}()

	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		d.metrics.RecordDBError("exec_error")
		d.logger.Error("command failed", zap.String("query_type", queryType), zap.Error(err))
		return nil, err
	}

	return result, nil
}

// GetContext executes a query that returns a single row
func (d *DB) GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	timer := time.Now()
	defer func() {
		d.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(timer).Seconds())
	}()

	err := d.db.GetContext(ctx, dest, query, args...)
	if err != nil && err != sql.ErrNoRows {
		d.metrics.RecordDBError("get_error")
		d.logger.Error("get query failed", zap.String("query_type", queryType), zap.Error(err))
	}

	return err
}

// SelectContext executes a query that returns multiple rows
func (d *DB) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	timer := time.Now()
	defer func() {
		d.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(timer).Seconds())
	}()

	err := d.db.SelectContext(ctx, dest, query, args...)
	if err != nil {
		d.metrics.RecordDBError("select_error")
		d.logger.Error("select query failed", zap.String("query_type", queryType), zap.Error(err))
		return err
	}

	return nil
}

// BeginTx begins a new transaction. The connection string sets immediate
// transaction locking, so the write lock is held from BEGIN onward and
// busy_timeout serializes concurrent writers.
func (d *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		d.metrics.RecordDBError("transaction_begin_error")
		d.logger.Error("failed to begin transaction", zap.Error(err))
		return nil, err
	}

	return tx, nil
}

// HealthCheck performs a database health check
func (d *DB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}
