package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"city-vibe/pkg/metrics"
)

// promauto registers against the default registry, so the collector is
// shared across every test in the package.
var testMetrics = metrics.NewCollector("city_vibe_database_test")

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(&Config{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 2,
		MaxIdleConns: 1,
		BusyTimeout:  time.Second,
	}, zap.NewNop(), testMetrics)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ledgerCount(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	if err := db.GetContext(context.Background(), "test_ledger", &n,
		`SELECT COUNT(*) FROM schema_migrations`); err != nil {
		t.Fatalf("counting ledger rows: %v", err)
	}
	return n
}

func TestMigrate_RecordsAppliedVersions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	migs := []Migration{
		{Version: "001_widgets", SQL: `CREATE TABLE widgets (id INTEGER PRIMARY KEY)`},
	}
	if err := db.Migrate(ctx, migs); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var n int
	if err := db.GetContext(ctx, "test_ledger", &n,
		`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, "001_widgets"); err != nil {
		t.Fatalf("reading ledger: %v", err)
	}
	if n != 1 {
		t.Errorf("ledger rows for 001_widgets = %d, want 1", n)
	}
}

func TestMigrate_SkipsAppliedScripts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	migs := []Migration{
		{Version: "001_widgets", SQL: `CREATE TABLE widgets (id INTEGER PRIMARY KEY)`},
	}
	if err := db.Migrate(ctx, migs); err != nil {
		t.Fatalf("first migrate: %v", err)
	}

	// ADD COLUMN is not idempotent; re-running it would fail without the
	// ledger skip.
	migs = append(migs, Migration{
		Version: "002_widget_color",
		SQL:     `ALTER TABLE widgets ADD COLUMN color TEXT`,
	})
	if err := db.Migrate(ctx, migs); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := db.Migrate(ctx, migs); err != nil {
		t.Fatalf("repeat migrate should skip applied scripts: %v", err)
	}

	if got := ledgerCount(t, db); got != 2 {
		t.Errorf("ledger rows = %d, want 2", got)
	}
}

func TestRollback_RemovesLedgerRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	up := []Migration{
		{Version: "001_widgets", SQL: `CREATE TABLE widgets (id INTEGER PRIMARY KEY)`},
	}
	if err := db.Migrate(ctx, up); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	down := []Migration{
		{Version: "001_widgets", SQL: `DROP TABLE widgets`},
	}
	if err := db.Rollback(ctx, down); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if got := ledgerCount(t, db); got != 0 {
		t.Errorf("ledger rows after rollback = %d, want 0", got)
	}

	// A second rollback finds no applied version and must not re-run the
	// drop.
	if err := db.Rollback(ctx, down); err != nil {
		t.Fatalf("repeat rollback: %v", err)
	}
}
