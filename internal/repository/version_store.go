package repository

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"city-vibe/internal/models"
	"city-vibe/pkg/database"
	"city-vibe/pkg/metrics"
)

// VersionStore owns the record lifecycle for weather and traffic versions.
// Records are append-only: a committed version is never mutated or deleted,
// corrections arrive as new versions.
type VersionStore interface {
	// AppendWeather commits a new weather version. Appending an identical
	// (cityID, targetAt, fetchedAt, horizon) tuple again is a no-op that
	// returns the already-committed version number.
	AppendWeather(ctx context.Context, cityID string, reading models.WeatherReading, targetAt, fetchedAt time.Time, horizon int) (int64, error)
	AppendTraffic(ctx context.Context, cityID string, reading models.TrafficReading, targetAt, fetchedAt time.Time, horizon int) (int64, error)

	// LatestWeather returns the most accurate record for a target
	// timestamp: smallest horizon, ties broken by latest fetchedAt.
	LatestWeather(ctx context.Context, cityID string, targetAt time.Time) (*models.WeatherVersion, error)
	LatestTraffic(ctx context.Context, cityID string, targetAt time.Time) (*models.TrafficVersion, error)

	// WeatherVersions returns every version for a target timestamp,
	// ordered by fetchedAt ascending. Read-only input for
	// forecast-precision analysis.
	WeatherVersions(ctx context.Context, cityID string, targetAt time.Time) ([]*models.WeatherVersion, error)
	TrafficVersions(ctx context.Context, cityID string, targetAt time.Time) ([]*models.TrafficVersion, error)

	// WeatherRange returns one representative (latest rule) record per
	// target timestamp in [from, to], ordered by targetAt ascending.
	WeatherRange(ctx context.Context, cityID string, from, to time.Time) ([]*models.WeatherVersion, error)
	TrafficRange(ctx context.Context, cityID string, from, to time.Time) ([]*models.TrafficVersion, error)

	HealthCheck(ctx context.Context) error
}

// versionStore implements VersionStore
type versionStore struct {
	db      *database.DB
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewVersionStore creates a new versioned record store.
func NewVersionStore(db *database.DB, logger *zap.Logger, metricsCollector *metrics.Collector) VersionStore {
	return &versionStore{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// normalizeKey puts key timestamps in UTC at second precision so that the
// composite key round-trips through SQLite text storage.
func normalizeKey(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func (s *versionStore) AppendWeather(ctx context.Context, cityID string, reading models.WeatherReading, targetAt, fetchedAt time.Time, horizon int) (int64, error) {
	targetAt = normalizeKey(targetAt)
	fetchedAt = normalizeKey(fetchedAt)

	version, inserted, err := s.appendVersion(ctx, "weather_versions", cityID, targetAt, fetchedAt, horizon,
		func(tx execer, version int64) error {
			var condition *string
			if reading.Condition != "" {
				condition = &reading.Condition
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO weather_versions (
					city_id, target_at, fetched_at, horizon, version,
					temperature, feels_like, precipitation_mm, wind_speed_kmh,
					humidity_pct, weather_code, condition, created_at
				)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				cityID, targetAt, fetchedAt, horizon, version,
				reading.Temperature, reading.FeelsLike, reading.PrecipitationMm,
				reading.WindSpeedKmh, reading.HumidityPct, reading.WeatherCode,
				condition, time.Now().UTC(),
			)
			return err
		})
	if err != nil {
		return 0, err
	}

	if inserted {
		s.metrics.RecordVersionStored("weather_versions")
	} else {
		s.metrics.RecordDuplicateAppend("weather_versions")
	}
	return version, nil
}

func (s *versionStore) AppendTraffic(ctx context.Context, cityID string, reading models.TrafficReading, targetAt, fetchedAt time.Time, horizon int) (int64, error) {
	if err := reading.Validate(); err != nil {
		return 0, err
	}

	targetAt = normalizeKey(targetAt)
	fetchedAt = normalizeKey(fetchedAt)

	version, inserted, err := s.appendVersion(ctx, "traffic_versions", cityID, targetAt, fetchedAt, horizon,
		func(tx execer, version int64) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO traffic_versions (
					city_id, target_at, fetched_at, horizon, version,
					congestion, speed_kmh, incidents, created_at
				)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				cityID, targetAt, fetchedAt, horizon, version,
				reading.Congestion, reading.SpeedKmh, reading.Incidents,
				time.Now().UTC(),
			)
			return err
		})
	if err != nil {
		return 0, err
	}

	if inserted {
		s.metrics.RecordVersionStored("traffic_versions")
	} else {
		s.metrics.RecordDuplicateAppend("traffic_versions")
	}
	return version, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// appendBusyAttempts bounds retries when writers contend for the file
// lock longer than busy_timeout allows.
const appendBusyAttempts = 3

// appendVersion runs the short transactional append shared by both tables.
// The transaction holds the write lock from BEGIN, so concurrent appends
// serialize on busy_timeout; a residual lock timeout is retried here rather
// than surfaced as store unavailability.
func (s *versionStore) appendVersion(
	ctx context.Context,
	table, cityID string,
	targetAt, fetchedAt time.Time,
	horizon int,
	insert func(tx execer, version int64) error,
) (int64, bool, error) {
	var (
		version  int64
		inserted bool
		err      error
	)
	for attempt := 1; ; attempt++ {
		version, inserted, err = s.appendVersionOnce(ctx, table, cityID, targetAt, fetchedAt, horizon, insert)
		if err == nil || !isBusy(err) || attempt >= appendBusyAttempts {
			return version, inserted, err
		}
		s.logger.Debug("append contention, retrying",
			zap.String("table", table),
			zap.String("city_id", cityID),
			zap.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return 0, false, unavailable("append canceled", ctx.Err())
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
}

// appendVersionOnce detects an existing version for the composite key,
// otherwise inserts with the next monotonic version for (cityID, targetAt).
// A concurrent duplicate loses the insert race on the UNIQUE constraint and
// reads back the winner.
func (s *versionStore) appendVersionOnce(
	ctx context.Context,
	table, cityID string,
	targetAt, fetchedAt time.Time,
	horizon int,
	insert func(tx execer, version int64) error,
) (int64, bool, error) {
	existingQuery := `SELECT version FROM ` + table + `
		WHERE city_id = ? AND target_at = ? AND fetched_at = ? AND horizon = ?`

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, false, unavailable("begin append", err)
	}
	defer tx.Rollback()

	var existing int64
	err = tx.GetContext(ctx, &existing, existingQuery, cityID, targetAt, fetchedAt, horizon)
	if err == nil {
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, unavailable("append lookup", err)
	}

	var next int64
	err = tx.GetContext(ctx, &next, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM `+table+`
		WHERE city_id = ? AND target_at = ?`,
		cityID, targetAt)
	if err != nil {
		return 0, false, unavailable("append next version", err)
	}

	if err := insert(tx, next); err != nil {
		if isUniqueViolation(err) {
			// First successful commit wins; return its version.
			tx.Rollback()
			var committed int64
			if err := s.db.GetContext(ctx, "append_conflict_lookup", &committed, existingQuery,
				cityID, targetAt, fetchedAt, horizon); err != nil {
				return 0, false, unavailable("append conflict lookup", err)
			}
			return committed, false, nil
		}
		return 0, false, unavailable("append insert", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, unavailable("append commit", err)
	}

	s.logger.Debug("version committed",
		zap.String("table", table),
		zap.String("city_id", cityID),
		zap.Time("target_at", targetAt),
		zap.Int("horizon", horizon),
		zap.Int64("version", next))

	return next, true, nil
}

const weatherColumns = `id, city_id, target_at, fetched_at, horizon, version,
	temperature, feels_like, precipitation_mm, wind_speed_kmh, humidity_pct,
	weather_code, condition, created_at`

const trafficColumns = `id, city_id, target_at, fetched_at, horizon, version,
	congestion, speed_kmh, incidents, created_at`

func (s *versionStore) LatestWeather(ctx context.Context, cityID string, targetAt time.Time) (*models.WeatherVersion, error) {
	targetAt = normalizeKey(targetAt)

	var v models.WeatherVersion
	err := s.db.GetContext(ctx, "latest_weather", &v, `
		SELECT `+weatherColumns+`
		FROM weather_versions
		WHERE city_id = ? AND target_at = ?
		ORDER BY horizon ASC, fetched_at DESC
		LIMIT 1
	`, cityID, targetAt)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "weather_version", ID: cityID + ":" + targetAt.Format(time.RFC3339)}
	}
	if err != nil {
		return nil, unavailable("latest weather", err)
	}
	return &v, nil
}

func (s *versionStore) LatestTraffic(ctx context.Context, cityID string, targetAt time.Time) (*models.TrafficVersion, error) {
	targetAt = normalizeKey(targetAt)

	var v models.TrafficVersion
	err := s.db.GetContext(ctx, "latest_traffic", &v, `
		SELECT `+trafficColumns+`
		FROM traffic_versions
		WHERE city_id = ? AND target_at = ?
		ORDER BY horizon ASC, fetched_at DESC
		LIMIT 1
	`, cityID, targetAt)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "traffic_version", ID: cityID + ":" + targetAt.Format(time.RFC3339)}
	}
	if err != nil {
		return nil, unavailable("latest traffic", err)
	}
	return &v, nil
}

func (s *versionStore) WeatherVersions(ctx context.Context, cityID string, targetAt time.Time) ([]*models.WeatherVersion, error) {
	targetAt = normalizeKey(targetAt)

	var versions []*models.WeatherVersion
	err := s.db.SelectContext(ctx, "weather_versions", &versions, `
		SELECT `+weatherColumns+`
		FROM weather_versions
		WHERE city_id = ? AND target_at = ?
		ORDER BY fetched_at ASC, version ASC
	`, cityID, targetAt)
	if err != nil {
		return nil, unavailable("weather versions", err)
	}
	return versions, nil
}

func (s *versionStore) TrafficVersions(ctx context.Context, cityID string, targetAt time.Time) ([]*models.TrafficVersion, error) {
	targetAt = normalizeKey(targetAt)

	var versions []*models.TrafficVersion
	err := s.db.SelectContext(ctx, "traffic_versions", &versions, `
		SELECT `+trafficColumns+`
		FROM traffic_versions
		WHERE city_id = ? AND target_at = ?
		ORDER BY fetched_at ASC, version ASC
	`, cityID, targetAt)
	if err != nil {
		return nil, unavailable("traffic versions", err)
	}
	return versions, nil
}

func (s *versionStore) WeatherRange(ctx context.Context, cityID string, from, to time.Time) ([]*models.WeatherVersion, error) {
	from = normalizeKey(from)
	to = normalizeKey(to)

	var versions []*models.WeatherVersion
	err := s.db.SelectContext(ctx, "weather_range", &versions, `
		SELECT `+weatherColumns+` FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY target_at
				ORDER BY horizon ASC, fetched_at DESC
			) AS rn
			FROM weather_versions
			WHERE city_id = ? AND target_at >= ? AND target_at <= ?
		)
		WHERE rn = 1
		ORDER BY target_at ASC
	`, cityID, from, to)
	if err != nil {
		return nil, unavailable("weather range", err)
	}
	return versions, nil
}

func (s *versionStore) TrafficRange(ctx context.Context, cityID string, from, to time.Time) ([]*models.TrafficVersion, error) {
	from = normalizeKey(from)
	to = normalizeKey(to)

	var versions []*models.TrafficVersion
	err := s.db.SelectContext(ctx, "traffic_range", &versions, `
		SELECT `+trafficColumns+` FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY target_at
				ORDER BY horizon ASC, fetched_at DESC
			) AS rn
			FROM traffic_versions
			WHERE city_id = ? AND target_at >= ? AND target_at <= ?
		)
		WHERE rn = 1
		ORDER BY target_at ASC
	`, cityID, from, to)
	if err != nil {
		return nil, unavailable("traffic range", err)
	}
	return versions, nil
}

// HealthCheck performs a store health check
func (s *versionStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}
