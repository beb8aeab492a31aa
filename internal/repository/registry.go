package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"city-vibe/internal/geocode"
	"city-vibe/internal/models"
	"city-vibe/pkg/database"
	"city-vibe/pkg/metrics"
)

// Geocoder resolves a city name to a stable identifier and coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, cityName string) (geocode.Location, error)
}

// CityRegistry owns the City lifecycle. Per-city state advances
// Unknown -> Registered -> Confirmed; Confirmed is terminal during normal
// operation and is only set after a full historical backfill commits.
type CityRegistry interface {
	// EnsureRegistered creates the city row via the geocoder when absent,
	// otherwise returns the existing row untouched.
	EnsureRegistered(ctx context.Context, cityName string) (*models.City, error)
	GetCity(ctx context.Context, cityID string) (*models.City, error)
	ListCities(ctx context.Context) ([]*models.City, error)
	ListConfirmed(ctx context.Context) ([]*models.City, error)

	// MarkConfirmed is a one-way transition; confirming twice is a no-op.
	MarkConfirmed(ctx context.Context, cityID string) error

	// Touch updates last_updated monotonically; older timestamps are
	// ignored.
	Touch(ctx context.Context, cityID string, when time.Time) error
}

// cityRegistry implements CityRegistry
type cityRegistry struct {
	db       *database.DB
	geocoder Geocoder
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewCityRegistry creates a new city registry.
func NewCityRegistry(db *database.DB, geocoder Geocoder, logger *zap.Logger, metricsCollector *metrics.Collector) CityRegistry {
	return &cityRegistry{
		db:       db,
		geocoder: geocoder,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

const cityColumns = `id, name, latitude, longitude, confirmed, last_updated, created_at`

func (r *cityRegistry) EnsureRegistered(ctx context.Context, cityName string) (*models.City, error) {
	id := models.NormalizeCityID(cityName)

	existing, err := r.GetCity(ctx, id)
	if err == nil {
		return existing, nil
	}
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	loc, err := r.geocoder.Resolve(ctx, cityName)
	if err != nil {
		return nil, err
	}

	// Concurrent registrations of the same name collapse onto one row.
	_, err = r.db.ExecContext(ctx, "insert_city", `
		INSERT INTO cities (id, name, latitude, longitude, confirmed, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT (id) DO NOTHING
	`, loc.ID, loc.Name, loc.Latitude, loc.Longitude, time.Now().UTC())
	if err != nil {
		return nil, unavailable("register city", err)
	}

	r.logger.Info("city registered",
		zap.String("city_id", loc.ID),
		zap.String("name", loc.Name),
		zap.Float64("lat", loc.Latitude),
		zap.Float64("lon", loc.Longitude))

	return r.GetCity(ctx, loc.ID)
}

func (r *cityRegistry) GetCity(ctx context.Context, cityID string) (*models.City, error) {
	var city models.City
	err := r.db.GetContext(ctx, "get_city", &city, `
		SELECT `+cityColumns+` FROM cities WHERE id = ?
	`, cityID)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "city", ID: cityID}
	}
	if err != nil {
		return nil, unavailable("get city", err)
	}
	return &city, nil
}

func (r *cityRegistry) ListCities(ctx context.Context) ([]*models.City, error) {
	var cities []*models.City
	err := r.db.SelectContext(ctx, "list_cities", &cities, `
		SELECT `+cityColumns+` FROM cities ORDER BY name ASC
	`)
	if err != nil {
		return nil, unavailable("list cities", err)
	}
	return cities, nil
}

func (r *cityRegistry) ListConfirmed(ctx context.Context) ([]*models.City, error) {
	var cities []*models.City
	err := r.db.SelectContext(ctx, "list_confirmed", &cities, `
		SELECT `+cityColumns+` FROM cities WHERE confirmed = 1 ORDER BY name ASC
	`)
	if err != nil {
		return nil, unavailable("list confirmed", err)
	}
	return cities, nil
}

func (r *cityRegistry) MarkConfirmed(ctx context.Context, cityID string) error {
	result, err := r.db.ExecContext(ctx, "confirm_city", `
		UPDATE cities SET confirmed = 1 WHERE id = ?
	`, cityID)
	if err != nil {
		return unavailable("confirm city", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return unavailable("confirm city", err)
	}
	if affected == 0 {
		// Either the city is unknown or it was already confirmed; only
		// the former is an error.
		if _, err := r.GetCity(ctx, cityID); err != nil {
			return err
		}
	}

	r.logger.Info("city confirmed", zap.String("city_id", cityID))
	return nil
}

func (r *cityRegistry) Touch(ctx context.Context, cityID string, when time.Time) error {
	when = when.UTC().Truncate(time.Second)

	_, err := r.db.ExecContext(ctx, "touch_city", `
		UPDATE cities SET last_updated = ?
		WHERE id = ? AND (last_updated IS NULL OR last_updated < ?)
	`, when, cityID, when)
	if err != nil {
		return unavailable("touch city", err)
	}
	return nil
}
