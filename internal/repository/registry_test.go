package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"city-vibe/internal/geocode"
	"city-vibe/internal/models"
)

// fakeGeocoder resolves from a fixed table and counts lookups.
type fakeGeocoder struct {
	locations map[string]geocode.Location
	calls     int
}

func (f *fakeGeocoder) Resolve(ctx context.Context, cityName string) (geocode.Location, error) {
	f.calls++
	loc, ok := f.locations[models.NormalizeCityID(cityName)]
	if !ok {
		return geocode.Location{}, &geocode.NotFoundError{City: cityName}
	}
	return loc, nil
}

func newFakeGeocoder() *fakeGeocoder {
	return &fakeGeocoder{locations: map[string]geocode.Location{
		"stockholm": {ID: "stockholm", Name: "Stockholm", Latitude: 59.33, Longitude: 18.07},
		"malmö":     {ID: "malmö", Name: "Malmö", Latitude: 55.6, Longitude: 13.0},
	}}
}

func TestCityRegistry_EnsureRegistered(t *testing.T) {
	db := newTestDB(t)
	geocoder := newFakeGeocoder()
	registry := NewCityRegistry(db, geocoder, zap.NewNop(), testMetrics)
	ctx := context.Background()

	city, err := registry.EnsureRegistered(ctx, "Stockholm")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if city.ID != "stockholm" {
		t.Errorf("city ID = %q, want %q", city.ID, "stockholm")
	}
	if city.Confirmed {
		t.Error("newly registered city must not be confirmed")
	}
	if city.LastUpdated != nil {
		t.Errorf("last_updated = %v, want nil before first refresh", city.LastUpdated)
	}

	// Name variants collapse onto the same row without another geocode.
	again, err := registry.EnsureRegistered(ctx, "  stockholm ")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again.ID != city.ID {
		t.Errorf("re-register ID = %q, want %q", again.ID, city.ID)
	}
	if geocoder.calls != 1 {
		t.Errorf("geocoder calls = %d, want 1", geocoder.calls)
	}
}

func TestCityRegistry_EnsureRegistered_UnknownCity(t *testing.T) {
	db := newTestDB(t)
	registry := NewCityRegistry(db, newFakeGeocoder(), zap.NewNop(), testMetrics)

	_, err := registry.EnsureRegistered(context.Background(), "Atlantis")
	var notFound *geocode.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want geocode.NotFoundError", err)
	}

	// The failed lookup must not leave a row behind.
	cities, listErr := registry.ListCities(context.Background())
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(cities) != 0 {
		t.Errorf("cities after failed registration = %d, want 0", len(cities))
	}
}

func TestCityRegistry_MarkConfirmed(t *testing.T) {
	db := newTestDB(t)
	registry := NewCityRegistry(db, newFakeGeocoder(), zap.NewNop(), testMetrics)
	ctx := context.Background()

	if _, err := registry.EnsureRegistered(ctx, "Stockholm"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := registry.MarkConfirmed(ctx, "stockholm"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// Confirming twice is a no-op, not an error.
	if err := registry.MarkConfirmed(ctx, "stockholm"); err != nil {
		t.Fatalf("second confirm: %v", err)
	}

	city, err := registry.GetCity(ctx, "stockholm")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !city.Confirmed {
		t.Error("city should be confirmed")
	}

	confirmed, err := registry.ListConfirmed(ctx)
	if err != nil {
		t.Fatalf("list confirmed: %v", err)
	}
	if len(confirmed) != 1 || confirmed[0].ID != "stockholm" {
		t.Errorf("confirmed list = %+v, want exactly stockholm", confirmed)
	}
}

func TestCityRegistry_MarkConfirmed_UnknownCity(t *testing.T) {
	db := newTestDB(t)
	registry := NewCityRegistry(db, newFakeGeocoder(), zap.NewNop(), testMetrics)

	err := registry.MarkConfirmed(context.Background(), "nowhere")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}

func TestCityRegistry_Touch_Monotonic(t *testing.T) {
	db := newTestDB(t)
	registry := NewCityRegistry(db, newFakeGeocoder(), zap.NewNop(), testMetrics)
	ctx := context.Background()

	if _, err := registry.EnsureRegistered(ctx, "Stockholm"); err != nil {
		t.Fatalf("register: %v", err)
	}

	later := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	if err := registry.Touch(ctx, "stockholm", later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	// An out-of-order touch must not move the marker backwards.
	if err := registry.Touch(ctx, "stockholm", earlier); err != nil {
		t.Fatalf("stale touch: %v", err)
	}

	city, err := registry.GetCity(ctx, "stockholm")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if city.LastUpdated == nil || !city.LastUpdated.Equal(later) {
		t.Errorf("last_updated = %v, want %v", city.LastUpdated, later)
	}
}

func TestAnalysisStore_InsertAndLatest(t *testing.T) {
	db := newTestDB(t)
	seedCity(t, db, "stockholm")
	store := NewAnalysisStore(db, zap.NewNop())
	ctx := context.Background()

	first := &models.AnalysisResult{
		CityID:      "stockholm",
		ComputedAt:  time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		Category:    "Neutral",
		Status:      "stable",
		Description: "A standard day in the city.",
		MetricsJSON: "{}",
	}
	second := &models.AnalysisResult{
		CityID:      "stockholm",
		ComputedAt:  time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC),
		Category:    "Positive",
		Status:      "improving",
		Description: "The mood is lifting as conditions improve.",
		MetricsJSON: "{}",
	}

	if err := store.InsertAnalysis(ctx, first); err != nil {
		t.Fatalf("insert first: %v", err)
	}
	if err := store.InsertAnalysis(ctx, second); err != nil {
		t.Fatalf("insert second: %v", err)
	}
	if first.ID == 0 || second.ID == 0 {
		t.Error("insert should populate result IDs")
	}

	latest, err := store.LatestAnalysis(ctx, "stockholm")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Category != "Positive" {
		t.Errorf("latest category = %q, want %q", latest.Category, "Positive")
	}

	_, err = store.LatestAnalysis(ctx, "nowhere")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("unknown city error = %v, want NotFoundError", err)
	}
}
