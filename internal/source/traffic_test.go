package source

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"city-vibe/internal/models"
	"city-vibe/pkg/metrics"
)

// promauto registers against the default registry, so the collector is
// shared across every test in the package.
var testMetrics = metrics.NewCollector("city_vibe_source_test")

var trafficTestNow = time.Date(2026, 8, 18, 14, 30, 0, 0, time.UTC)

func newTestTrafficSource() *SyntheticTraffic {
	s := NewSyntheticTraffic(zap.NewNop(), testMetrics)
	s.SetNow(func() time.Time { return trafficTestNow })
	return s
}

func TestSyntheticTraffic_Historical_OneReadingPerDay(t *testing.T) {
	s := newTestTrafficSource()
	city := models.City{ID: "stockholm"}

	to := trafficTestNow.Truncate(24 * time.Hour).AddDate(0, 0, -1)
	from := trafficTestNow.Truncate(24 * time.Hour).AddDate(0, 0, -60)

	readings, err := s.Historical(context.Background(), city, from, to)
	if err != nil {
		t.Fatalf("historical: %v", err)
	}
	if len(readings) != 60 {
		t.Fatalf("readings = %d, want 60 for a 60 day window", len(readings))
	}

	for i, r := range readings {
		if r.TargetAt.Hour() != 8 {
			t.Errorf("reading %d at hour %d, want 08:00 UTC", i, r.TargetAt.Hour())
		}
		if err := r.Validate(); err != nil {
			t.Errorf("reading %d invalid: %v", i, err)
		}
		if i > 0 && r.TargetAt.Sub(readings[i-1].TargetAt) != 24*time.Hour {
			t.Errorf("reading %d not one day after previous", i)
		}
	}
}

func TestSyntheticTraffic_Historical_Deterministic(t *testing.T) {
	s := newTestTrafficSource()
	city := models.City{ID: "stockholm"}

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)

	first, err := s.Historical(context.Background(), city, from, to)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := s.Historical(context.Background(), city, from, to)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("reading %d differs between fetches: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSyntheticTraffic_DifferentCitiesDiffer(t *testing.T) {
	s := newTestTrafficSource()
	ctx := context.Background()

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

	stockholm, err := s.Historical(ctx, models.City{ID: "stockholm"}, from, to)
	if err != nil {
		t.Fatalf("stockholm: %v", err)
	}
	malmo, err := s.Historical(ctx, models.City{ID: "malmö"}, from, to)
	if err != nil {
		t.Fatalf("malmö: %v", err)
	}

	same := true
	for i := range stockholm {
		if stockholm[i].Congestion != malmo[i].Congestion {
			same = false
			break
		}
	}
	if same {
		t.Error("two cities produced identical congestion series")
	}
}

func TestSyntheticTraffic_Current(t *testing.T) {
	s := newTestTrafficSource()

	reading, err := s.Current(context.Background(), models.City{ID: "stockholm"})
	if err != nil {
		t.Fatalf("current: %v", err)
	}

	want := trafficTestNow.Truncate(time.Hour)
	if !reading.TargetAt.Equal(want) {
		t.Errorf("target = %v, want %v", reading.TargetAt, want)
	}
	if err := reading.Validate(); err != nil {
		t.Errorf("invalid reading: %v", err)
	}
	// Speed derives linearly from congestion.
	wantSpeed := 60 - 40*reading.Congestion
	// Both fields are rounded independently, so allow for that.
	if diff := reading.SpeedKmh - wantSpeed; diff > 0.3 || diff < -0.3 {
		t.Errorf("speed = %v, want about %v", reading.SpeedKmh, wantSpeed)
	}
}

func TestSyntheticTraffic_Forecast(t *testing.T) {
	s := newTestTrafficSource()

	readings, err := s.Forecast(context.Background(), models.City{ID: "stockholm"}, 7)
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if len(readings) != 7 {
		t.Fatalf("readings = %d, want 7", len(readings))
	}

	today := trafficTestNow.Truncate(24 * time.Hour)
	for i, r := range readings {
		want := today.AddDate(0, 0, i+1).Add(8 * time.Hour)
		if !r.TargetAt.Equal(want) {
			t.Errorf("reading %d target = %v, want %v", i, r.TargetAt, want)
		}
	}
}

func TestBaseCongestion(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want float64
	}{
		{"weekday morning rush", time.Date(2026, 8, 18, 8, 0, 0, 0, time.UTC), 0.7},
		{"weekday evening rush", time.Date(2026, 8, 18, 17, 0, 0, 0, time.UTC), 0.7},
		{"weekday night", time.Date(2026, 8, 18, 2, 0, 0, 0, time.UTC), 0.1},
		{"weekday midday", time.Date(2026, 8, 18, 12, 0, 0, 0, time.UTC), 0.4},
		{"weekend afternoon", time.Date(2026, 8, 22, 14, 0, 0, 0, time.UTC), 0.4},
		{"weekend morning", time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC), 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := baseCongestion(tt.at); got != tt.want {
				t.Errorf("baseCongestion(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}
