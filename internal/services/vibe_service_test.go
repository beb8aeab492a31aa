package services

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"city-vibe/internal/models"
)

func seedConfirmedCity(t *testing.T, env *testEnv, name string) string {
	t.Helper()
	city, err := env.registry.EnsureRegistered(context.Background(), name)
	if err != nil {
		t.Fatalf("registering %s: %v", name, err)
	}
	if err := env.registry.MarkConfirmed(context.Background(), city.ID); err != nil {
		t.Fatalf("confirming %s: %v", name, err)
	}
	return city.ID
}

func TestVibeService_Analyze_InsufficientData(t *testing.T) {
	env := newTestEnv(t)
	cityID := seedConfirmedCity(t, env, "Stockholm")
	svc := NewVibeService(env.store, env.analyses, 7, zap.NewNop(), testMetrics)

	result, err := svc.Analyze(context.Background(), cityID, testNow)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if result.Category != string(VibeNeutral) {
		t.Errorf("category = %q, want %q", result.Category, VibeNeutral)
	}
	if result.Status != insufficientDataStatus {
		t.Errorf("status = %q, want %q", result.Status, insufficientDataStatus)
	}
	if result.MetricsJSON != "{}" {
		t.Errorf("metrics = %q, want empty object", result.MetricsJSON)
	}

	// The placeholder result is persisted like any other.
	latest, err := env.analyses.LatestAnalysis(context.Background(), cityID)
	if err != nil {
		t.Fatalf("latest analysis: %v", err)
	}
	if latest.ID != result.ID {
		t.Errorf("persisted ID = %d, want %d", latest.ID, result.ID)
	}
}

func TestVibeService_Analyze_WithObservations(t *testing.T) {
	env := newTestEnv(t)
	cityID := seedConfirmedCity(t, env, "Stockholm")
	svc := NewVibeService(env.store, env.analyses, 7, zap.NewNop(), testMetrics)
	ctx := context.Background()

	// Seven days of steadily warming, pleasant weather with calm traffic.
	temps := []float64{10, 11, 12, 13, 14, 15, 16}
	for i, temp := range temps {
		target := testNow.AddDate(0, 0, i-6)
		humidity := 70.0
		reading := models.WeatherReading{
			TargetAt:    target,
			Temperature: &temps[i],
			HumidityPct: &humidity,
		}
		if _, err := env.store.AppendWeather(ctx, cityID, reading, target, target, 0); err != nil {
			t.Fatalf("seeding weather day %d (%v): %v", i, temp, err)
		}

		traffic := models.TrafficReading{TargetAt: target, Congestion: 0.5, SpeedKmh: 40, Incidents: 1}
		if _, err := env.store.AppendTraffic(ctx, cityID, traffic, target, target, 0); err != nil {
			t.Fatalf("seeding traffic day %d: %v", i, err)
		}
	}

	result, err := svc.Analyze(ctx, cityID, testNow)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	// Improving temperatures within the comfortable band put people out
	// on the town regardless of the weekday.
	if result.Category != string(VibePeopleOutOnTown) {
		t.Errorf("category = %q, want %q", result.Category, VibePeopleOutOnTown)
	}
	if result.Status != string(StatusImproving) {
		t.Errorf("status = %q, want %q", result.Status, StatusImproving)
	}

	var payload VibeMetrics
	if err := json.Unmarshal([]byte(result.MetricsJSON), &payload); err != nil {
		t.Fatalf("metrics payload: %v", err)
	}
	if payload.Weather.Temperature.Avg != 13 {
		t.Errorf("temperature avg = %v, want 13", payload.Weather.Temperature.Avg)
	}
	if payload.Weather.Temperature.Trend != 6 {
		t.Errorf("temperature trend = %v, want 6", payload.Weather.Temperature.Trend)
	}
	if payload.TrafficStatus != StatusStable {
		t.Errorf("traffic status = %v, want %v", payload.TrafficStatus, StatusStable)
	}
}

func TestVibeService_Analyze_WeatherOnlyIsInsufficient(t *testing.T) {
	env := newTestEnv(t)
	cityID := seedConfirmedCity(t, env, "Stockholm")
	svc := NewVibeService(env.store, env.analyses, 7, zap.NewNop(), testMetrics)
	ctx := context.Background()

	target := testNow.AddDate(0, 0, -1)
	temp := 15.0
	reading := models.WeatherReading{TargetAt: target, Temperature: &temp}
	if _, err := env.store.AppendWeather(ctx, cityID, reading, target, target, 0); err != nil {
		t.Fatalf("seeding weather: %v", err)
	}

	result, err := svc.Analyze(ctx, cityID, testNow)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.Status != insufficientDataStatus {
		t.Errorf("status = %q, want %q", result.Status, insufficientDataStatus)
	}
}
