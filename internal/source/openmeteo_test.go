package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"city-vibe/internal/models"
	"city-vibe/pkg/httpclient"
)

func newTestWeatherClient(t *testing.T, handler http.Handler) (*OpenMeteoClient, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := httpclient.New("open-meteo-test", httpclient.Config{
		Timeout:      5 * time.Second,
		MaxRetries:   0,
		RetryDelay:   time.Millisecond,
		RateLimitRPS: 1000,
		RateBurst:    100,
	}, zap.NewNop())

	weather := NewOpenMeteoClient(client, zap.NewNop(), testMetrics)
	weather.SetBaseURLs(server.URL, server.URL)
	return weather, server
}

var testCity = models.City{ID: "stockholm", Name: "Stockholm", Latitude: 59.3293, Longitude: 18.0686}

func TestOpenMeteoClient_Current(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forecast" {
			t.Errorf("path = %q, want /forecast", r.URL.Path)
		}
		if got := r.URL.Query().Get("latitude"); got != "59.3293" {
			t.Errorf("latitude = %q, want 59.3293", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"current": {
				"time": "2026-08-18T12:00",
				"temperature_2m": 18.4,
				"apparent_temperature": 17.1,
				"relative_humidity_2m": 65,
				"rain": 0.2,
				"wind_speed_10m": 11.5,
				"weather_code": 2
			}
		}`))
	})

	weather, _ := newTestWeatherClient(t, handler)

	reading, err := weather.Current(context.Background(), testCity)
	if err != nil {
		t.Fatalf("current: %v", err)
	}

	wantTime := time.Date(2026, 8, 18, 12, 0, 0, 0, time.UTC)
	if !reading.TargetAt.Equal(wantTime) {
		t.Errorf("target = %v, want %v", reading.TargetAt, wantTime)
	}
	if reading.Temperature == nil || *reading.Temperature != 18.4 {
		t.Errorf("temperature = %v, want 18.4", reading.Temperature)
	}
	if reading.HumidityPct == nil || *reading.HumidityPct != 65 {
		t.Errorf("humidity = %v, want 65", reading.HumidityPct)
	}
	if reading.Condition != "Partly cloudy" {
		t.Errorf("condition = %q, want %q", reading.Condition, "Partly cloudy")
	}
}

func TestOpenMeteoClient_Historical(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/archive" {
			t.Errorf("path = %q, want /archive", r.URL.Path)
		}
		if got := r.URL.Query().Get("start_date"); got != "2026-08-01" {
			t.Errorf("start_date = %q, want 2026-08-01", got)
		}
		if got := r.URL.Query().Get("end_date"); got != "2026-08-03" {
			t.Errorf("end_date = %q, want 2026-08-03", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"daily": {
				"time": ["2026-08-01", "2026-08-02", "2026-08-03"],
				"temperature_2m_max": [22, 24, 20],
				"temperature_2m_min": [14, 16, 12],
				"apparent_temperature_max": [21, 23, 19],
				"precipitation_sum": [0, 1.2, 4.5],
				"wind_speed_10m_max": [12, 9, 22],
				"relative_humidity_2m_mean": [60, 55, 80],
				"weather_code": [1, 2, 61]
			}
		}`))
	})

	weather, _ := newTestWeatherClient(t, handler)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)

	readings, err := weather.Historical(context.Background(), testCity, from, to)
	if err != nil {
		t.Fatalf("historical: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("readings = %d, want 3", len(readings))
	}

	// Daily temperature is the mean of max and min.
	if *readings[0].Temperature != 18 {
		t.Errorf("day 1 temperature = %v, want 18", *readings[0].Temperature)
	}
	if !readings[1].TargetAt.Equal(time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("day 2 target = %v", readings[1].TargetAt)
	}
	if readings[2].Condition != "Slight rain" {
		t.Errorf("day 3 condition = %q, want %q", readings[2].Condition, "Slight rain")
	}
}

func TestOpenMeteoClient_Forecast_SkipsBadDates(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("forecast_days"); got != "3" {
			t.Errorf("forecast_days = %q, want 3", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"daily": {
				"time": ["2026-08-19", "not-a-date", "2026-08-21"],
				"temperature_2m_max": [22, 24, 20],
				"temperature_2m_min": [14, 16, 12],
				"weather_code": [1, 2, 3]
			}
		}`))
	})

	weather, _ := newTestWeatherClient(t, handler)

	readings, err := weather.Forecast(context.Background(), testCity, 3)
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("readings = %d, want 2 after skipping the bad date", len(readings))
	}
}

func TestOpenMeteoClient_EmptyDailySeries(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"daily": {"time": []}}`))
	})

	weather, _ := newTestWeatherClient(t, handler)

	_, err := weather.Forecast(context.Background(), testCity, 3)
	var invalid *InvalidResponseError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want InvalidResponseError", err)
	}
	if Classify(err) != ClassInvalidResponse {
		t.Errorf("class = %v, want %v", Classify(err), ClassInvalidResponse)
	}
}

func TestOpenMeteoClient_ServerErrorIsTransient(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	})

	weather, _ := newTestWeatherClient(t, handler)

	_, err := weather.Current(context.Background(), testCity)
	if err == nil {
		t.Fatal("expected error")
	}
	if Classify(err) != ClassTransient {
		t.Errorf("class = %v, want %v", Classify(err), ClassTransient)
	}
}

func TestOpenMeteoClient_ClientErrorIsPermanent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad coordinates", http.StatusBadRequest)
	})

	weather, _ := newTestWeatherClient(t, handler)

	_, err := weather.Current(context.Background(), testCity)
	if err == nil {
		t.Fatal("expected error")
	}
	if Classify(err) != ClassPermanent {
		t.Errorf("class = %v, want %v", Classify(err), ClassPermanent)
	}
}

func TestConditionFromCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "Clear sky"},
		{3, "Overcast"},
		{95, "Thunderstorm"},
		{42, "Unknown"},
	}

	for _, tt := range tests {
		if got := ConditionFromCode(tt.code); got != tt.want {
			t.Errorf("ConditionFromCode(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
