package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"city-vibe/pkg/httpclient"
)

func newTestResolver(t *testing.T, handler http.Handler, countryCode string) (*Resolver, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := httpclient.New("geocoding-test", httpclient.Config{
		Timeout:      5 * time.Second,
		RateLimitRPS: 1000,
		RateBurst:    100,
	}, zap.NewNop())

	resolver := NewResolver(client, countryCode, zap.NewNop())
	resolver.SetBaseURL(server.URL)
	return resolver, server
}

func TestResolver_Resolve(t *testing.T) {
	var requests atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path != "/search" {
			t.Errorf("path = %q, want /search", r.URL.Path)
		}
		if got := r.URL.Query().Get("name"); got != "Stockholm" {
			t.Errorf("name = %q, want Stockholm", got)
		}
		if got := r.URL.Query().Get("country_code"); got != "SE" {
			t.Errorf("country_code = %q, want SE", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"results": [
				{"name": "Stockholm", "latitude": 59.3293, "longitude": 18.0686}
			]
		}`))
	})

	resolver, _ := newTestResolver(t, handler, "SE")

	loc, err := resolver.Resolve(context.Background(), "Stockholm")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if loc.ID != "stockholm" {
		t.Errorf("ID = %q, want %q", loc.ID, "stockholm")
	}
	if loc.Latitude != 59.3293 || loc.Longitude != 18.0686 {
		t.Errorf("coordinates = (%v, %v), want (59.3293, 18.0686)", loc.Latitude, loc.Longitude)
	}

	// Name variants hit the cache, not the network.
	cached, err := resolver.Resolve(context.Background(), "  stockholm ")
	if err != nil {
		t.Fatalf("cached resolve: %v", err)
	}
	if cached != loc {
		t.Errorf("cached location = %+v, want %+v", cached, loc)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("upstream requests = %d, want 1", got)
	}
}

func TestResolver_Resolve_NoResults(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": []}`))
	})

	resolver, _ := newTestResolver(t, handler, "")

	_, err := resolver.Resolve(context.Background(), "Atlantis")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
	if notFound.IsTransient() {
		t.Error("a missing city must not be retried")
	}
}

func TestResolver_Resolve_EmptyName(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty names must not reach the network")
	})

	resolver, _ := newTestResolver(t, handler, "")

	_, err := resolver.Resolve(context.Background(), "   ")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}
