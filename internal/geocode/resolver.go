// Package geocode resolves city names to stable identifiers and
// coordinates using the Open-Meteo geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"city-vibe/internal/models"
	"city-vibe/pkg/httpclient"
)

// Location is a resolved city.
type Location struct {
	ID        string
	Name      string
	Latitude  float64
	Longitude float64
}

// NotFoundError is returned when the upstream has no match for a name.
type NotFoundError struct {
	City string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no geocoding result for city: %s", e.City)
}

// IsTransient reports that retrying the same name will not help.
func (e *NotFoundError) IsTransient() bool { return false }

// Resolver resolves city names. Resolution is idempotent: the identifier
// derives from the normalized name, and results are cached in-process so
// repeat lookups skip the network.
type Resolver struct {
	client      *httpclient.Client
	logger      *zap.Logger
	baseURL     string
	countryCode string

	mu    sync.RWMutex
	cache map[string]Location
}

// NewResolver creates a resolver. countryCode biases results and may be
// empty for a global search.
func NewResolver(client *httpclient.Client, countryCode string, logger *zap.Logger) *Resolver {
	return &Resolver{
		client:      client,
		logger:      logger,
		baseURL:     "https://geocoding-api.open-meteo.com/v1",
		countryCode: countryCode,
		cache:       make(map[string]Location),
	}
}

// SetBaseURL overrides the upstream endpoint. Used by tests.
func (r *Resolver) SetBaseURL(base string) { r.baseURL = base }

type searchResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

// Resolve returns the location for a city name. Pure lookup: the caller
// decides whether to persist the result.
func (r *Resolver) Resolve(ctx context.Context, cityName string) (Location, error) {
	id := models.NormalizeCityID(cityName)
	if id == "" {
		return Location{}, &NotFoundError{City: cityName}
	}

	r.mu.RLock()
	if loc, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return loc, nil
	}
	r.mu.RUnlock()

	q := url.Values{}
	q.Set("name", cityName)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")
	if r.countryCode != "" {
		q.Set("country_code", r.countryCode)
	}

	body, err := r.client.Get(ctx, r.baseURL+"/search?"+q.Encode())
	if err != nil {
		return Location{}, fmt.Errorf("geocoding request failed for %q: %w", cityName, err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Location{}, fmt.Errorf("unparseable geocoding response for %q: %w", cityName, err)
	}

	if len(resp.Results) == 0 {
		r.logger.Warn("no geocoding results", zap.String("city", cityName))
		return Location{}, &NotFoundError{City: cityName}
	}

	best := resp.Results[0]
	loc := Location{
		ID:        id,
		Name:      best.Name,
		Latitude:  best.Latitude,
		Longitude: best.Longitude,
	}

	r.mu.Lock()
	r.cache[id] = loc
	r.mu.Unlock()

	r.logger.Debug("resolved city",
		zap.String("city", cityName),
		zap.String("id", loc.ID),
		zap.Float64("lat", loc.Latitude),
		zap.Float64("lon", loc.Longitude))

	return loc, nil
}
