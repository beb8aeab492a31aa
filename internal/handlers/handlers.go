package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"city-vibe/internal/repository"
	"city-vibe/pkg/metrics"
)

// CityHandler serves the read API over the city registry, the versioned
// observation store and the analysis history.
type CityHandler struct {
	registry repository.CityRegistry
	store    repository.VersionStore
	analyses repository.AnalysisStore
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewCityHandler creates a new city API handler.
func NewCityHandler(
	registry repository.CityRegistry,
	store repository.VersionStore,
	analyses repository.AnalysisStore,
	logger *zap.Logger,
	metricsCollector *metrics.Collector,
) *CityHandler {
	return &CityHandler{
		registry: registry,
		store:    store,
		analyses: analyses,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ListResponse wraps list payloads with their element count.
type ListResponse struct {
	Data  interface{} `json:"data"`
	Count int         `json:"count"`
}

// ListCities handles GET /api/v1/cities
func (h *CityHandler) ListCities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues("/api/v1/cities"))
	defer timer.ObserveDuration()

	cities, err := h.registry.ListCities(ctx)
	if err != nil {
		h.logger.Error("listing cities failed", zap.Error(err))
		h.sendError(w, r, "failed to list cities", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/cities", "GET", "200")
	h.sendJSON(w, ListResponse{Data: cities, Count: len(cities)}, http.StatusOK)
}

// GetCity handles GET /api/v1/cities/{id}
func (h *CityHandler) GetCity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cityID := mux.Vars(r)["id"]
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues("/api/v1/cities/{id}"))
	defer timer.ObserveDuration()

	city, err := h.registry.GetCity(ctx, cityID)
	if err != nil {
		h.handleLookupError(w, r, err, "failed to load city")
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/cities/{id}", "GET", "200")
	h.sendJSON(w, city, http.StatusOK)
}

// LatestWeather handles GET /api/v1/cities/{id}/weather/latest?target=...
func (h *CityHandler) LatestWeather(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cityID := mux.Vars(r)["id"]
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues("/api/v1/cities/{id}/weather/latest"))
	defer timer.ObserveDuration()

	target, ok := h.parseTarget(w, r)
	if !ok {
		return
	}

	record, err := h.store.LatestWeather(ctx, cityID, target)
	if err != nil {
		h.handleLookupError(w, r, err, "failed to load weather record")
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/cities/{id}/weather/latest", "GET", "200")
	h.sendJSON(w, record, http.StatusOK)
}

// WeatherVersions handles GET /api/v1/cities/{id}/weather/versions?target=...
func (h *CityHandler) WeatherVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cityID := mux.Vars(r)["id"]
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues("/api/v1/cities/{id}/weather/versions"))
	defer timer.ObserveDuration()

	target, ok := h.parseTarget(w, r)
	if !ok {
		return
	}

	records, err := h.store.WeatherVersions(ctx, cityID, target)
	if err != nil {
		h.handleLookupError(w, r, err, "failed to load weather versions")
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/cities/{id}/weather/versions", "GET", "200")
	h.sendJSON(w, ListResponse{Data: records, Count: len(records)}, http.StatusOK)
}

// WeatherRange handles GET /api/v1/cities/{id}/weather?from=...&to=...
func (h *CityHandler) WeatherRange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cityID := mux.Vars(r)["id"]
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues("/api/v1/cities/{id}/weather"))
	defer timer.ObserveDuration()

	from, to, ok := h.parseRange(w, r)
	if !ok {
		return
	}

	records, err := h.store.WeatherRange(ctx, cityID, from, to)
	if err != nil {
		h.handleLookupError(w, r, err, "failed to load weather range")
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/cities/{id}/weather", "GET", "200")
	h.sendJSON(w, ListResponse{Data: records, Count: len(records)}, http.StatusOK)
}

// LatestTraffic handles GET /api/v1/cities/{id}/traffic/latest?target=...
func (h *CityHandler) LatestTraffic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cityID := mux.Vars(r)["id"]
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues("/api/v1/cities/{id}/traffic/latest"))
	defer timer.ObserveDuration()

	target, ok := h.parseTarget(w, r)
	if !ok {
		return
	}

	record, err := h.store.LatestTraffic(ctx, cityID, target)
	if err != nil {
		h.handleLookupError(w, r, err, "failed to load traffic record")
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/cities/{id}/traffic/latest", "GET", "200")
	h.sendJSON(w, record, http.StatusOK)
}

// TrafficVersions handles GET /api/v1/cities/{id}/traffic/versions?target=...
func (h *CityHandler) TrafficVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cityID := mux.Vars(r)["id"]
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues("/api/v1/cities/{id}/traffic/versions"))
	defer timer.ObserveDuration()

	target, ok := h.parseTarget(w, r)
	if !ok {
		return
	}

	records, err := h.store.TrafficVersions(ctx, cityID, target)
	if err != nil {
		h.handleLookupError(w, r, err, "failed to load traffic versions")
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/cities/{id}/traffic/versions", "GET", "200")
	h.sendJSON(w, ListResponse{Data: records, Count: len(records)}, http.StatusOK)
}

// TrafficRange handles GET /api/v1/cities/{id}/traffic?from=...&to=...
func (h *CityHandler) TrafficRange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cityID := mux.Vars(r)["id"]
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues("/api/v1/cities/{id}/traffic"))
	defer timer.ObserveDuration()

	from, to, ok := h.parseRange(w, r)
	if !ok {
		return
	}

	records, err := h.store.TrafficRange(ctx, cityID, from, to)
	if err != nil {
		h.handleLookupError(w, r, err, "failed to load traffic range")
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/cities/{id}/traffic", "GET", "200")
	h.sendJSON(w, ListResponse{Data: records, Count: len(records)}, http.StatusOK)
}

// GetVibe handles GET /api/v1/cities/{id}/vibe
func (h *CityHandler) GetVibe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cityID := mux.Vars(r)["id"]
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues("/api/v1/cities/{id}/vibe"))
	defer timer.ObserveDuration()

	result, err := h.analyses.LatestAnalysis(ctx, cityID)
	if err != nil {
		h.handleLookupError(w, r, err, "failed to load vibe")
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/cities/{id}/vibe", "GET", "200")
	h.sendJSON(w, result, http.StatusOK)
}

// RecentVibes handles GET /api/v1/vibes/recent?limit=...
func (h *CityHandler) RecentVibes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues("/api/v1/vibes/recent"))
	defer timer.ObserveDuration()

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.sendError(w, r, "invalid limit, expected a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > 100 {
		limit = 100
	}

	results, err := h.analyses.RecentAnalyses(ctx, limit)
	if err != nil {
		h.logger.Error("listing recent vibes failed", zap.Error(err))
		h.sendError(w, r, "failed to list recent vibes", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/vibes/recent", "GET", "200")
	h.sendJSON(w, ListResponse{Data: results, Count: len(results)}, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *CityHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if err := h.store.HealthCheck(ctx); err != nil {
		status["status"] = "unhealthy"
		status["error"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	h.sendJSON(w, status, code)
}

// parseTarget reads the required target query parameter. RFC 3339 and
// plain dates are both accepted; dates mean midnight UTC.
func (h *CityHandler) parseTarget(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("target")
	if raw == "" {
		h.sendError(w, r, "missing required query parameter: target", http.StatusBadRequest)
		return time.Time{}, false
	}
	t, err := parseTime(raw)
	if err != nil {
		h.sendError(w, r, "invalid target, expected RFC3339 or YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, false
	}
	return t, true
}

func (h *CityHandler) parseRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	fromRaw := r.URL.Query().Get("from")
	toRaw := r.URL.Query().Get("to")
	if fromRaw == "" || toRaw == "" {
		h.sendError(w, r, "missing required query parameters: from, to", http.StatusBadRequest)
		return
	}

	var err error
	if from, err = parseTime(fromRaw); err != nil {
		h.sendError(w, r, "invalid from, expected RFC3339 or YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if to, err = parseTime(toRaw); err != nil {
		h.sendError(w, r, "invalid to, expected RFC3339 or YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if to.Before(from) {
		h.sendError(w, r, "to must not precede from", http.StatusBadRequest)
		return
	}
	ok = true
	return
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// handleLookupError maps repository errors onto HTTP status codes.
func (h *CityHandler) handleLookupError(w http.ResponseWriter, r *http.Request, err error, message string) {
	var notFound *repository.NotFoundError
	if errors.As(err, &notFound) {
		h.sendError(w, r, notFound.Error(), http.StatusNotFound)
		return
	}

	h.logger.Error("api lookup failed",
		zap.String("path", r.URL.Path), zap.Error(err))
	h.sendError(w, r, message, http.StatusInternalServerError)
}

// sendJSON sends a JSON response
func (h *CityHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *CityHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all city API routes
func (h *CityHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/cities", h.ListCities).Methods("GET")
	router.HandleFunc("/api/v1/cities/{id}", h.GetCity).Methods("GET")
	router.HandleFunc("/api/v1/cities/{id}/weather", h.WeatherRange).Methods("GET")
	router.HandleFunc("/api/v1/cities/{id}/weather/latest", h.LatestWeather).Methods("GET")
	router.HandleFunc("/api/v1/cities/{id}/weather/versions", h.WeatherVersions).Methods("GET")
	router.HandleFunc("/api/v1/cities/{id}/traffic", h.TrafficRange).Methods("GET")
	router.HandleFunc("/api/v1/cities/{id}/traffic/latest", h.LatestTraffic).Methods("GET")
	router.HandleFunc("/api/v1/cities/{id}/traffic/versions", h.TrafficVersions).Methods("GET")
	router.HandleFunc("/api/v1/cities/{id}/vibe", h.GetVibe).Methods("GET")
	router.HandleFunc("/api/v1/vibes/recent", h.RecentVibes).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
