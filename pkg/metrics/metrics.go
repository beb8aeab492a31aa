package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Source fetch metrics
	SourceFetchesTotal  *prometheus.CounterVec
	SourceFetchDuration *prometheus.HistogramVec
	SourceErrorsTotal   *prometheus.CounterVec

	// Ingestion metrics
	RunDuration           prometheus.Histogram
	CitiesProcessedTotal  *prometheus.CounterVec
	VersionsStoredTotal   *prometheus.CounterVec
	DuplicateAppendsTotal *prometheus.CounterVec
	BackfillRecords       prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBErrorsTotal   *prometheus.CounterVec

	// Vibe metrics
	VibeComputedTotal       *prometheus.CounterVec
	VibeComputationDuration prometheus.Histogram
}

// NewCollector creates a new metrics collector
func NewCollector(namespace string) *Collector {
	return &Collector{
		APIRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		SourceFetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_fetches_total",
				Help:      "Total number of upstream fetches by source and kind",
			},
			[]string{"source", "kind"},
		),

		SourceFetchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_fetch_duration_seconds",
				Help:      "Upstream fetch duration in seconds by source",
				Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			},
			[]string{"source"},
		),

		SourceErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_errors_total",
				Help:      "Total number of upstream fetch errors by source and class",
			},
			[]string{"source", "class"},
		),

		RunDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_run_duration_seconds",
				Help:      "Duration of full orchestrator runs in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		CitiesProcessedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_cities_processed_total",
				Help:      "Total number of per-city outcomes by status",
			},
			[]string{"status"},
		),

		VersionsStoredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "versions_stored_total",
				Help:      "Total number of record versions committed by table",
			},
			[]string{"table"},
		),

		DuplicateAppendsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_appends_total",
				Help:      "Total number of append attempts collapsed onto an existing version",
			},
			[]string{"table"},
		),

		BackfillRecords: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backfill_records",
				Help:      "Number of records committed per city backfill",
				Buckets:   []float64{10, 30, 60, 120, 240, 480, 1000},
			},
		),

		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		VibeComputedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vibe_computed_total",
				Help:      "Total number of vibe computations by category",
			},
			[]string{"category"},
		),

		VibeComputationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "vibe_computation_duration_seconds",
				Help:      "Duration of vibe computations in seconds",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0},
			},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordSourceFetch increments the upstream fetch counter
func (c *Collector) RecordSourceFetch(source, kind string) {
	c.SourceFetchesTotal.WithLabelValues(source, kind).Inc()
}

// RecordSourceError increments the upstream error counter
func (c *Collector) RecordSourceError(source, class string) {
	c.SourceErrorsTotal.WithLabelValues(source, class).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordVersionStored increments the committed-version counter
func (c *Collector) RecordVersionStored(table string) {
	c.VersionsStoredTotal.WithLabelValues(table).Inc()
}

// RecordDuplicateAppend increments the idempotent-append counter
func (c *Collector) RecordDuplicateAppend(table string) {
	c.DuplicateAppendsTotal.WithLabelValues(table).Inc()
}

// RecordCityOutcome increments the per-city outcome counter
func (c *Collector) RecordCityOutcome(status string) {
	c.CitiesProcessedTotal.WithLabelValues(status).Inc()
}
