// Package telemetry holds the Prometheus collectors of the service.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "evalmap"

// Metrics is the set of collectors, registered on its own registry so tests
// can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// HTTPRequestsTotal counts requests by route pattern, method and status.
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestDuration tracks request latency by route pattern.
	HTTPRequestDuration *prometheus.HistogramVec

	// MetadataFetchesTotal counts tile server metadata fetches by outcome.
	MetadataFetchesTotal *prometheus.CounterVec
	// MetadataFetchDuration tracks upstream metadata latency.
	MetadataFetchDuration prometheus.Histogram
	// CacheLookupsTotal counts metadata cache lookups by result.
	CacheLookupsTotal *prometheus.CounterVec

	// PanelRefreshesTotal counts panel refreshes by mode and outcome.
	PanelRefreshesTotal *prometheus.CounterVec
	// PanelRefreshDuration tracks refresh latency by mode.
	PanelRefreshDuration *prometheus.HistogramVec
	// DebounceCommitsTotal counts settled variable changes.
	DebounceCommitsTotal prometheus.Counter
	// ActivePanels is the number of registered panels.
	ActivePanels prometheus.Gauge

	// AppInfo is always 1, labeled with build information.
	AppInfo *prometheus.GaugeVec
	// AppStartTime records when the process started.
	AppStartTime prometheus.Gauge
}

// New creates the collectors plus the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests handled",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		MetadataFetchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_fetches_total",
				Help:      "Total number of dataset metadata fetches by outcome",
			},
			[]string{"outcome"},
		),
		MetadataFetchDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "metadata_fetch_duration_seconds",
				Help:      "Duration of tile server metadata requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		CacheLookupsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_cache_lookups_total",
				Help:      "Total number of metadata cache lookups by result",
			},
			[]string{"result"},
		),
		PanelRefreshesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panel_refreshes_total",
				Help:      "Total number of panel refreshes by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		PanelRefreshDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "panel_refresh_duration_seconds",
				Help:      "Duration of panel refreshes in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		DebounceCommitsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "debounce_commits_total",
				Help:      "Total number of settled variable changes",
			},
		),
		ActivePanels: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_panels",
				Help:      "Number of registered panels",
			},
		),
		AppInfo: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "app_info",
				Help:      "Application information (always 1)",
			},
			[]string{"version", "commit"},
		),
		AppStartTime: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "app_start_time_seconds",
				Help:      "Unix timestamp of when the application started",
			},
		),
	}
	m.AppStartTime.SetToCurrentTime()
	return m
}

// SetBuildInfo publishes the build version and commit.
func (m *Metrics) SetBuildInfo(version, commit string) {
	m.AppInfo.WithLabelValues(version, commit).Set(1)
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// RecordRequest records one handled HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// ObserveMetadataFetch records a metadata fetch outcome. Cached results
// carry no upstream latency.
func (m *Metrics) ObserveMetadataFetch(outcome string, elapsed time.Duration) {
	m.MetadataFetchesTotal.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.MetadataFetchDuration.Observe(elapsed.Seconds())
	}
}

// ObserveCacheLookup records a metadata cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRefresh records one finished panel refresh.
func (m *Metrics) ObserveRefresh(mode, outcome string, elapsed time.Duration) {
	m.PanelRefreshesTotal.WithLabelValues(mode, outcome).Inc()
	m.PanelRefreshDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveDebounceCommit records a settled variable change.
func (m *Metrics) ObserveDebounceCommit() {
	m.DebounceCommitsTotal.Inc()
}

// SetActivePanels publishes the number of registered panels.
func (m *Metrics) SetActivePanels(n int) {
	m.ActivePanels.Set(float64(n))
}
