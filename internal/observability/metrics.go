// Package observability exposes the Prometheus metrics of the replay engine.
package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	cacheLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewind_cache_loads_total",
			Help: "Job loads by cache outcome (hit, miss, offline, remote)",
		},
		[]string{"result"},
	)

	bulkPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewind_bulk_pages_fetched_total",
			Help: "Bulk pages fetched from the audit API",
		},
		[]string{"stream"},
	)

	bulkEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewind_bulk_entries_fetched_total",
			Help: "Entries fetched from the audit API by bulk pagination",
		},
		[]string{"stream"},
	)

	fetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewind_fetch_failures_total",
			Help: "Failed remote fetches by operation",
		},
		[]string{"operation"},
	)

	// Window metrics
	windowRecentresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewind_window_recentres_total",
			Help: "Window recentres by result",
		},
		[]string{"result"},
	)

	windowRecentreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rewind_window_recentre_duration_seconds",
			Help:    "Time to read and swap a resident window",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Replay metrics
	graphRenderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rewind_graph_render_duration_seconds",
			Help:    "Graph render time per seek by strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	seeksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewind_seeks_total",
			Help: "Cursor seeks by origin",
		},
		[]string{"origin"},
	)

	supersededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rewind_superseded_resolutions_total",
			Help: "Consumer resolutions discarded because a newer seek was issued",
		},
	)

	// Transport metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewind_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rewind_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	websocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rewind_websocket_clients",
			Help: "Connected WebSocket clients",
		},
	)

	registry = prometheus.NewRegistry()
	initOnce sync.Once
)

// InitMetrics registers every collector with the rewind registry
func InitMetrics() {
	initOnce.Do(func() {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			cacheLoadsTotal,
			bulkPagesTotal,
			bulkEntriesTotal,
			fetchFailuresTotal,
			windowRecentresTotal,
			windowRecentreDuration,
			graphRenderDuration,
			seeksTotal,
			supersededTotal,
			httpRequestsTotal,
			httpRequestDuration,
			websocketClients,
		)
	})
}

// Registry returns the registry backing MetricsHandler
func Registry() *prometheus.Registry {
	return registry
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	InitMetrics()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordCacheLoad records how a job load was served
func RecordCacheLoad(result string) {
	cacheLoadsTotal.WithLabelValues(result).Inc()
}

// RecordBulkPage records one fetched bulk page
func RecordBulkPage(stream string, entries int) {
	bulkPagesTotal.WithLabelValues(stream).Inc()
	bulkEntriesTotal.WithLabelValues(stream).Add(float64(entries))
}

// RecordFetchFailure records a failed remote operation
func RecordFetchFailure(operation string) {
	fetchFailuresTotal.WithLabelValues(operation).Inc()
}

// RecordRecentre records a window recentre
func RecordRecentre(err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	windowRecentresTotal.WithLabelValues(result).Inc()
	windowRecentreDuration.Observe(duration.Seconds())
}

// RecordGraphRender records the render time of one seek
func RecordGraphRender(strategy string, duration time.Duration) {
	graphRenderDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordSeek records a cursor seek
func RecordSeek(origin string) {
	seeksTotal.WithLabelValues(origin).Inc()
}

// RecordSuperseded records a discarded consumer resolution
func RecordSuperseded() {
	supersededTotal.Inc()
}

// RecordHTTPRequest records one served request. route should be the matched
// mux pattern, never the raw path.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// SetWebSocketClients sets the connected clients gauge
func SetWebSocketClients(count int) {
	websocketClients.Set(float64(count))
}
