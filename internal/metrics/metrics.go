package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rebuildsTotal       prometheus.Counter
	rebuildFailures     prometheus.Counter
	rebuildDuration     prometheus.Histogram
	packetsProcessed    prometheus.Gauge
	packetsSkipped      prometheus.Gauge
	edges               prometheus.Gauge
	validatedEdges      prometheus.Gauge
	hubs                prometheus.Gauge
}

// New creates a fresh Metrics registry with HTTP and rebuild metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshmap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by core-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meshmap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by core-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	rebuildsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meshmap",
		Name:      "rebuilds_total",
		Help:      "Total number of topology rebuilds completed",
	})

	rebuildFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meshmap",
		Name:      "rebuild_failures_total",
		Help:      "Total number of topology rebuilds that failed to load input",
	})

	rebuildDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "meshmap",
		Name:      "rebuild_duration_seconds",
		Help:      "Duration of topology rebuilds from load to snapshot swap",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})

	packetsProcessed := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "meshmap",
		Name:      "packets_processed",
		Help:      "Packets consumed by the most recent rebuild",
	})

	packetsSkipped := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "meshmap",
		Name:      "packets_skipped",
		Help:      "Packets the most recent rebuild could not use",
	})

	edges := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "meshmap",
		Name:      "topology_edges",
		Help:      "Edges in the current topology snapshot",
	})

	validatedEdges := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "meshmap",
		Name:      "topology_validated_edges",
		Help:      "Validated edges in the current topology snapshot",
	})

	hubs := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "meshmap",
		Name:      "topology_hubs",
		Help:      "Hub nodes in the current topology snapshot",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		rebuildsTotal,
		rebuildFailures,
		rebuildDuration,
		packetsProcessed,
		packetsSkipped,
		edges,
		validatedEdges,
		hubs,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		rebuildsTotal:       rebuildsTotal,
		rebuildFailures:     rebuildFailures,
		rebuildDuration:     rebuildDuration,
		packetsProcessed:    packetsProcessed,
		packetsSkipped:      packetsSkipped,
		edges:               edges,
		validatedEdges:      validatedEdges,
		hubs:                hubs,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncRebuild increments the completed rebuild counter.
func (m *Metrics) IncRebuild() {
	if m == nil {
		return
	}
	m.rebuildsTotal.Inc()
}

// IncRebuildFailure increments the failed rebuild counter.
func (m *Metrics) IncRebuildFailure() {
	if m == nil {
		return
	}
	m.rebuildFailures.Inc()
}

// ObserveRebuildDuration observes one rebuild duration.
func (m *Metrics) ObserveRebuildDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.rebuildDuration.Observe(duration.Seconds())
}

// SetSnapshotStats publishes the gauges describing the current snapshot.
func (m *Metrics) SetSnapshotStats(packets, skipped, edges, validated, hubs int) {
	if m == nil {
		return
	}
	m.packetsProcessed.Set(float64(packets))
	m.packetsSkipped.Set(float64(skipped))
	m.edges.Set(float64(edges))
	m.validatedEdges.Set(float64(validated))
	m.hubs.Set(float64(hubs))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
