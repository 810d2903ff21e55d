// Package metrics exposes Prometheus collectors for the page generation service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	artifactsCreatedTotal      *prometheus.CounterVec
	artifactsDeletedTotal      *prometheus.CounterVec
	artifactsLive              prometheus.Gauge
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchBytesTotal            *prometheus.CounterVec
	serveTotal                 *prometheus.CounterVec
	eventsPublishedTotal       *prometheus.CounterVec
	robotsFallbackTotal        prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		artifactsCreatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelpage_artifacts_created_total",
				Help: "Total number of creation requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		artifactsDeletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelpage_artifacts_deleted_total",
				Help: "Total number of delete requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		artifactsLive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pixelpage_artifacts_live",
				Help: "Number of artifacts currently listed in the registry.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pixelpage_fetch_duration_seconds",
				Help:    "Histogram of source page fetch latencies, labeled by outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelpage_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		serveTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelpage_serve_total",
				Help: "Total number of view requests, labeled by result.",
			},
			[]string{"result"},
		)

		eventsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelpage_events_published_total",
				Help: "Total number of lifecycle events published, labeled by status.",
			},
			[]string{"status"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pixelpage_robots_fallback_total",
				Help: "Total robots.txt probes answered with allow-all because the origin was unreachable.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pixelpage_rate_limit_delay_seconds",
				Help:    "Time fetches spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCreate counts a finished creation request.
func ObserveCreate(outcome string) {
	Init()
	artifactsCreatedTotal.WithLabelValues(outcome).Inc()
}

// ObserveDelete counts a finished delete request.
func ObserveDelete(outcome string) {
	Init()
	artifactsDeletedTotal.WithLabelValues(outcome).Inc()
}

// SetLiveArtifacts records the registry size.
func SetLiveArtifacts(n int) {
	Init()
	artifactsLive.Set(float64(n))
}

// ObserveFetch records a source fetch.
func ObserveFetch(site string, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveServe counts a view request by result (hit, miss, not_found, error).
func ObserveServe(result string) {
	Init()
	serveTotal.WithLabelValues(result).Inc()
}

// ObserveEvent counts a publish attempt.
func ObserveEvent(status string) {
	Init()
	eventsPublishedTotal.WithLabelValues(status).Inc()
}

// ObserveRobotsFallback increments the robots.txt fail-open counter.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// ObserveRateLimitDelay records how long a fetch waited for its host's token.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
