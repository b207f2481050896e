// Package metrics exposes Prometheus collectors for the downloader.
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
	tasksTotal                 *prometheus.CounterVec
	failuresTotal              *prometheus.CounterVec
	dedupDecisionsTotal        *prometheus.CounterVec
	bytesWrittenTotal          prometheus.Counter
	fetchBytesTotal            *prometheus.CounterVec
	retryWaitSeconds           *prometheus.HistogramVec
	hashStoreFlushesTotal      *prometheus.CounterVec
	hashStoreEntries           prometheus.Gauge
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "downloader_tasks_total",
				Help: "Submissions processed, labeled by terminal state.",
			},
			[]string{"state"},
		)

		failuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "downloader_failures_total",
				Help: "Task failures, labeled by classification.",
			},
			[]string{"kind"},
		)

		dedupDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "downloader_dedup_decisions_total",
				Help: "Dedup coordinator decisions, labeled by outcome.",
			},
			[]string{"decision"},
		)

		bytesWrittenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "downloader_bytes_written_total",
				Help: "Bytes written to the target directory.",
			},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "downloader_fetch_bytes_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		retryWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "downloader_retry_wait_seconds",
				Help:    "Backoff waits taken before retrying, labeled by error kind.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		)

		hashStoreFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "downloader_hash_store_flushes_total",
				Help: "Hash store flushes, labeled by backend and result.",
			},
			[]string{"backend", "result"},
		)

		hashStoreEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "downloader_hash_store_entries",
				Help: "Digests currently held by the hash store.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "downloader_active_workers",
				Help: "Number of workers currently processing a submission.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "downloader_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
	Init()
	return promhttp.Handler()
}

// ObserveTask counts a submission reaching a terminal state.
func ObserveTask(state string) {
	Init()
	tasksTotal.WithLabelValues(state).Inc()
}

// ObserveFailure counts a classified failure.
func ObserveFailure(kind string) {
	Init()
	failuresTotal.WithLabelValues(kind).Inc()
}

// ObserveDedup counts a dedup decision and the bytes it wrote.
func ObserveDedup(decision string, written int64) {
	Init()
	dedupDecisionsTotal.WithLabelValues(decision).Inc()
	if written > 0 {
		bytesWrittenTotal.Add(float64(written))
	}
}

// ObserveFetch records bytes retrieved from a site.
func ObserveFetch(site string, bytesFetched int) {
	Init()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveRetryWait records a backoff wait.
func ObserveRetryWait(kind string, wait time.Duration) {
	Init()
	retryWaitSeconds.WithLabelValues(kind).Observe(wait.Seconds())
}

// ObserveFlush counts a hash store flush.
func ObserveFlush(backend string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	hashStoreFlushesTotal.WithLabelValues(backend, result).Inc()
}

// SetHashStoreEntries reports the current digest count.
func SetHashStoreEntries(n int) {
	Init()
	hashStoreEntries.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
