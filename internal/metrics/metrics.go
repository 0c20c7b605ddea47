// Package metrics exposes Prometheus collectors for the event pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsStagedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_events_staged_total",
			Help: "Total number of raw events written to staging, labeled by source and result.",
		},
		[]string{"source", "result"},
	)

	batchRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_batch_records_total",
			Help: "Total number of staged or ingested records processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	batchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventpipe_batch_duration_seconds",
			Help:    "Histogram of batch processing durations, labeled by mode.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	linkChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_link_checks_total",
			Help: "Total number of link health checks, labeled by site and status class.",
		},
		[]string{"site", "status_class"},
	)

	linkCheckDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventpipe_link_check_duration_seconds",
			Help:    "Histogram of link health check latencies.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
	)

	linkHealthScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventpipe_link_health_score",
			Help:    "Distribution of link health scores.",
			Buckets: []float64{0, 10, 25, 40, 50, 55, 70, 85, 100},
		},
	)

	linksTombstonedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_links_tombstoned_total",
			Help: "Total number of event links marked dead by the tombstone policy.",
		},
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

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventpipe_rate_limit_delays_seconds",
			Help:    "Histogram of per-domain rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)
)

// Batch record outcomes.
const (
	OutcomeInserted = "inserted"
	OutcomeUpdated  = "updated"
	OutcomeSkipped  = "skipped"
	OutcomeError    = "error"
)

// SanitizeSite extracts a lowercase hostname from a URL for use as a label.
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

// ObserveStaged counts a staging write.
func ObserveStaged(source string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	if source == "" {
		source = "unknown"
	}
	eventsStagedTotal.WithLabelValues(source, result).Inc()
}

// ObserveRecord counts one processed record by outcome.
func ObserveRecord(outcome string) {
	batchRecordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBatch records how long a batch took.
func ObserveBatch(mode string, duration time.Duration) {
	batchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveLinkCheck records a finished link health check.
func ObserveLinkCheck(site, statusClass string, score int, duration time.Duration) {
	linkChecksTotal.WithLabelValues(SanitizeSite(site), statusClass).Inc()
	linkCheckDurationSeconds.Observe(duration.Seconds())
	linkHealthScore.Observe(float64(score))
}

// ObserveTombstone counts a link marked dead.
func ObserveTombstone() {
	linksTombstonedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
