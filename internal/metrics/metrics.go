// Package metrics exposes Prometheus collectors for the scraper service.
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

// Outcome labels shared by the pipeline stages.
const (
	OutcomeOK        = "ok"
	OutcomeEmpty     = "empty"
	OutcomeError     = "error"
	OutcomeScraped   = "scraped"
	OutcomeUnchanged = "unchanged"
	OutcomeSent      = "sent"
	OutcomeFailed    = "failed"
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeDropped   = "dropped"
)

var (
	scraperPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Total number of catalogue pages fetched, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	scraperItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_items_total",
			Help: "Total number of listings observed, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	scraperBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_batches_total",
			Help: "Total number of queue batches, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	scraperEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_entries_total",
			Help: "Total number of queue entries, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	scraperRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Total number of pipeline runs, labeled by status.",
		},
		[]string{"status"},
	)

	scraperRunDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Histogram of pipeline run durations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_ratelimit_delay_seconds",
			Help:    "Time spent waiting on the per-host rate limiter.",
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
)

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

// ObservePage increments the page counter for a site.
func ObservePage(site, outcome string) {
	scraperPagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveItems adds n listings with the given outcome for a site.
func ObserveItems(site, outcome string, n int) {
	if n <= 0 {
		return
	}
	scraperItemsTotal.WithLabelValues(SanitizeSite(site), outcome).Add(float64(n))
}

// ObserveBatch increments the batch counter for the given outcome.
func ObserveBatch(outcome string) {
	scraperBatchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveEntries adds n queue entries with the given outcome.
func ObserveEntries(outcome string, n int) {
	if n <= 0 {
		return
	}
	scraperEntriesTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveRun records a finished pipeline run.
func ObserveRun(status string, duration time.Duration) {
	scraperRunsTotal.WithLabelValues(status).Inc()
	scraperRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records how long a request waited for a token.
func ObserveRateLimitDelay(site string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
