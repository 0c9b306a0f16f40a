// Package metrics exposes Prometheus collectors for the turmoil watcher.
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
	cyclesTotal                *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	cyclesSkippedTotal         prometheus.Counter
	fetchBytesTotal            *prometheus.CounterVec
	headlessPromotionsTotal    *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	headlinesExtracted         prometheus.Gauge
	triggerFound               prometheus.Gauge
	topDoomScore               prometheus.Gauge
	lastSuccessTimestamp       prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turmoil_cycles_total",
				Help: "Total scrape cycles, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "turmoil_cycle_duration_seconds",
				Help:    "Histogram of scrape cycle durations.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		cyclesSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "turmoil_cycles_skipped_total",
				Help: "Scheduled cycles skipped because the previous one was still running.",
			},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turmoil_fetch_bytes_total",
				Help: "Total bytes fetched from the news source, labeled by site.",
			},
			[]string{"site"},
		)

		headlessPromotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turmoil_headless_promotions_total",
				Help: "Headless re-renders of the homepage, labeled by result.",
			},
			[]string{"result"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turmoil_notifications_total",
				Help: "Match announcements published, labeled by result.",
			},
			[]string{"result"},
		)

		headlinesExtracted = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "turmoil_headlines_extracted",
				Help: "Headline candidates extracted from the last fetched page.",
			},
		)

		triggerFound = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "turmoil_trigger_found",
				Help: "1 when the last successful cycle saw a trigger headline, else 0.",
			},
		)

		topDoomScore = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "turmoil_top_doom_score",
				Help: "Doom score of the highest ranked headline in the last successful cycle.",
			},
		)

		lastSuccessTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "turmoil_last_success_timestamp_seconds",
				Help: "Unix time of the last cycle that rendered the page.",
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
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
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

// ObserveCycle records a finished cycle.
func ObserveCycle(outcome string, duration time.Duration) {
	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveSkippedCycle counts a tick dropped while a cycle was running.
func ObserveSkippedCycle() {
	cyclesSkippedTotal.Inc()
}

// ObserveFetch adds fetched bytes for the source site.
func ObserveFetch(site string, bytesFetched int) {
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// SetHeadlinesExtracted records how many candidates the last page yielded.
func SetHeadlinesExtracted(n int) {
	headlinesExtracted.Set(float64(n))
}

// ObserveHeadlessPromotion counts a headless re-render attempt.
func ObserveHeadlessPromotion(result string) {
	headlessPromotionsTotal.WithLabelValues(result).Inc()
}

// ObserveNotification counts a match announcement attempt.
func ObserveNotification(result string) {
	notificationsTotal.WithLabelValues(result).Inc()
}

// SetVerdict publishes the state rendered by the latest successful cycle.
func SetVerdict(found bool, topScore int, at time.Time) {
	if found {
		triggerFound.Set(1)
	} else {
		triggerFound.Set(0)
	}
	topDoomScore.Set(float64(topScore))
	lastSuccessTimestamp.Set(float64(at.Unix()))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
