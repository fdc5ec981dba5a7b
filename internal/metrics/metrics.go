// Package metrics exposes faqbot's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faqbot",
			Subsystem: "match",
			Name:      "requests_total",
			Help:      "Total match requests by outcome (answer, fallback, invalid).",
		},
		[]string{"outcome"},
	)

	MatchScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "faqbot",
			Subsystem: "match",
			Name:      "best_score",
			Help:      "Best similarity score seen per match request.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.8, 1},
		},
	)

	MatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "faqbot",
			Subsystem: "match",
			Name:      "duration_seconds",
			Help:      "Time spent matching one query against the active index.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	MatchCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "faqbot",
			Subsystem: "match",
			Name:      "cache_hits_total",
			Help:      "Match decisions served from the hot-query cache.",
		},
	)

	IndexPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faqbot",
			Subsystem: "index",
			Name:      "builds_total",
			Help:      "FAQ index builds by status (published, rejected).",
		},
		[]string{"status"},
	)

	IndexEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "faqbot",
			Subsystem: "index",
			Name:      "entries",
			Help:      "Entries in the active FAQ index.",
		},
	)

	StoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faqbot",
			Subsystem: "conversation",
			Name:      "store_operations_total",
			Help:      "Conversation store operations by driver, operation and status.",
		},
		[]string{"driver", "op", "status"},
	)

	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "faqbot",
			Subsystem: "conversation",
			Name:      "store_duration_seconds",
			Help:      "Conversation store operation latency.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"driver", "op"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faqbot",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveStore records one store operation. status is "ok", "not_found",
// "unavailable" or "error".
func ObserveStore(driver, op, status string, started time.Time) {
	StoreOps.WithLabelValues(driver, op, status).Inc()
	StoreDuration.WithLabelValues(driver, op).Observe(time.Since(started).Seconds())
}

// Handler renders all registered metrics in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
