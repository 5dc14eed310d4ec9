// Package metrics exposes Prometheus collectors for HTTP traffic and the
// attempt lifecycle.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	AttemptsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_attempts_started_total",
			Help: "Attempt start calls by outcome (created, resumed)",
		},
		[]string{"outcome"},
	)

	AttemptsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_attempts_finalized_total",
			Help: "Finalized attempts by terminal status",
		},
		[]string{"status"},
	)

	AttemptsFlagged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_attempts_flagged_total",
			Help: "Attempts flagged by the anti-cheat evaluation at submission",
		},
	)

	ProctorEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_proctor_events_total",
			Help: "Accepted proctoring reports by type",
		},
		[]string{"type"},
	)

	RankRecomputeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exam_rank_recompute_duration_seconds",
			Help:    "Time spent recomputing ranks for one exam",
			Buckets: prometheus.DefBuckets,
		},
	)

	RankRecomputeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_rank_recompute_failures_total",
			Help: "Inline rank recomputations that failed and were queued for retry",
		},
	)
)

var initOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			AttemptsStarted,
			AttemptsFinalized,
			AttemptsFlagged,
			ProctorEvents,
			RankRecomputeDuration,
			RankRecomputeFailures,
		)
	})
}

// Middleware records request count and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus exposition format.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
