package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_deliveries_total",
			Help: "Total delivery attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	dispatchSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_dispatch_skips_total",
			Help: "Dispatch targets skipped by reason",
		},
		[]string{"reason"},
	)

	reminderSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_reminder_sweeps_total",
			Help: "Completed scheduler reminder passes",
		},
	)

	reminderSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beacon_reminder_sweep_duration_seconds",
			Help:    "Duration of one scheduler reminder pass",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 60},
		},
	)

	alertsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_alerts_expired_total",
			Help: "Alerts lazily expired by the scheduler",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"caller"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_idempotency_hits_total",
			Help: "Alert creations served from idempotency cache",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDelivery records one delivery attempt outcome ("delivered" or "failed")
func RecordDelivery(channel, outcome string) {
	deliveriesTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordDispatchSkip records a skipped dispatch target
func RecordDispatchSkip(reason string) {
	dispatchSkipsTotal.WithLabelValues(reason).Inc()
}

// RecordReminderSweep records one completed scheduler pass
func RecordReminderSweep(duration time.Duration) {
	reminderSweepsTotal.Inc()
	reminderSweepDuration.Observe(duration.Seconds())
}

// RecordAlertExpired records a lazily expired alert
func RecordAlertExpired() {
	alertsExpiredTotal.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(caller string) {
	rateLimitRejections.WithLabelValues(caller).Inc()
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
