package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nuvex"

// Metrics holds the application collectors. A nil *Metrics is valid and records nothing,
// which keeps services usable in tests without a registry.
type Metrics struct {
	registry prometheus.Gatherer

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	webhookEventsTotal   *prometheus.CounterVec
	lifecycleTransitions *prometheus.CounterVec
	storageReservations  *prometheus.CounterVec
	storageReleasedBytes prometheus.Counter
	externalCallDuration *prometheus.HistogramVec
	notificationsTotal   *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),
		webhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "webhook_events_total",
				Help:      "Stripe webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		lifecycleTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "status_transitions_total",
				Help:      "Account status transitions",
			},
			[]string{"from", "to"},
		),
		storageReservations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "reservations_total",
				Help:      "Storage quota reservations by outcome",
			},
			[]string{"outcome"},
		),
		storageReleasedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "released_bytes_total",
				Help:      "Bytes returned to account quotas",
			},
		),
		externalCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "external",
				Name:      "call_duration_seconds",
				Help:      "Duration of calls to external services",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "operation", "outcome"},
		),
		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "sent_total",
				Help:      "Notifications by category and outcome",
			},
			[]string{"category", "outcome"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request count, latency and in-flight requests. The route
// template is used as the path label so IDs do not explode cardinality.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// RecordWebhookEvent counts a webhook event. outcome is processed, duplicate, ignored, error, invalid_signature or malformed.
func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordTransition counts an account status change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.lifecycleTransitions.WithLabelValues(from, to).Inc()
}

// RecordReservation counts a quota reservation. outcome is accepted, rejected or error.
func (m *Metrics) RecordReservation(outcome string) {
	if m == nil {
		return
	}
	m.storageReservations.WithLabelValues(outcome).Inc()
}

// RecordRelease adds released bytes.
func (m *Metrics) RecordRelease(bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.storageReleasedBytes.Add(float64(bytes))
}

// ObserveExternalCall records the duration of one call to Stripe, Firestore or object storage.
func (m *Metrics) ObserveExternalCall(service, operation string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.externalCallDuration.WithLabelValues(service, operation, outcome).Observe(d.Seconds())
}

// RecordNotification counts a notification attempt.
func (m *Metrics) RecordNotification(category string, err error) {
	if m == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.notificationsTotal.WithLabelValues(category, outcome).Inc()
}
