// Package metrics captures payment pipeline health signals.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

const (
	WebhookOutcomeApplied   = "applied"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeRejected  = "rejected"
)

// Metrics exposes application-level instruments. Every inbound webhook
// lands in exactly one outcome bucket.
type Metrics struct {
	webhookOutcomes *prometheus.CounterVec
	sweepRuns       prometheus.Counter
	sweepExpired    prometheus.Counter
	sweepErrors     prometheus.Counter
	rateLimitDenied *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		webhookOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payrail_webhook_events_total",
			Help: "Webhook deliveries by gateway and outcome.",
		}, []string{"gateway", "outcome"}),
		sweepRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "payrail_sweep_runs_total",
			Help: "Expiration sweeper runs.",
		}),
		sweepExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "payrail_sweep_expired_invoices_total",
			Help: "Invoices transitioned to expired by the sweeper.",
		}),
		sweepErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "payrail_sweep_errors_total",
			Help: "Sweeper runs ending in error.",
		}),
		rateLimitDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payrail_rate_limit_denied_total",
			Help: "Requests denied by the rate limiter.",
		}, []string{"scope"}),
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payrail_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payrail_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func (m *Metrics) RecordWebhookOutcome(gateway, outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(gateway, outcome).Inc()
}

func (m *Metrics) RecordSweep(expired int, failed bool) {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweepExpired.Add(float64(expired))
	if failed {
		m.sweepErrors.Inc()
	}
}

func (m *Metrics) RecordRateLimitDenied(scope string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.WithLabelValues(scope).Inc()
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// Module provides the prometheus instruments.
var Module = fx.Module("observability.metrics",
	fx.Provide(New),
)
