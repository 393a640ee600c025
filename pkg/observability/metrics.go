package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the service.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	DecisionsTotal  *prometheus.CounterVec
	RiskScore       prometheus.Histogram
	AuditDropped    prometheus.Counter
}

// NewMetrics registers the service instruments. reg may be nil, in which case
// the default registerer is used; tests pass their own registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"code", "method", "path"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of latencies for HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"code", "method", "path"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_decisions_total",
				Help: "Authorization verdicts by reason code.",
			},
			[]string{"reason", "allowed"},
		),
		RiskScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "authz_risk_score",
				Help:    "Distribution of computed risk scores.",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),
		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_events_dropped_total",
				Help: "Audit events dropped because the recorder queue was full.",
			},
		),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.DecisionsTotal, m.RiskScore, m.AuditDropped)
	return m
}

// ObserveDecision records one authorization verdict. Scores below zero mean
// the scorer never ran and are not observed.
func (m *Metrics) ObserveDecision(reason string, allowed bool, riskScore float64) {
	m.DecisionsTotal.WithLabelValues(reason, strconv.FormatBool(allowed)).Inc()
	if riskScore >= 0 {
		m.RiskScore.Observe(riskScore)
	}
}

// PrometheusMiddleware records request metrics. It uses the matched route
// template so path cardinality stays bounded.
func PrometheusMiddleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		code := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		metrics.RequestsTotal.WithLabelValues(code, method, path).Inc()
		metrics.RequestDuration.WithLabelValues(code, method, path).Observe(time.Since(start).Seconds())
	}
}

// PrometheusHandler exposes the default registry for scraping.
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}
