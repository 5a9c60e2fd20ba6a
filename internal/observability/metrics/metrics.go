package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DeploymentMetrics tracks orchestrator outcomes and readiness polling.
type DeploymentMetrics struct {
	httpDuration     *prometheus.HistogramVec
	operationsTotal  *prometheus.CounterVec
	pollAttempts     prometheus.Histogram
	webhookEvents    *prometheus.CounterVec
	suspendedApps    prometheus.Gauge
}

var (
	deploymentMetricsOnce sync.Once
	deploymentMetrics     *DeploymentMetrics
)

func Deployment() *DeploymentMetrics {
	deploymentMetricsOnce.Do(func() {
		deploymentMetrics = newDeploymentMetrics(prometheus.DefaultRegisterer)
	})
	return deploymentMetrics
}

func ResetDeploymentMetricsForTest() {
	deploymentMetricsOnce = sync.Once{}
	deploymentMetrics = nil
}

func newDeploymentMetrics(registerer prometheus.Registerer) *DeploymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shipyard_http_duration_ms",
			Help:    "HTTP server request duration in milliseconds.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000, 15000, 60000, 150000},
		},
		[]string{"endpoint", "status"},
	)

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipyard_deploy_operations_total",
			Help: "Orchestrator operations by kind and result.",
		},
		[]string{"operation", "result"}, // deploy|update|rollback|suspend|reactivate, success|failure
	)

	pollAttempts := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shipyard_hosting_poll_attempts",
			Help:    "Readiness poll attempts used before a terminal state.",
			Buckets: []float64{1, 2, 4, 8, 12, 18, 24},
		},
	)

	webhookEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipyard_billing_webhook_events_total",
			Help: "Billing webhook events by type and result.",
		},
		[]string{"event_type", "result"}, // processed|failed|duplicate|ignored
	)

	suspendedApps := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shipyard_suspended_apps",
			Help: "Apps currently in suspended status.",
		},
	)

	registerer.MustRegister(httpDuration, operationsTotal, pollAttempts, webhookEvents, suspendedApps)

	return &DeploymentMetrics{
		httpDuration:    httpDuration,
		operationsTotal: operationsTotal,
		pollAttempts:    pollAttempts,
		webhookEvents:   webhookEvents,
		suspendedApps:   suspendedApps,
	}
}

func (m *DeploymentMetrics) IncOperation(operation, result string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, result).Inc()
}

func (m *DeploymentMetrics) ObservePollAttempts(attempts int) {
	if m == nil {
		return
	}
	m.pollAttempts.Observe(float64(attempts))
}

func (m *DeploymentMetrics) IncWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

func (m *DeploymentMetrics) SetSuspendedApps(count int) {
	if m == nil {
		return
	}
	m.suspendedApps.Set(float64(count))
}

// GinMiddleware records per-endpoint request durations.
func GinMiddleware(m *DeploymentMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		start := time.Now()
		c.Next()
		m.httpDuration.
			WithLabelValues(endpoint, strconv.Itoa(c.Writer.Status())).
			Observe(float64(time.Since(start).Milliseconds()))
	}
}

// Handler exposes the prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
