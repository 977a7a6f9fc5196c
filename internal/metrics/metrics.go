// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskd",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskd",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ValidationsTotal counts trade validations by decision.
	ValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskd",
			Name:      "validations_total",
			Help:      "Total trade validations by decision (approve, warn, reject).",
		},
		[]string{"decision"},
	)

	// ViolationsTotal counts recorded violations by type.
	ViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskd",
			Name:      "violations_total",
			Help:      "Total violations recorded by type.",
		},
		[]string{"type"},
	)

	// SlashingsTotal counts executed slashing settlements.
	SlashingsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "riskd",
			Name:      "slashings_total",
			Help:      "Total executed slashing settlements.",
		},
	)

	// BansTotal counts permanent manager bans.
	BansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "riskd",
			Name:      "bans_total",
			Help:      "Total permanent manager bans.",
		},
	)

	// ApprovalConsumptionsTotal counts approval redemption attempts by result.
	ApprovalConsumptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskd",
			Name:      "approval_consumptions_total",
			Help:      "Approval consumption attempts by result (consumed, already_consumed, expired, not_found).",
		},
		[]string{"result"},
	)

	// FaultIndex observes the distribution of combined fault indices.
	FaultIndex = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "riskd",
			Name:      "fault_index",
			Help:      "Distribution of combined fault indices.",
			Buckets:   []float64{0, 5, 10, 20, 30, 45, 60, 75, 85, 95, 100},
		},
	)

	// ActiveWebSocketClients tracks connected audit-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "riskd",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected audit-feed WebSocket clients.",
		},
	)

	// WebSocketEventsTotal counts events broadcast to the audit feed.
	WebSocketEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "riskd",
			Name:      "websocket_events_total",
			Help:      "Total events broadcast to audit-feed subscribers.",
		},
	)

	// DBConnections tracks open database connections.
	DBConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "riskd",
			Name:      "db_connections_open",
			Help:      "Open database connections.",
		},
	)

	// Goroutines tracks runtime goroutine count.
	Goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "riskd",
			Name:      "goroutines",
			Help:      "Current number of goroutines.",
		},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. It is
// idempotent: constructing several servers in one process registers
// the collectors exactly once.
func Register() {
	registerOnce.Do(register)
}

func register() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ValidationsTotal,
		ViolationsTotal,
		SlashingsTotal,
		BansTotal,
		ApprovalConsumptionsTotal,
		FaultIndex,
		ActiveWebSocketClients,
		WebSocketEventsTotal,
		DBConnections,
		Goroutines,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware records request counts and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(status)).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func statusBucket(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// StartRuntimeCollector samples runtime and DB gauges until ctx is done.
func StartRuntimeCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				Goroutines.Set(float64(runtime.NumGoroutine()))
				if db != nil {
					DBConnections.Set(float64(db.Stats().OpenConnections))
				}
			}
		}
	}()
}
