// Package telemetry provides application-level observability for the trust engine.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<TRUST_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router and
// is therefore absent from the OpenAPI/Swagger spec.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit event append counters by category and severity
//   - Security alert creation/acknowledgment counters
//   - Anomaly detector scan durations and finding counters by pattern
//   - Moderation decision counters and retention sweep deletion counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/alerts/:id/acknowledge)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as alert or item IDs.  Domain metrics are
// labelled only by closed enums (severity, category, pattern, decision) for the
// same reason — never by actor ID.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening:
//
//	import _ "github.com/technically-fit/trust-engine/internal/telemetry"
//
// Or import it directly and use an exported var:
//
//	telemetry.AuditEventsTotal.WithLabelValues(category, severity).Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /api/v1/moderation/items/:id/review),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Audit trail metrics — recorded by the audit recorder on every successful append.
//
// AuditEventsTotal is a CounterVec with labels {category, severity}.  Both labels
// are closed enums, so cardinality is bounded at |categories| x |severities|.
//
// Example PromQL queries:
//   - Append rate by category:   sum by (category) (rate(audit_events_total[5m]))
//   - Critical event rate:       rate(audit_events_total{severity="critical"}[5m])
//   - Failed-auth share (%):     sum(rate(audit_events_total{category="authentication"}[1h])) / sum(rate(audit_events_total[1h])) * 100
//
// RetentionDeletedTotal is a plain Counter incremented by the retention sweeper
// with the number of audit events deleted per sweep.  A flat counter alongside a
// growing table is the signal that the sweeper has stalled.
//
// Example PromQL queries:
//   - Deletion rate:             rate(audit_retention_deleted_total[24h])
var (
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Total number of audit events appended, by category and severity.",
		},
		[]string{"category", "severity"},
	)

	RetentionDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_retention_deleted_total",
			Help: "Total number of audit events deleted by the retention sweeper.",
		},
	)
)

// Security alert metrics — recorded by the alert manager.
//
// AlertsCreatedTotal is a CounterVec with label {level}.  Duplicate creations
// suppressed by the idempotency guard are not counted.
//
// AlertsAcknowledgedTotal is a plain Counter incremented once per successful
// acknowledgment (the winner of the race; losers do not count).
//
// Example PromQL queries:
//   - Open-alert creation rate:  sum by (level) (rate(security_alerts_created_total[1h]))
//   - Ack throughput:            rate(security_alerts_acknowledged_total[1h])
var (
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_alerts_created_total",
			Help: "Total number of security alerts created, by alert level.",
		},
		[]string{"level"},
	)

	AlertsAcknowledgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_alerts_acknowledged_total",
			Help: "Total number of security alerts acknowledged by operators.",
		},
	)
)

// Anomaly detection metrics — recorded by the detector and the scheduled scan job.
//
// ScanDuration is a Histogram using the default Prometheus buckets (5 ms–10 s).
// Each observation is one complete scan (all rules over one window).
//
// FindingsTotal is a CounterVec with labels {pattern, severity}, where pattern is
// one of the fixed rule names (multiple_failed_logins, unusual_access_hours, ...).
//
// Example PromQL queries:
//   - p95 scan duration:       histogram_quantile(0.95, rate(anomaly_scan_duration_seconds_bucket[1h]))
//   - Findings by pattern:     sum by (pattern) (increase(anomaly_findings_total[24h]))
//   - Alert expression:        increase(anomaly_findings_total{severity="critical"}[1h]) > 0
var (
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anomaly_scan_duration_seconds",
			Help:    "Duration of a single anomaly detector scan.",
			Buckets: prometheus.DefBuckets,
		},
	)

	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomaly_findings_total",
			Help: "Total number of anomaly findings produced, by pattern and severity.",
		},
		[]string{"pattern", "severity"},
	)
)

// Moderation metrics — recorded by the moderation queue service.
//
// ModerationItemsCreatedTotal is a CounterVec with labels {item_type, priority}.
// ModerationDecisionsTotal is a CounterVec with label {decision}.
//
// Example PromQL queries:
//   - Queue inflow by priority:  sum by (priority) (rate(moderation_items_created_total[1h]))
//   - Reject share (%):          sum(rate(moderation_decisions_total{decision="reject"}[24h])) / sum(rate(moderation_decisions_total[24h])) * 100
var (
	ModerationItemsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_items_created_total",
			Help: "Total number of moderation items created, by item type and computed priority.",
		},
		[]string{"item_type", "priority"},
	)

	ModerationDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_decisions_total",
			Help: "Total number of moderation review decisions recorded, by decision.",
		},
		[]string{"decision"},
	)
)

// AlertNotificationsSentTotal is a plain Counter (no labels) incremented once per
// email successfully delivered by the alert_notifier background job.  A stalled
// counter combined with open critical alerts is a useful alert signal for SMTP
// delivery failures.
//
// Example PromQL queries:
//   - Rate of notifications sent:  rate(alert_notifications_sent_total[24h])
var AlertNotificationsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "alert_notifications_sent_total",
		Help: "Total number of critical-alert notification emails successfully sent.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <TRUST_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
