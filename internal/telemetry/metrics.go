// Package telemetry provides application-level observability for the proposal
// service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<PHB_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns data in the Prometheus text
// exposition format and is intended to be scraped every 15–60 seconds. It is
// NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Proposal lifecycle transition counters and auto-promotion counter
//   - Outbox dispatcher drain counters and unprocessed-event gauge
//   - Notification creation and email delivery counters
//   - Draft legacy-label migration counter
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as
// /api/v1/proposals/drafts/:id) rather than the raw request URL to prevent
// unbounded label cardinality from user-supplied path segments.
package telemetry

import (
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
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

// Lifecycle metrics — recorded by the transition engine.
//
// TransitionsTotal is a CounterVec with labels {from, to}. The label values
// come from the closed status enums, so cardinality is bounded at 5×5.
//
// Example PromQL queries:
//   - Approval rate:        rate(proposal_transitions_total{to="approved"}[1h])
//   - Denials vs approvals: sum by (to) (rate(proposal_transitions_total{from="pending"}[24h]))
var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proposal_transitions_total",
			Help: "Total number of accepted proposal status transitions, by previous and new status.",
		},
		[]string{"from", "to"},
	)

	AutoPromotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proposal_auto_promotions_total",
			Help: "Total number of automatic draft-to-pending promotions triggered by section completeness.",
		},
	)

	InvalidTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proposal_invalid_transitions_total",
			Help: "Total number of rejected transition attempts, by requested event.",
		},
		[]string{"event"},
	)
)

// Outbox metrics — recorded by the outbox dispatcher.
//
// OutboxUnprocessed is sampled on every drain pass; a steadily rising value
// means the dispatcher is falling behind or events are failing permanently.
//
// Example alert expression: outbox_unprocessed_events > 500
var (
	OutboxProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_processed_total",
			Help: "Total number of outbox events drained, by result (ok, retry, parked).",
		},
		[]string{"result"},
	)

	OutboxUnprocessed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_unprocessed_events",
			Help: "Number of outbox events not yet processed, sampled each drain pass.",
		},
	)
)

// Notification metrics.
//
// NotificationEmailsSentTotal stalling while notifications_created_total rises
// is the alert signal for SMTP delivery failures.
var (
	NotificationsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Total number of in-app notification rows created, by priority.",
		},
		[]string{"priority"},
	)

	NotificationEmailsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_emails_sent_total",
			Help: "Total number of notification emails successfully sent.",
		},
	)

	NotificationEmailFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_email_failures_total",
			Help: "Total number of notification email deliveries that failed.",
		},
	)
)

// DraftLegacyMigrationsTotal counts drafts synthesized from legacy labels.
// Each dereference of an unmigrated label increments this once, so a high
// rate indicates clients still addressing drafts by the old scheme.
var DraftLegacyMigrationsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "draft_legacy_migrations_total",
		Help: "Total number of drafts synthesized from legacy human-readable labels.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections
// currently held by the connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples the
// connection pool every 30 seconds. The goroutine exits when stop is closed.
func StartDBStatsCollector(db *sqlx.DB, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			case <-stop:
				slog.Debug("db stats collector stopped")
				return
			}
		}
	}()
}
