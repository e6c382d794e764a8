// Package telemetry provides application-level observability for AeroDocs.
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<ADS_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns the Prometheus text exposition
// format and is intended to be scraped every 15–60 seconds. It is NOT served
// by the Gin router, keeping the scrape path off the public ingress and away
// from the rate-limiting middleware.
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/documents/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as document IDs.
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
// Example PromQL:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
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

// Document lifecycle counters.
var (
	DocumentUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_uploads_total",
			Help: "Total number of document files uploaded, by document type.",
		},
		[]string{"doc_type"},
	)

	DocumentDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_downloads_total",
			Help: "Total number of document files downloaded, by document type.",
		},
		[]string{"doc_type"},
	)

	DocumentReviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_reviews_total",
			Help: "Total number of document review decisions, by outcome (approved/rejected).",
		},
		[]string{"outcome"},
	)
)

// Audit trail counters. AuditWriteFailuresTotal is the alerting signal for the
// capture engine: any nonzero rate means tracked mutations are being rolled
// back because their audit entry could not be persisted.
var (
	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_written_total",
			Help: "Total number of audit entries written, by action type.",
		},
		[]string{"action"},
	)

	AuditWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Total number of failed audit entry writes. Each failure aborts the mutation it describes.",
		},
	)

	AuditEntriesPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_purged_total",
			Help: "Total number of audit entries removed by retention purges.",
		},
	)
)

// DBConnectionsOpen tracks the database pool, polled every 30 s.
var DBConnectionsOpen = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "db_connections",
		Help: "Database connection pool statistics, by state (open/in_use/idle).",
	},
	[]string{"state"},
)

// StartDBStatsCollector begins exporting database pool statistics to
// Prometheus. It polls db.Stats() every 30 seconds until the process exits;
// the goroutine holds no resources worth reclaiming earlier.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			stats := db.Stats()
			DBConnectionsOpen.WithLabelValues("open").Set(float64(stats.OpenConnections))
			DBConnectionsOpen.WithLabelValues("in_use").Set(float64(stats.InUse))
			DBConnectionsOpen.WithLabelValues("idle").Set(float64(stats.Idle))
		}
	}()
	slog.Debug("database stats collector started")
}
