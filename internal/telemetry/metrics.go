// Package telemetry provides observability for the audit trail service.
//
// All metrics register against the default Prometheus registry and are served
// on a side-channel HTTP port (default 9090) started by cmd/server, separate
// from the main API listener so the scrape path stays off the public ingress
// and outside the rate-limiting middleware.
//
// HTTP metrics use c.FullPath() (the Gin route template, e.g.
// /api/v1/audit/events) rather than the raw URL to keep label cardinality
// bounded.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, recorded by middleware.MetricsMiddleware for every request.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Chain metrics.
//
// ChainIntact is 1 while the most recent verification run found no break and 0
// after a break is detected. Alert on `audit_chain_intact == 0` — a broken
// chain is an operator incident, not a transient condition.
var (
	AuditAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_appends_total",
			Help: "Audit chain append attempts, by outcome (ok / error).",
		},
		[]string{"status"},
	)

	AuditAppendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_append_duration_seconds",
			Help:    "Latency of audit chain appends including the chain-tail lock wait.",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	ChainVerifyRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_chain_verify_runs_total",
			Help: "Chain verification runs, by result (ok / broken).",
		},
		[]string{"result"},
	)

	ChainIntact = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_chain_intact",
			Help: "1 if the most recent verification found the chain intact, 0 if broken.",
		},
	)

	AuditExportRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_export_rows_total",
			Help: "Total rows written by CSV exports.",
		},
	)

	AuditShipFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_ship_failures_total",
			Help: "Failed deliveries to secondary audit destinations (file / webhook).",
		},
	)
)

// Database connection pool gauges, polled periodically.
var (
	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Open connections in the database pool.",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Connections currently executing queries.",
		},
	)
)

// StartDBPoolMetrics polls db.Stats every interval and exports the pool
// gauges. It returns a stop function.
func StartDBPoolMetrics(db *sql.DB, interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				DBConnectionsOpen.Set(float64(stats.OpenConnections))
				DBConnectionsInUse.Set(float64(stats.InUse))
			case <-stop:
				return
			}
		}
	}()
	slog.Debug("database pool metrics started", "interval", interval)
	return func() { close(stop) }
}
