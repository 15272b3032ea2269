// Package observability exports Courier's system-wide metrics.
//
// MetricsExtension implements lifecycle hooks and records OpenTelemetry
// counters for enqueues, deliveries, retries, failures, dead letters and
// cron re-arms. Collector is a Prometheus collector that reads job, DLQ
// and worker totals from the store at scrape time.
//
// For per-delivery tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
