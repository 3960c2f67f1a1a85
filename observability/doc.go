// Package observability provides an OpenTelemetry metrics extension for
// paysched. MetricsExtension implements the payment lifecycle hooks and
// records system-wide counters for settled, skipped, retried and failed
// payments and for completed daily runs.
//
// For per-contract tracing and timing, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
