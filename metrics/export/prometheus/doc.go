// Package prometheus exposes goGuard metrics as a Prometheus scrape target.
//
// Output is hand-written text exposition, so the package pulls in no
// client library and touches no global registry. Mount
// [PrometheusExporter.Handler] wherever the service serves /metrics.
//
// Family names follow goguard_<area>_<event>_total for counters; the rate
// limiter round trip is goguard_rate_limit_latency_seconds.
package prometheus
