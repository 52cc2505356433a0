// Package otel mirrors goGuard metrics into an OpenTelemetry Meter.
//
// Counters become observable counters under the same names the Prometheus
// exporter uses. The latency histogram is flattened into one gauge per
// cumulative bucket because the snapshot holds bucket counts, not raw
// observations. The caller owns the MeterProvider and its readers.
package otel
