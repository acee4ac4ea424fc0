// Package otel exposes engine metrics as OpenTelemetry observable
// instruments: one Int64ObservableCounter per counter and one gauge per
// cumulative latency bucket. The caller owns the MeterProvider; see
// internal/telemetry for the OTLP wiring used by the server.
package otel
