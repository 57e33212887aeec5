// Package otel binds esimflow engine metrics to an OpenTelemetry Meter.
//
// Each engine counter becomes an Int64ObservableCounter. The upstream
// latency histogram is published as one cumulative gauge per bucket plus
// _count and _sum gauges. A single registered callback reads the engine
// snapshot per collection. Callers own the MeterProvider.
package otel
