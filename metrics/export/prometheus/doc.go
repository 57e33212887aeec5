// Package prometheus exposes esimflow engine metrics through
// client_golang.
//
// [Exporter] is a prometheus.Collector. It reads
// [esimflow.Engine.MetricsSnapshot] on every scrape and emits const
// metrics, so it holds no state of its own. Counter names are
// esimflow_*_total; the single histogram is
// esimflow_upstream_latency_seconds.
//
// The collector is never registered globally. Either register it with a
// caller-owned registry or mount [Exporter.Handler], which serves from a
// private one.
package prometheus
