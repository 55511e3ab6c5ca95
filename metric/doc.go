// Package metric provides Prometheus-based metrics infrastructure for the
// LabLink streaming platform.
//
// The MetricsRegistry wraps a private prometheus.Registry, pre-registers the
// core platform metrics (connections, delivery counters, compression ratios,
// recording sessions) plus the Go runtime collectors, and offers typed
// Register* methods that guard against duplicate registration. Components
// follow the nil-registry = nil-metrics pattern: when no registry is supplied
// they skip metrics entirely rather than registering against a global.
//
// The Server type exposes the registry over HTTP for Prometheus scraping.
package metric
