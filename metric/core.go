package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level streaming metrics (not component-specific)
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// Delivery metrics
	MessagesSent    *prometheus.CounterVec
	MessagesDropped *prometheus.CounterVec
	BytesSent       prometheus.Counter
	QueueDepth      *prometheus.GaugeVec
	RateLimitHits   prometheus.Counter

	// Transport efficiency
	CompressionRatio prometheus.Histogram

	// Recording metrics
	RecordingSessions prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "lablink",
				Subsystem: "stream",
				Name:      "connections_active",
				Help:      "Number of currently connected streaming clients",
			},
		),

		ConnectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "lablink",
				Subsystem: "stream",
				Name:      "connections_total",
				Help:      "Total client connections (including disconnected)",
			},
		),

		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lablink",
				Subsystem: "stream",
				Name:      "messages_sent_total",
				Help:      "Total messages delivered to clients",
			},
			[]string{"priority"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lablink",
				Subsystem: "stream",
				Name:      "messages_dropped_total",
				Help:      "Total messages dropped by backpressure handling",
			},
			[]string{"reason"},
		),

		BytesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "lablink",
				Subsystem: "stream",
				Name:      "bytes_sent_total",
				Help:      "Total bytes sent to clients",
			},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "lablink",
				Subsystem: "stream",
				Name:      "queue_depth",
				Help:      "Current per-connection queue occupancy",
			},
			[]string{"connection"},
		),

		RateLimitHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "lablink",
				Subsystem: "stream",
				Name:      "rate_limit_hits_total",
				Help:      "Total sends deferred by the token bucket",
			},
		),

		CompressionRatio: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "lablink",
				Subsystem: "stream",
				Name:      "compression_ratio",
				Help:      "Per-message compression ratio (original/compressed)",
				Buckets:   []float64{1, 1.5, 2, 3, 5, 10, 25, 50},
			},
		),

		RecordingSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "lablink",
				Subsystem: "recorder",
				Name:      "sessions_active",
				Help:      "Number of active recording sessions",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lablink",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),
	}
}

// RecordConnect updates connection metrics for a new client
func (c *Metrics) RecordConnect(active int) {
	c.ConnectionsTotal.Inc()
	c.ConnectionsActive.Set(float64(active))
}

// RecordDisconnect updates connection metrics for a departed client
func (c *Metrics) RecordDisconnect(active int) {
	c.ConnectionsActive.Set(float64(active))
}

// RecordSend increments delivery counters for one transmitted message
func (c *Metrics) RecordSend(priority string, bytes int) {
	c.MessagesSent.WithLabelValues(priority).Inc()
	c.BytesSent.Add(float64(bytes))
}

// RecordDrop increments the drop counter with a reason label
func (c *Metrics) RecordDrop(reason string) {
	c.MessagesDropped.WithLabelValues(reason).Inc()
}

// RecordRateLimitHit increments the rate limit counter
func (c *Metrics) RecordRateLimitHit() {
	c.RateLimitHits.Inc()
}

// RecordCompressionRatio observes a per-message compression ratio
func (c *Metrics) RecordCompressionRatio(ratio float64) {
	c.CompressionRatio.Observe(ratio)
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
