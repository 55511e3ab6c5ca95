package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/X9X0/LabLink-sub003/errors"
)

func newTestCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lablink",
		Subsystem: "test",
		Name:      name,
		Help:      "test counter",
	})
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())

	// Core metrics are pre-registered and gatherable
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := newTestCounter("ops_total")
	err := registry.RegisterCounter("stream-manager", "ops", counter)
	require.NoError(t, err)

	counter.Inc()
	counter.Inc()

	// Duplicate registration under the same key is rejected
	err = registry.RegisterCounter("stream-manager", "ops", newTestCounter("other_total"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterGaugeAndVec(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lablink", Subsystem: "test", Name: "depth", Help: "test gauge",
	})
	require.NoError(t, registry.RegisterGauge("conn-1", "depth", gauge))

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lablink", Subsystem: "test", Name: "drops_total", Help: "test vec",
	}, []string{"reason"})
	require.NoError(t, registry.RegisterCounterVec("conn-1", "drops", vec))

	vec.WithLabelValues("queue_full").Inc()
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := newTestCounter("transient_total")
	require.NoError(t, registry.RegisterCounter("recorder", "transient", counter))

	assert.True(t, registry.Unregister("recorder", "transient"))
	assert.False(t, registry.Unregister("recorder", "transient"))
	assert.False(t, registry.Unregister("recorder", "never-registered"))

	// Slot is free again after unregister
	require.NoError(t, registry.RegisterCounter("recorder", "transient", newTestCounter("transient_total")))
}

func TestCoreMetricsRecorders(t *testing.T) {
	m := NewMetrics()

	m.RecordConnect(1)
	m.RecordSend("critical", 128)
	m.RecordDrop("queue_full")
	m.RecordRateLimitHit()
	m.RecordCompressionRatio(3.2)
	m.RecordError("stream-manager", "transmit")
	m.RecordDisconnect(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsTotal))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.BytesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHits))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionsActive))
}
