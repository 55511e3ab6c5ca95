package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		Enabled:           true,
		MaxQueueSize:      5,
		DropLowPriority:   true,
		WarningThreshold:  0.8,
		RateLimitEnabled:  false,
		MessagesPerSecond: 100,
		BurstSize:         10,
	}
}

func priorityMsg(seq int, p Priority) *Message {
	msg := NewMessage("test", map[string]any{"seq": seq})
	msg.Priority = p
	return msg
}

func TestQueueMessageAdmits(t *testing.T) {
	h := NewBackpressureHandler(testBackpressureConfig(), nil)

	assert.True(t, h.QueueMessage(priorityMsg(0, PriorityNormal)))
	assert.Equal(t, 1, h.QueueSize())

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.MessagesQueued)
	assert.Equal(t, int64(0), stats.MessagesDropped)
}

func TestQueueMessageDisabledAlwaysAdmits(t *testing.T) {
	cfg := testBackpressureConfig()
	cfg.Enabled = false
	cfg.MaxQueueSize = 1
	h := NewBackpressureHandler(cfg, nil)

	for i := 0; i < 10; i++ {
		assert.True(t, h.QueueMessage(priorityMsg(i, PriorityNormal)))
	}
	// Disabled means fire-and-forget: nothing is actually queued
	assert.Equal(t, 0, h.QueueSize())
}

func TestOverflowEvictsLowPriority(t *testing.T) {
	h := NewBackpressureHandler(testBackpressureConfig(), nil)

	// Fill with 3 Low and 2 Normal
	for i := 0; i < 3; i++ {
		require.True(t, h.QueueMessage(priorityMsg(i, PriorityLow)))
	}
	for i := 3; i < 5; i++ {
		require.True(t, h.QueueMessage(priorityMsg(i, PriorityNormal)))
	}
	require.Equal(t, 5, h.QueueSize())

	// Critical arrival evicts the Low entries and is admitted
	assert.True(t, h.QueueMessage(priorityMsg(5, PriorityCritical)))

	stats := h.Stats()
	assert.Equal(t, int64(3), stats.MessagesDropped)
	assert.Equal(t, 0, stats.QueueByPriority["low"])
	assert.Equal(t, 1, stats.QueueByPriority["critical"])

	// Critical drains before the older Normal entries
	msg := h.NextMessage()
	require.NotNil(t, msg)
	assert.Equal(t, 5, msg.Payload["seq"])
}

func TestOverflowWithoutEvictionRejects(t *testing.T) {
	cfg := testBackpressureConfig()
	cfg.DropLowPriority = false
	h := NewBackpressureHandler(cfg, nil)

	for i := 0; i < 5; i++ {
		require.True(t, h.QueueMessage(priorityMsg(i, PriorityLow)))
	}

	assert.False(t, h.QueueMessage(priorityMsg(5, PriorityCritical)))

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.QueueOverflows)
	assert.Equal(t, int64(1), stats.MessagesDropped)
	assert.Equal(t, 5, stats.QueueSize)
}

func TestOverflowNoLowEntriesToEvict(t *testing.T) {
	h := NewBackpressureHandler(testBackpressureConfig(), nil)

	for i := 0; i < 5; i++ {
		require.True(t, h.QueueMessage(priorityMsg(i, PriorityNormal)))
	}

	// Eviction is enabled but there is nothing Low to evict
	assert.False(t, h.QueueMessage(priorityMsg(5, PriorityHigh)))

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.QueueOverflows)
	assert.Equal(t, 5, stats.QueueSize)
}

func TestNextMessageEmpty(t *testing.T) {
	h := NewBackpressureHandler(testBackpressureConfig(), nil)
	assert.Nil(t, h.NextMessage())
}

func TestNextMessageRateLimited(t *testing.T) {
	cfg := testBackpressureConfig()
	cfg.RateLimitEnabled = true
	cfg.MessagesPerSecond = 1
	cfg.BurstSize = 1
	h := NewBackpressureHandler(cfg, nil)

	require.True(t, h.QueueMessage(priorityMsg(0, PriorityNormal)))
	require.True(t, h.QueueMessage(priorityMsg(1, PriorityNormal)))

	// First dequeue consumes the only token
	require.NotNil(t, h.NextMessage())

	// Second is rate-limited even though the queue is non-empty
	assert.Nil(t, h.NextMessage())

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.RateLimitHits)
	assert.Equal(t, int64(1), stats.MessagesSent)
	assert.Equal(t, 1, stats.QueueSize)
}

func TestWakeupSignalledOnEnqueue(t *testing.T) {
	h := NewBackpressureHandler(testBackpressureConfig(), nil)

	select {
	case <-h.Wakeup():
		t.Fatal("wakeup must not be signalled before any enqueue")
	default:
	}

	require.True(t, h.QueueMessage(priorityMsg(0, PriorityNormal)))

	select {
	case <-h.Wakeup():
	default:
		t.Fatal("wakeup must be signalled after an enqueue")
	}
}

func TestHandlerReset(t *testing.T) {
	h := NewBackpressureHandler(testBackpressureConfig(), nil)

	require.True(t, h.QueueMessage(priorityMsg(0, PriorityNormal)))
	require.NotNil(t, h.NextMessage())

	h.Reset()

	stats := h.Stats()
	assert.Equal(t, int64(0), stats.MessagesQueued)
	assert.Equal(t, int64(0), stats.MessagesSent)
	assert.Equal(t, 0, stats.QueueSize)
}
