package stream

import (
	"sync"
	"sync/atomic"
)

// connCounters holds the per-connection backpressure counters. Monotonically
// non-decreasing except on explicit Reset.
type connCounters struct {
	messagesQueued  atomic.Int64
	messagesSent    atomic.Int64
	messagesDropped atomic.Int64
	queueOverflows  atomic.Int64
	rateLimitHits   atomic.Int64
}

func (c *connCounters) reset() {
	c.messagesQueued.Store(0)
	c.messagesSent.Store(0)
	c.messagesDropped.Store(0)
	c.queueOverflows.Store(0)
	c.rateLimitHits.Store(0)
}

// BackpressureStats is a point-in-time snapshot of one connection's
// admission counters and queue occupancy.
type BackpressureStats struct {
	Enabled         bool             `json:"enabled"`
	MessagesQueued  int64            `json:"messages_queued"`
	MessagesSent    int64            `json:"messages_sent"`
	MessagesDropped int64            `json:"messages_dropped"`
	QueueOverflows  int64            `json:"queue_overflows"`
	RateLimitHits   int64            `json:"rate_limit_hits"`
	QueueSize       int              `json:"queue_size"`
	QueueCapacity   int              `json:"queue_capacity"`
	QueueByPriority map[string]int   `json:"queue_by_priority"`
}

// GlobalStats aggregates delivery counters across all connections
type GlobalStats struct {
	TotalConnections      int64   `json:"total_connections"`
	ActiveConnections     int     `json:"active_connections"`
	TotalMessagesSent     int64   `json:"total_messages_sent"`
	TotalBytesSent        int64   `json:"total_bytes_sent"`
	AvgCompressionRatio   float64 `json:"avg_compression_ratio"`
	ActiveRecordings      int     `json:"active_recordings"`
}

// globalCounters tracks manager-wide delivery totals. The compression ratio
// running average needs sum and count updated together, hence the mutex.
type globalCounters struct {
	totalConnections atomic.Int64
	messagesSent     atomic.Int64
	bytesSent        atomic.Int64

	mu         sync.Mutex
	ratioSum   float64
	ratioCount int64
}

func (g *globalCounters) recordSend(bytes int) {
	g.messagesSent.Add(1)
	g.bytesSent.Add(int64(bytes))
}

func (g *globalCounters) recordRatio(ratio float64) {
	g.mu.Lock()
	g.ratioSum += ratio
	g.ratioCount++
	g.mu.Unlock()
}

func (g *globalCounters) avgRatio() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ratioCount == 0 {
		return 0
	}
	return g.ratioSum / float64(g.ratioCount)
}

func (g *globalCounters) reset() {
	g.totalConnections.Store(0)
	g.messagesSent.Store(0)
	g.bytesSent.Store(0)

	g.mu.Lock()
	g.ratioSum = 0
	g.ratioCount = 0
	g.mu.Unlock()
}
