package stream

import (
	"log/slog"
	"sync/atomic"
)

// BackpressureConfig controls one connection's admission behavior
type BackpressureConfig struct {
	// Enabled turns backpressure handling on. When disabled, QueueMessage
	// always admits without queueing (fire-and-forget).
	Enabled bool `json:"enabled"`
	// MaxQueueSize bounds the priority queue shared across all levels
	MaxQueueSize int `json:"max_queue_size"`
	// DropLowPriority evicts Low entries to admit new messages on overflow
	DropLowPriority bool `json:"drop_low_priority"`
	// WarningThreshold is the queue occupancy fraction that triggers a
	// diagnostic warning (0.0 to 1.0)
	WarningThreshold float64 `json:"warning_threshold"`
	// RateLimitEnabled gates dequeues through the token bucket
	RateLimitEnabled bool `json:"rate_limit_enabled"`
	// MessagesPerSecond is the sustained send rate per connection
	MessagesPerSecond float64 `json:"messages_per_second"`
	// BurstSize is the token bucket capacity
	BurstSize int `json:"burst_size"`
}

// DefaultBackpressureConfig returns production defaults for one connection
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		Enabled:           true,
		MaxQueueSize:      1000,
		DropLowPriority:   true,
		WarningThreshold:  0.8,
		RateLimitEnabled:  true,
		MessagesPerSecond: 100,
		BurstSize:         20,
	}
}

// BackpressureHandler composes a PriorityQueue and a RateLimiter to give one
// connection a single admission decision (QueueMessage) and a single
// withdrawal operation (NextMessage). The handler is exclusively owned by its
// connection and requires no cross-connection synchronization.
type BackpressureHandler struct {
	cfg     BackpressureConfig
	queue   *PriorityQueue
	limiter *RateLimiter
	logger  *slog.Logger

	counters connCounters

	// wakeup is signalled on successful enqueue so the send loop can wait
	// without polling an empty queue
	wakeup chan struct{}

	// aboveThreshold tracks warning edge-triggering
	aboveThreshold atomic.Bool
}

// NewBackpressureHandler creates a handler for one connection
func NewBackpressureHandler(cfg BackpressureConfig, logger *slog.Logger) *BackpressureHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackpressureHandler{
		cfg:     cfg,
		queue:   NewPriorityQueue(cfg.MaxQueueSize),
		limiter: NewRateLimiter(cfg.MessagesPerSecond, cfg.BurstSize),
		logger:  logger,
		wakeup:  make(chan struct{}, 1),
	}
}

// QueueMessage admits a message into the connection's queue at the message's
// priority. Returns false when the message was dropped (queue full and no
// Low-priority entries to evict). When backpressure is disabled the message
// is admitted without queueing.
func (h *BackpressureHandler) QueueMessage(msg *Message) bool {
	if !h.cfg.Enabled {
		return true
	}

	admitted := h.queue.Put(msg, msg.Priority)
	if !admitted && h.cfg.DropLowPriority {
		// Evict bulk telemetry to make room, then retry once
		if evicted := h.queue.ClearLowPriority(); evicted > 0 {
			h.counters.messagesDropped.Add(int64(evicted))
			h.logger.Debug("evicted low-priority messages on overflow",
				"evicted", evicted,
				"incoming_priority", msg.Priority.String())
			admitted = h.queue.Put(msg, msg.Priority)
		}
	}

	h.checkWarningThreshold()

	if !admitted {
		h.counters.queueOverflows.Add(1)
		h.counters.messagesDropped.Add(1)
		return false
	}

	h.counters.messagesQueued.Add(1)
	h.signalWakeup()
	return true
}

// NextMessage withdraws the next deliverable message. Returns nil when the
// queue is empty or the send is rate-limited; the caller must back off
// briefly before retrying.
func (h *BackpressureHandler) NextMessage() *Message {
	if h.cfg.RateLimitEnabled && !h.limiter.Acquire() {
		h.counters.rateLimitHits.Add(1)
		return nil
	}

	msg, ok := h.queue.Get()
	if !ok {
		return nil
	}

	h.counters.messagesSent.Add(1)
	return msg
}

// Wakeup returns the channel signalled whenever a message is enqueued
func (h *BackpressureHandler) Wakeup() <-chan struct{} {
	return h.wakeup
}

// Stats returns a snapshot of the connection's counters and queue occupancy
func (h *BackpressureHandler) Stats() BackpressureStats {
	byPriority := make(map[string]int, len(drainOrder))
	for _, p := range Priorities() {
		byPriority[p.String()] = h.queue.SizeByPriority(p)
	}

	return BackpressureStats{
		Enabled:         h.cfg.Enabled,
		MessagesQueued:  h.counters.messagesQueued.Load(),
		MessagesSent:    h.counters.messagesSent.Load(),
		MessagesDropped: h.counters.messagesDropped.Load(),
		QueueOverflows:  h.counters.queueOverflows.Load(),
		RateLimitHits:   h.counters.rateLimitHits.Load(),
		QueueSize:       h.queue.Size(),
		QueueCapacity:   h.queue.Capacity(),
		QueueByPriority: byPriority,
	}
}

// QueueSize returns the current total queue occupancy
func (h *BackpressureHandler) QueueSize() int {
	return h.queue.Size()
}

// Reset zeroes all counters and clears the queue
func (h *BackpressureHandler) Reset() {
	h.counters.reset()
	h.queue.Clear()
	h.aboveThreshold.Store(false)
}

// signalWakeup performs a non-blocking send on the wakeup channel
func (h *BackpressureHandler) signalWakeup() {
	select {
	case h.wakeup <- struct{}{}:
	default:
	}
}

// checkWarningThreshold emits a diagnostic warning when queue occupancy
// crosses the configured fraction, edge-triggered so a saturated queue does
// not spam the log.
func (h *BackpressureHandler) checkWarningThreshold() {
	if h.cfg.WarningThreshold <= 0 {
		return
	}

	occupancy := float64(h.queue.Size()) / float64(h.queue.Capacity())
	above := occupancy >= h.cfg.WarningThreshold

	if above && h.aboveThreshold.CompareAndSwap(false, true) {
		h.logger.Warn("backpressure queue occupancy above warning threshold",
			"occupancy", occupancy,
			"threshold", h.cfg.WarningThreshold,
			"queue_size", h.queue.Size(),
			"capacity", h.queue.Capacity())
	} else if !above {
		h.aboveThreshold.Store(false)
	}
}
