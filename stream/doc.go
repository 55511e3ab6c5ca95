// Package stream implements prioritized, rate-limited, backpressure-aware
// message delivery to streaming clients.
//
// The Manager owns the connection set. Each connection gets its own
// BackpressureHandler (a bounded four-level PriorityQueue plus a token
// bucket RateLimiter) and a dedicated send loop goroutine. Producers call
// SendToClient or Broadcast; admission is a boolean, not an error — a
// rejected message is a counted drop, never a failure of the producer.
//
// Delivery order is strict priority (critical, high, normal, low) with FIFO
// within a level. When a queue is full and eviction is enabled, all
// low-priority entries are dropped to admit the new message. Dequeues pass
// through the rate limiter; a rate-limited or empty queue parks the send
// loop on a wakeup channel with a short retry fallback.
//
// On the wire, uncompressed messages are JSON text frames; compressed
// messages are binary frames of a one-byte compression kind followed by the
// compressed JSON payload. Transmitted messages are forwarded to the
// recorder while recording sessions are active.
//
// Connections move Connecting → Open → Closing → Closed and never reopen; a
// transmit failure tears down only the affected connection. Shutdown
// disconnects every client, waits for all send loops, and closes recording
// sessions.
package stream
