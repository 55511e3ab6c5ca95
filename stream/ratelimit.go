package stream

import (
	"golang.org/x/time/rate"
)

// RateLimiter applies token-bucket admission control to one connection's
// message sends. Tokens refill at a fixed rate up to the burst capacity and
// the bucket starts full. Acquire is non-blocking: the caller backs off in
// its own polling cadence rather than waiting here.
//
// The underlying limiter is race-free, so Acquire may be invoked from
// multiple paths even though the normal design has a single writer per
// connection.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter admitting messagesPerSecond sustained
// with bursts up to burst messages.
func NewRateLimiter(messagesPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if messagesPerSecond <= 0 {
		messagesPerSecond = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(messagesPerSecond), burst),
	}
}

// Acquire consumes one token if available. Returns false when rate-limited;
// the caller must retry later.
func (rl *RateLimiter) Acquire() bool {
	return rl.limiter.Allow()
}

// Limit returns the sustained admission rate in messages per second
func (rl *RateLimiter) Limit() float64 {
	return float64(rl.limiter.Limit())
}

// Burst returns the bucket capacity
func (rl *RateLimiter) Burst() int {
	return rl.limiter.Burst()
}
