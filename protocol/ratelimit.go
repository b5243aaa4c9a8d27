package protocol

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces spec.md §4.8 inbound-discipline step 2: a
// token bucket of messages/sec and a separate byte bucket of
// MAX_BYTES_PER_SECOND, both per peer. Grounded on the ecosystem's
// standard `golang.org/x/time/rate` token bucket (used for exactly
// this purpose across the retrieval pack's broader corpus), since
// no rate limiter was ever wired in the teacher itself — the teacher
// only bounds connection counts, not per-peer throughput, so there is
// no teacher idiom to imitate here.
type RateLimiter struct {
	messages *rate.Limiter
	bytes    *rate.Limiter
}

// NewRateLimiter builds a limiter allowing messagesPerSecond messages
// and bytesPerSecond bytes, each with a one-second burst.
func NewRateLimiter(messagesPerSecond int, bytesPerSecond int) *RateLimiter {
	return &RateLimiter{
		messages: rate.NewLimiter(rate.Limit(messagesPerSecond), messagesPerSecond),
		bytes:    rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond),
	}
}

// AllowMessage reports whether one more message may be accepted right
// now without waiting.
func (rl *RateLimiter) AllowMessage() bool {
	return rl.messages.Allow()
}

// AllowBytes reports whether n more bytes may be accepted right now
// without waiting.
func (rl *RateLimiter) AllowBytes(n int) bool {
	return rl.bytes.AllowN(time.Now(), n)
}
