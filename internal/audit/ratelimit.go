package audit

import (
	"errors"
	"sync"
	"time"

	"opguard/internal/clock"
)

// ErrRateLimited is returned by an output that refused a record because its
// rate limit was exhausted.
var ErrRateLimited = errors.New("rate limited")

// RateLimiter is a token bucket shared by the writes of one output.
type RateLimiter struct {
	clock clock.Clock

	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// NewRateLimiter allows bursts of maxBurst and refills ratePerMinute tokens
// per minute. A nil clk uses the wall clock.
func NewRateLimiter(maxBurst int, ratePerMinute float64, clk clock.Clock) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 5
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 20
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &RateLimiter{
		clock:    clk,
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: clk.Now(),
	}
}

// refill must be called with mu held.
func (rl *RateLimiter) refill() {
	now := rl.clock.Now()
	rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.lastTime = now
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}
