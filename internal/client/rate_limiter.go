package client

import (
	"context"
	"time"
)

// RateLimiter paces outbound API calls. Tokens are refilled at a fixed
// interval into a small buffer, so a short burst after an idle stretch is
// allowed but the sustained rate never exceeds the configured one.
type RateLimiter struct {
	ticker *time.Ticker
	tokens chan struct{}
	done   chan struct{}
}

const rateLimiterBurst = 3

// NewRateLimiter creates a limiter allowing requestsPerSecond sustained
// throughput. The first call proceeds immediately.
func NewRateLimiter(requestsPerSecond float64) *RateLimiter {
	interval := time.Duration(float64(time.Second) / requestsPerSecond)

	rl := &RateLimiter{
		ticker: time.NewTicker(interval),
		tokens: make(chan struct{}, rateLimiterBurst),
		done:   make(chan struct{}),
	}
	rl.tokens <- struct{}{}

	go rl.refill()
	return rl
}

func (rl *RateLimiter) refill() {
	for {
		select {
		case <-rl.ticker.C:
			select {
			case rl.tokens <- struct{}{}:
			default:
				// buffer full, drop the token
			}
		case <-rl.done:
			return
		}
	}
}

// Wait blocks until the next request is allowed or the context ends
func (rl *RateLimiter) Wait(ctx context.Context) error {
	select {
	case <-rl.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the refill goroutine. Pending Wait calls will only return
// via their context after this.
func (rl *RateLimiter) Stop() {
	rl.ticker.Stop()
	close(rl.done)
}
