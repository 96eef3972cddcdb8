package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer gates every outbound request. The fetcher calls Wait before each
// attempt, unconditionally, so pacing policy stays swappable and testable.
type Pacer interface {
	Wait(ctx context.Context) error
}

// JitterPacer combines a token-bucket rate limit with a randomized delay in
// [Min, Max]. The jitter keeps request timing irregular enough to stay under
// the origin site's rate limits.
type JitterPacer struct {
	min     time.Duration
	max     time.Duration
	limiter *rate.Limiter

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewJitterPacer builds a pacer with a delay window and an upper requests-per-
// second bound. rps <= 0 disables the token bucket and leaves only the jitter.
func NewJitterPacer(min, max time.Duration, rps float64) *JitterPacer {
	if max < min {
		max = min
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &JitterPacer{
		min:     min,
		max:     max,
		limiter: rate.NewLimiter(limit, 1),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks for a token and then for the jittered delay, respecting ctx.
func (p *JitterPacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return sleepCtx(ctx, p.delay())
}

func (p *JitterPacer) delay() time.Duration {
	span := p.max - p.min
	if span <= 0 {
		return p.min
	}
	p.mu.Lock()
	d := p.min + time.Duration(p.rnd.Int63n(int64(span)))
	p.mu.Unlock()
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
