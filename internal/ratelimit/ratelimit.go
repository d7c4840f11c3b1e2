package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy decides how long the scraper waits after a navigation (Settle) and
// between two failed attempts of the same target (Backoff). Both return early
// with ctx.Err() when the context is cancelled.
type Policy interface {
	Settle(ctx context.Context) error
	Backoff(ctx context.Context, attempt int) error
}

// Jitter waits a uniformly random duration inside the configured ranges.
type Jitter struct {
	SettleMin  time.Duration
	SettleMax  time.Duration
	BackoffMin time.Duration
	BackoffMax time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewJitter(settleMin, settleMax, backoffMin, backoffMax time.Duration) *Jitter {
	return &Jitter{
		SettleMin:  settleMin,
		SettleMax:  settleMax,
		BackoffMin: backoffMin,
		BackoffMax: backoffMax,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (j *Jitter) Settle(ctx context.Context) error {
	return sleep(ctx, j.calculateDelay(j.SettleMin, j.SettleMax))
}

func (j *Jitter) Backoff(ctx context.Context, _ int) error {
	return sleep(ctx, j.calculateDelay(j.BackoffMin, j.BackoffMax))
}

func (j *Jitter) calculateDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rnd == nil {
		j.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	delta := max - min
	return min + time.Duration(j.rnd.Int63n(int64(delta)))
}

// NoDelay never waits. Used by tests and dry runs.
type NoDelay struct{}

func (NoDelay) Settle(ctx context.Context) error { return ctx.Err() }

func (NoDelay) Backoff(ctx context.Context, _ int) error { return ctx.Err() }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// RateLimiter spaces out consecutive operations.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Pacer allows one operation per interval, the first one immediately.
type Pacer struct {
	limiter *rate.Limiter
}

func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
