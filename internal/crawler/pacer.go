package crawler

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out requests to one site.
//
// Every Wait sleeps for a uniformly random duration in [minDelay, maxDelay].
// When a requests-per-minute ceiling is set, Wait additionally blocks on a
// token bucket so that bursts of short random delays cannot exceed it.
type Pacer struct {
	minDelay time.Duration
	maxDelay time.Duration
	limiter  *rate.Limiter
}

// NewPacer creates a Pacer. maxDelay below minDelay is raised to minDelay.
// perMinute <= 0 disables the rate ceiling.
func NewPacer(minDelay, maxDelay time.Duration, perMinute int) *Pacer {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	p := &Pacer{minDelay: minDelay, maxDelay: maxDelay}
	if perMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	return p
}

// Delay returns the next politeness delay.
func (p *Pacer) Delay() time.Duration {
	span := p.maxDelay - p.minDelay
	if span <= 0 {
		return p.minDelay
	}
	return p.minDelay + time.Duration(rand.Int64N(int64(span)+1)) //nolint:gosec // jitter, not security
}

// Wait sleeps for the politeness delay and then for the rate limiter.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := Sleep(ctx, p.Delay()); err != nil {
		return err
	}
	if p.limiter != nil {
		return p.limiter.Wait(ctx)
	}
	return nil
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
