package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"xscraper/pkg/retry"
)

// Limiter is anything that can hold back the next session
type Limiter interface {
	// Reserve blocks until another session may be opened
	Reserve(ctx context.Context) error
	// Pause sleeps for the pacing delay between sessions
	Pause(ctx context.Context) error
}

// Pacer implements Limiter with a uniform random delay in [min, max] and an
// optional sessions-per-minute cap.
type Pacer struct {
	min, max time.Duration
	limiter  *rate.Limiter

	mu  sync.Mutex
	rnd *rand.Rand

	// Sleep performs the pause; replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a pacer. sessionsPerMinute <= 0 disables the cap.
func NewPacer(min, max time.Duration, sessionsPerMinute int) *Pacer {
	if max < min {
		max = min
	}
	p := &Pacer{
		min:   min,
		max:   max,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		Sleep: retry.Wait,
	}
	if sessionsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(sessionsPerMinute)), 1)
	}
	return p
}

// Delay draws the next pacing delay
func (p *Pacer) Delay() time.Duration {
	span := p.max - p.min
	if span <= 0 {
		return p.min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.min + time.Duration(p.rnd.Int63n(int64(span)+1))
}

// Pause sleeps for a random pacing delay
func (p *Pacer) Pause(ctx context.Context) error {
	return p.Sleep(ctx, p.Delay())
}

// Reserve waits for the sessions-per-minute cap, if any
func (p *Pacer) Reserve(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}
