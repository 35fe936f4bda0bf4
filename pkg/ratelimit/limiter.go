// Package ratelimit provides the token bucket that shapes all outbound
// HTTP traffic. The bucket refills continuously at the configured rate per
// window and allows bursts up to one full window of tokens.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iron-manus/jarvis/pkg/config"
)

// ErrWouldExceedDeadline is returned by Wait when the time until the next
// token exceeds the caller's remaining context budget. Callers treat it as
// a timeout-class failure.
var ErrWouldExceedDeadline = errors.New("token wait would exceed context deadline")

// Bucket is a continuously refilling token bucket. Safe for concurrent use.
type Bucket struct {
	mu       sync.Mutex
	rate     float64 // tokens added per window
	window   time.Duration
	capacity float64
	tokens   float64
	last     time.Time

	now func() time.Time
}

// Option customizes a Bucket.
type Option func(*Bucket)

// WithClock replaces the bucket's clock. Tests use it to refill
// deterministically.
func WithClock(now func() time.Time) Option {
	return func(b *Bucket) {
		b.now = now
	}
}

// NewBucket builds a full bucket from the rate-limit section.
// Burst capacity equals the per-window rate.
func NewBucket(cfg config.RateLimitConfig, opts ...Option) *Bucket {
	b := &Bucket{
		rate:     float64(cfg.RequestsPerMinute),
		window:   cfg.Window(),
		capacity: float64(cfg.RequestsPerMinute),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.tokens = b.capacity
	b.last = b.now()
	return b
}

// Allow consumes a token if one is available, without blocking.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Available returns the current token count. Diagnostic only; the value is
// stale as soon as it is read.
func (b *Bucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Wait blocks until a token is consumed or the context ends. When the wait
// for the next token cannot finish within the context deadline, Wait fails
// fast with ErrWouldExceedDeadline instead of sleeping pointlessly.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b.mu.Lock()
		b.refill()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		delay := b.nextTokenDelay()
		b.mu.Unlock()

		if deadline, ok := ctx.Deadline(); ok && b.now().Add(delay).After(deadline) {
			return ErrWouldExceedDeadline
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// refill credits tokens for the time elapsed since the last refill.
// Caller holds b.mu.
func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.last = now
	b.tokens += b.rate * (float64(elapsed) / float64(b.window))
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// nextTokenDelay returns how long until one full token is available.
// Caller holds b.mu.
func (b *Bucket) nextTokenDelay() time.Duration {
	missing := 1 - b.tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / b.rate * float64(b.window))
}
