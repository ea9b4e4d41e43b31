// Package ratelimit implements a per-service limiter bounding concurrent
// in-flight operations and, optionally, the request rate over a one-second
// window.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/bookworm-labs/storyatlas/internal/metrics"
)

// Config holds limiter configuration for one external service.
type Config struct {
	// MaxConcurrent caps simultaneously admitted callers. Must be > 0.
	MaxConcurrent int

	// RequestsPerSecond caps admissions per one-second window when > 0.
	RequestsPerSecond float64
}

// Limiter admits callers subject to a concurrency cap and an optional
// per-second rate. A single Limiter instance is shared by all concurrent
// tasks talking to one provider.
type Limiter struct {
	name  string
	slots chan struct{}
	rate  *rate.Limiter
}

// New creates a Limiter for the named service.
func New(name string, cfg Config) *Limiter {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	l := &Limiter{
		name:  name,
		slots: make(chan struct{}, maxConcurrent),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(math.Ceil(cfg.RequestsPerSecond))
		if burst < 1 {
			burst = 1
		}
		l.rate = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return l
}

// Acquire blocks until both a concurrency slot and rate-window capacity are
// available, then admits the caller. Every successful Acquire must be paired
// with a Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire %s slot: %w", l.name, ctx.Err())
	}

	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			<-l.slots
			return fmt.Errorf("rate wait %s: %w", l.name, err)
		}
	}

	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(l.name, delay)
	}
	return nil
}

// Release frees the concurrency slot. Rate-window entries expire on their
// own after one second.
func (l *Limiter) Release() {
	select {
	case <-l.slots:
	default:
		// Release without a matching Acquire; ignore.
	}
}

// Do runs fn inside an acquire/guaranteed-release scope.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// Name returns the service name the limiter guards.
func (l *Limiter) Name() string {
	return l.name
}
