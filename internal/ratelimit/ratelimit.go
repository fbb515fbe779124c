// Package ratelimit implements fixed-window request counting per key.
//
// State lives in process memory; it does not coordinate across multiple
// server instances. For multi-instance deployments swap the bucket map
// for a shared counter store behind the same Admit contract.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type bucket struct {
	count   int
	expires time.Time
}

// Limiter counts requests per key within fixed windows.
// The zero value is not usable; construct with New.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// New returns a Limiter using the wall clock.
func New() *Limiter {
	return NewWithClock(time.Now)
}

// NewWithClock returns a Limiter with an injected clock.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     now,
	}
}

// Admit records an attempt for key and reports whether it is allowed.
// On first touch of a key, or once its window has elapsed, the counter
// resets to 1 and a new window begins. A denial does not increment the
// counter. Admit never fails; denial is a normal outcome.
func (l *Limiter) Admit(key string, limit int, window time.Duration) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.After(b.expires) {
		b = &bucket{count: 1, expires: now.Add(window)}
		l.buckets[key] = b
		return Decision{Allowed: true, Remaining: limit - 1, ResetAt: b.expires}
	}

	if b.count >= limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: b.expires}
	}

	b.count++
	return Decision{Allowed: true, Remaining: limit - b.count, ResetAt: b.expires}
}

// Prune drops buckets whose window has elapsed, bounding memory.
func (l *Limiter) Prune() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if now.After(b.expires) {
			delete(l.buckets, key)
		}
	}
}

// StartPruning runs Prune every interval until ctx is canceled.
func (l *Limiter) StartPruning(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Prune()
			}
		}
	}()
}

// Len reports the number of tracked buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
