// Package ratelimit provides fixed-window rate limiters for a single caller and
// for many callers keyed by identity.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a fixed-window rate limiter for a single caller, e.g. one websocket
// connection.
type Limiter struct {
	mu     sync.Mutex
	b      bucket
	rate   int
	window time.Duration
	now    func() time.Time
}

// New creates a Limiter that allows rate requests per window.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{rate: rate, window: window, now: time.Now}
}

// Allow returns true if the request is within the rate limit.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.take(l.now(), l.rate, l.window)
}

// Keyed is a fixed-window limiter tracking one window per key, e.g. per agent or per IP.
type Keyed struct {
	mu      sync.Mutex
	windows map[string]*bucket
	rate    int
	window  time.Duration
	now     func() time.Time
}

type bucket struct {
	count int
	start time.Time
}

// take counts one request at now, opening a new window when the current one expired.
func (b *bucket) take(now time.Time, rate int, window time.Duration) bool {
	if b.expired(now, window) {
		b.count, b.start = 0, now
	}
	b.count++
	return b.count <= rate
}

func (b *bucket) expired(now time.Time, window time.Duration) bool {
	return b.start.IsZero() || now.Sub(b.start) > window
}

// NewKeyed creates a Keyed limiter that allows rate requests per window for each key.
func NewKeyed(rate int, w time.Duration) *Keyed {
	return &Keyed{
		windows: make(map[string]*bucket),
		rate:    rate,
		window:  w,
		now:     time.Now,
	}
}

// Allow returns true if key has not exceeded its rate limit.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	b, ok := k.windows[key]
	if !ok {
		b = &bucket{}
		k.windows[key] = b
	}
	return b.take(k.now(), k.rate, k.window)
}

// Cleanup removes keys whose window has expired.
func (k *Keyed) Cleanup() {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	for key, b := range k.windows {
		if b.expired(now, k.window) {
			delete(k.windows, key)
		}
	}
}

// Len reports the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.windows)
}

// Run calls Cleanup every interval until ctx is done.
func (k *Keyed) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			k.Cleanup()
		}
	}
}
