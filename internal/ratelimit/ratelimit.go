// Package ratelimit provides the keyed token buckets the reference server applies to job
// executions, one bucket per (player, category) key.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long an untouched bucket is kept before cleanup drops it.
const DefaultIdleTTL = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter manages per-key token buckets. Each unique key gets its own limiter.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

type Option func(*KeyedRateLimiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(k *KeyedRateLimiter) { k.now = now }
}

func WithIdleTTL(d time.Duration) Option {
	return func(k *KeyedRateLimiter) { k.idleTTL = d }
}

// New creates a limiter that refills one token every period up to burst tokens.
func New(every time.Duration, burst int, opts ...Option) *KeyedRateLimiter {
	k := &KeyedRateLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Every(every),
		burst:    burst,
		idleTTL:  DefaultIdleTTL,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	go k.cleanup()
	return k
}

// Allow consumes a token for key if one is available. Otherwise it consumes nothing and
// returns the whole seconds until the next token, never less than one.
func (k *KeyedRateLimiter) Allow(key string) (bool, int) {
	now := k.now()
	l := k.getLimiter(key, now)
	r := l.ReserveN(now, 1)
	if !r.OK() {
		return false, 1
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, ceilSeconds(delay)
}

// Reset forgets the bucket for key.
func (k *KeyedRateLimiter) Reset(key string) {
	k.mu.Lock()
	delete(k.limiters, key)
	k.mu.Unlock()
}

// Len returns the number of tracked keys.
func (k *KeyedRateLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

func (k *KeyedRateLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Stop shuts down the cleanup goroutine.
func (k *KeyedRateLimiter) Stop() {
	k.stopOnce.Do(func() {
		close(k.done)
	})
}

func (k *KeyedRateLimiter) cleanup() {
	t := time.NewTicker(k.idleTTL)
	defer t.Stop()
	for {
		select {
		case <-k.done:
			return
		case <-t.C:
			k.sweep(k.now())
		}
	}
}

// sweep drops buckets idle for longer than the TTL. A dropped bucket comes back full, which
// is what an idle bucket would have refilled to anyway once the TTL exceeds burst*period.
func (k *KeyedRateLimiter) sweep(now time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	dropped := 0
	for key, e := range k.limiters {
		if now.Sub(e.lastSeen) > k.idleTTL {
			delete(k.limiters, key)
			dropped++
		}
	}
	return dropped
}

func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
