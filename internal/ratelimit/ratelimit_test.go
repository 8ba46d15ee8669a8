package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestAllow_BurstThenRemaining(t *testing.T) {
	clock := newClock()
	l := New(2*time.Second, 3, WithClock(clock.Now))
	defer l.Stop()

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("A:solo")
		require.True(t, ok, "burst token %d", i)
	}
	ok, remaining := l.Allow("A:solo")
	assert.False(t, ok)
	assert.Equal(t, 2, remaining)

	// a rejected attempt does not consume the next token
	clock.Advance(2 * time.Second)
	ok, _ = l.Allow("A:solo")
	assert.True(t, ok)
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	clock := newClock()
	l := New(time.Minute, 1, WithClock(clock.Now))
	defer l.Stop()

	ok, _ := l.Allow("A:solo")
	require.True(t, ok)
	ok, _ = l.Allow("A:party")
	assert.True(t, ok)
	ok, _ = l.Allow("B:solo")
	assert.True(t, ok)

	ok, remaining := l.Allow("A:solo")
	assert.False(t, ok)
	assert.Equal(t, 60, remaining)
}

func TestAllow_RemainingRoundsUp(t *testing.T) {
	clock := newClock()
	l := New(10*time.Second, 1, WithClock(clock.Now))
	defer l.Stop()

	ok, _ := l.Allow("k")
	require.True(t, ok)
	clock.Advance(8500 * time.Millisecond)
	ok, remaining := l.Allow("k")
	assert.False(t, ok)
	assert.Equal(t, 2, remaining)
}

func TestSweepDropsIdleKeys(t *testing.T) {
	clock := newClock()
	l := New(time.Second, 1, WithClock(clock.Now), WithIdleTTL(time.Minute))
	defer l.Stop()

	l.Allow("old")
	clock.Advance(2 * time.Minute)
	l.Allow("fresh")
	assert.Equal(t, 2, l.Len())

	assert.Equal(t, 1, l.sweep(clock.Now()))
	assert.Equal(t, 1, l.Len())

	l.Reset("fresh")
	assert.Zero(t, l.Len())
}
