// Package cooldown implements the per-second countdown that blocks an action category
// after a challenge or a server rate-limit rejection.
package cooldown

import (
	"sync"
	"time"
)

// DefaultInterval is the real-time length of one countdown step.
const DefaultInterval = time.Second

// Timer counts whole seconds down to zero. Start while running restarts from the new value;
// the last call wins. Completion callbacks run once per countdown that reaches zero.
//
// With a positive interval the Timer drives itself from a ticker goroutine. With an
// interval <= 0 the owner advances it by calling Tick.
type Timer struct {
	interval time.Duration

	mu         sync.Mutex
	remaining  int
	running    bool
	paused     bool
	gen        uint64
	stop       chan struct{}
	onComplete []func()
}

// New returns an idle timer.
func New(interval time.Duration) *Timer {
	return &Timer{interval: interval}
}

// Start begins a countdown of seconds, superseding any countdown in flight.
// A non-positive value completes immediately.
func (t *Timer) Start(seconds int) {
	t.mu.Lock()
	t.haltLocked()
	t.gen++
	if seconds <= 0 {
		t.remaining = 0
		callbacks := t.callbacksLocked()
		t.mu.Unlock()
		runAll(callbacks)
		return
	}
	t.remaining = seconds
	t.running = true
	if t.interval > 0 {
		stop := make(chan struct{})
		t.stop = stop
		go t.loop(t.gen, stop)
	}
	t.mu.Unlock()
}

func (t *Timer) loop(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if done := t.tick(gen); done {
				return
			}
		}
	}
}

// Tick advances the countdown by one step. It is a no-op while paused or idle.
func (t *Timer) Tick() {
	t.mu.Lock()
	gen := t.gen
	t.mu.Unlock()
	t.tick(gen)
}

// tick reports whether the countdown identified by gen is over.
func (t *Timer) tick(gen uint64) bool {
	t.mu.Lock()
	if gen != t.gen || !t.running {
		t.mu.Unlock()
		return true
	}
	if t.paused {
		t.mu.Unlock()
		return false
	}
	t.remaining--
	if t.remaining > 0 {
		t.mu.Unlock()
		return false
	}
	t.remaining = 0
	t.running = false
	t.stop = nil
	callbacks := t.callbacksLocked()
	t.mu.Unlock()
	runAll(callbacks)
	return true
}

// Stop cancels the countdown without running completion callbacks.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.haltLocked()
	t.gen++
	t.remaining = 0
	t.mu.Unlock()
}

func (t *Timer) haltLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.running = false
}

// Remaining returns the whole seconds left; zero when idle.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Active reports whether a countdown is in progress.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// SetPaused freezes or resumes the countdown.
func (t *Timer) SetPaused(paused bool) {
	t.mu.Lock()
	t.paused = paused
	t.mu.Unlock()
}

func (t *Timer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// OnComplete registers fn to run every time a countdown reaches zero.
func (t *Timer) OnComplete(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.onComplete = append(t.onComplete, fn)
	t.mu.Unlock()
}

func (t *Timer) callbacksLocked() []func() {
	out := make([]func(), len(t.onComplete))
	copy(out, t.onComplete)
	return out
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
