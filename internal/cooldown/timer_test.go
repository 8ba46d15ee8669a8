package cooldown

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_CountsDownMonotonically(t *testing.T) {
	timer := New(0)
	var completed atomic.Int32
	timer.OnComplete(func() { completed.Add(1) })

	timer.Start(12)
	require.True(t, timer.Active())
	prev := timer.Remaining()
	assert.Equal(t, 12, prev)

	for i := 0; i < 12; i++ {
		timer.Tick()
		cur := timer.Remaining()
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
	assert.Equal(t, 0, timer.Remaining())
	assert.False(t, timer.Active())
	assert.Equal(t, int32(1), completed.Load())

	// extra ticks never fire completion again
	timer.Tick()
	timer.Tick()
	assert.Equal(t, int32(1), completed.Load())
}

func TestTimer_RestartSupersedes(t *testing.T) {
	timer := New(0)
	var completed atomic.Int32
	timer.OnComplete(func() { completed.Add(1) })

	timer.Start(5)
	timer.Tick()
	timer.Tick()
	assert.Equal(t, 3, timer.Remaining())

	timer.Start(10)
	assert.Equal(t, 10, timer.Remaining())
	for i := 0; i < 9; i++ {
		timer.Tick()
	}
	assert.Equal(t, int32(0), completed.Load())
	timer.Tick()
	assert.Equal(t, int32(1), completed.Load())
}

func TestTimer_PauseFreezesCountdown(t *testing.T) {
	timer := New(0)
	timer.Start(3)
	timer.SetPaused(true)
	assert.True(t, timer.Paused())
	timer.Tick()
	timer.Tick()
	assert.Equal(t, 3, timer.Remaining())

	timer.SetPaused(false)
	timer.Tick()
	assert.Equal(t, 2, timer.Remaining())
}

func TestTimer_StopSkipsCompletion(t *testing.T) {
	timer := New(0)
	var completed atomic.Int32
	timer.OnComplete(func() { completed.Add(1) })

	timer.Start(2)
	timer.Stop()
	assert.False(t, timer.Active())
	assert.Equal(t, 0, timer.Remaining())
	timer.Tick()
	timer.Tick()
	assert.Equal(t, int32(0), completed.Load())
}

func TestTimer_StartZeroCompletesImmediately(t *testing.T) {
	timer := New(0)
	var completed atomic.Int32
	timer.OnComplete(func() { completed.Add(1) })
	timer.Start(0)
	assert.Equal(t, int32(1), completed.Load())
	assert.False(t, timer.Active())
}

func TestTimer_SelfDriven(t *testing.T) {
	timer := New(5 * time.Millisecond)
	done := make(chan struct{})
	timer.OnComplete(func() { close(done) })
	timer.Start(3)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not complete")
	}
	assert.Equal(t, 0, timer.Remaining())
	assert.False(t, timer.Active())
}
