package admission

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewjob/internal/logger"
)

type countingReporter struct {
	calls atomic.Int32
}

func (r *countingReporter) ReportAutomationSuspected(context.Context) error {
	r.calls.Add(1)
	return nil
}

func newTestController(t *testing.T, opts ...ControllerOption) (*Controller, *Gate, *countingReporter) {
	t.Helper()
	g := newTestGate(1.0, always(0))
	rep := &countingReporter{}
	opts = append([]ControllerOption{WithControllerLogger(logger.Discard())}, opts...)
	return NewController(g, rep, opts...), g, rep
}

func wrongValue(ch []int, correct int) int {
	for _, v := range ch {
		if v != correct {
			return v
		}
	}
	return 0
}

func TestController_PresentBuildsDistinctCandidates(t *testing.T) {
	c, g, _ := newTestController(t)
	for i := 0; i < 50; i++ {
		ch := c.Present(nil)
		require.Len(t, ch.Candidates, 3)
		seen := map[int]bool{}
		for _, v := range ch.Candidates {
			assert.GreaterOrEqual(t, v, 1)
			assert.LessOrEqual(t, v, 9)
			assert.False(t, seen[v], "duplicate candidate %d", v)
			seen[v] = true
		}
		assert.True(t, seen[ch.CorrectValue])
		assert.NotEmpty(t, ch.ID)
		assert.True(t, g.State().CaptchaActive)
	}
}

func TestController_PassRunsActionOnce(t *testing.T) {
	c, g, rep := newTestController(t)
	var runs int
	ch := c.Present(func(context.Context) error {
		runs++
		return nil
	})

	res, err := c.Resolve(context.Background(), ch.CorrectValue)
	require.NoError(t, err)
	assert.True(t, res.Pass)
	assert.Equal(t, ch.ID, res.ChallengeID)
	assert.Equal(t, 1, runs)
	assert.False(t, g.State().CaptchaActive)

	_, err = c.Resolve(context.Background(), ch.CorrectValue)
	assert.ErrorIs(t, err, ErrNoChallenge)
	assert.Equal(t, 1, runs)
	assert.Zero(t, rep.calls.Load())
}

func TestController_PassReturnsActionError(t *testing.T) {
	c, _, _ := newTestController(t)
	boom := errors.New("boom")
	ch := c.Present(func(context.Context) error { return boom })
	res, err := c.Resolve(context.Background(), ch.CorrectValue)
	assert.True(t, res.Pass)
	assert.ErrorIs(t, err, boom)
}

func TestController_FailReportsAndSkipsAction(t *testing.T) {
	c, g, rep := newTestController(t)
	var runs int
	ch := c.Present(func(context.Context) error {
		runs++
		return nil
	})

	res, err := c.Resolve(context.Background(), wrongValue(ch.Candidates, ch.CorrectValue))
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Zero(t, runs)
	assert.False(t, g.State().CaptchaActive)
	require.Eventually(t, func() bool { return rep.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, ok := c.Pending()
	assert.False(t, ok)
}

func TestController_ExpireIsImplicitFail(t *testing.T) {
	c, _, rep := newTestController(t)
	c.Present(func(context.Context) error {
		t.Fatal("action must not run")
		return nil
	})
	res, err := c.Expire(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Eventually(t, func() bool { return rep.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestController_TimeoutFiresOnItsOwn(t *testing.T) {
	c, g, rep := newTestController(t, WithTimeout(20*time.Millisecond))
	c.Present(func(context.Context) error {
		t.Fatal("action must not run")
		return nil
	})
	require.Eventually(t, func() bool { return rep.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, g.State().CaptchaActive)
	_, ok := c.Pending()
	assert.False(t, ok)
}

func TestController_LateAnswerCountsAsFail(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c, _, rep := newTestController(t, WithClock(clock))
	ch := c.Present(func(context.Context) error {
		t.Fatal("action must not run")
		return nil
	})
	now = now.Add(31 * time.Second)

	res, err := c.Resolve(context.Background(), ch.CorrectValue)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Eventually(t, func() bool { return rep.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestController_PresentReplacesPending(t *testing.T) {
	c, _, _ := newTestController(t)
	first := c.Present(nil)
	second := c.Present(nil)
	got, ok := c.Pending()
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)
	assert.NotEqual(t, first.ID, got.ID)
}

func TestController_SupersededChallengeFailsQuietly(t *testing.T) {
	c, g, rep := newTestController(t)
	ctx := context.Background()
	var first, second int
	old := c.Present(func(context.Context) error {
		first++
		return nil
	})
	cur := c.Present(func(context.Context) error {
		second++
		return nil
	})

	res, err := c.ResolveChallenge(ctx, old.ID, old.CorrectValue)
	assert.ErrorIs(t, err, ErrNoChallenge)
	assert.False(t, res.Pass)
	assert.Zero(t, first)
	assert.True(t, g.State().CaptchaActive)

	_, err = c.ExpireChallenge(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNoChallenge)
	_, pending := c.Pending()
	assert.True(t, pending)

	res, err = c.ResolveChallenge(ctx, cur.ID, cur.CorrectValue)
	require.NoError(t, err)
	assert.True(t, res.Pass)
	assert.Equal(t, 1, second)
	assert.Zero(t, first)
	assert.Zero(t, rep.calls.Load())
}
