package party

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewjob/internal/domain"
	"crewjob/internal/logger"
)

type blockingRefresher struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingRefresher) Refresh(ctx context.Context) (*domain.Party, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil, nil
}

func TestPoller_SkipsTickWhileRefreshInFlight(t *testing.T) {
	r := &blockingRefresher{release: make(chan struct{})}
	p := NewPoller(r, time.Hour, logger.Discard())
	ctx := context.Background()

	require.True(t, p.fire(ctx))
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, p.fire(ctx))
	assert.False(t, p.fire(ctx))
	assert.Equal(t, int64(2), p.Skipped())
	assert.Equal(t, int32(1), r.calls.Load())

	close(r.release)
	require.Eventually(t, func() bool { return p.fire(ctx) }, time.Second, time.Millisecond)
}

func TestPoller_StopEndsLoop(t *testing.T) {
	r := &blockingRefresher{release: make(chan struct{})}
	close(r.release)
	p := NewPoller(r, 5*time.Millisecond, logger.Discard())
	p.Start(context.Background())
	require.Eventually(t, func() bool { return r.calls.Load() >= 2 }, time.Second, time.Millisecond)

	p.Stop()
	time.Sleep(20 * time.Millisecond)
	n := r.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, r.calls.Load())

	// stopping twice is harmless
	p.Stop()
}

func TestPoller_DefaultInterval(t *testing.T) {
	p := NewPoller(&blockingRefresher{}, 0, nil)
	assert.Equal(t, DefaultPollInterval, p.interval)
}
