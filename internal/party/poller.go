package party

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"crewjob/internal/domain"
	"crewjob/internal/logger"
)

// DefaultPollInterval is how often the party view is re-fetched.
const DefaultPollInterval = 4 * time.Second

type refresher interface {
	Refresh(ctx context.Context) (*domain.Party, error)
}

// Poller calls Refresh on a fixed interval. A tick that fires while the previous refresh is
// still running is skipped, never queued.
type Poller struct {
	target   refresher
	interval time.Duration
	log      *slog.Logger

	inFlight atomic.Bool
	skipped  atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(target refresher, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{target: target, interval: interval, log: logger.OrDefault(log)}
}

// Start launches the polling loop. It stops on Stop or when ctx is done.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.fire(ctx)
		}
	}
}

// fire starts one refresh unless one is already running. It reports whether it started.
func (p *Poller) fire(ctx context.Context) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.log.Debug("poll tick skipped, refresh in flight")
		return false
	}
	go func() {
		defer p.inFlight.Store(false)
		if _, err := p.target.Refresh(ctx); err != nil && ctx.Err() == nil {
			p.log.Debug("poll refresh failed", "error", err)
		}
	}()
	return true
}

// Stop cancels the loop and waits for it to exit. A refresh in flight sees its context
// cancelled; its result is discarded by the coordinator.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Skipped returns how many ticks were dropped by overlap suppression.
func (p *Poller) Skipped() int64 {
	return p.skipped.Load()
}
