package admission

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"crewjob/internal/domain"
	cjerrors "crewjob/internal/errors"
	"crewjob/internal/id"
	"crewjob/internal/logger"
)

const (
	// DefaultChallengeTimeout is how long a presented challenge stays answerable.
	DefaultChallengeTimeout = 30 * time.Second
	// SentinelValue is the selection recorded when a challenge times out.
	SentinelValue = -1

	candidateCount = 3
	maxCandidate   = 9
	reportTimeout  = 10 * time.Second
)

// ErrNoChallenge is returned when resolving while nothing is pending.
var ErrNoChallenge = cjerrors.Newf(cjerrors.CodeChallengeFailed, "no challenge pending")

// Reporter tells the server a challenge was failed so it can restrict the player.
type Reporter interface {
	ReportAutomationSuspected(ctx context.Context) error
}

// Action is the gated operation a passed challenge releases.
type Action func(ctx context.Context) error

type Result struct {
	ChallengeID string
	Pass        bool
}

type pending struct {
	challenge domain.Challenge
	action    Action
	expiry    *time.Timer
}

// Controller presents and resolves challenges for one gate. At most one challenge is
// pending; each is resolved once.
type Controller struct {
	gate     *Gate
	reporter Reporter
	timeout  time.Duration
	now      func() time.Time
	intn     func(int) int
	log      *slog.Logger

	mu      sync.Mutex
	pending *pending
}

type ControllerOption func(*Controller)

func WithTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.timeout = d }
}

// WithIntN replaces the source for candidate values; it must return [0,n).
func WithIntN(fn func(int) int) ControllerOption {
	return func(c *Controller) { c.intn = fn }
}

func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.log = l }
}

func NewController(gate *Gate, reporter Reporter, opts ...ControllerOption) *Controller {
	c := &Controller{
		gate:     gate,
		reporter: reporter,
		timeout:  DefaultChallengeTimeout,
		now:      time.Now,
		intn:     rand.IntN,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrDefault(c.log).With("category", string(gate.Category()))
	return c
}

// Present builds a fresh challenge guarding action and replaces any pending one.
// The challenge lapses as a failure when its timeout passes unanswered.
func (c *Controller) Present(action Action) domain.Challenge {
	candidates := c.candidates()
	ch := domain.Challenge{
		ID:           id.MustGenerate("chl"),
		Candidates:   candidates,
		CorrectValue: candidates[c.intn(len(candidates))],
		ExpiresAt:    c.now().Add(c.timeout),
	}
	c.gate.beginChallenge()

	p := &pending{challenge: ch, action: action}
	c.mu.Lock()
	if prev := c.pending; prev != nil {
		// The superseded challenge fails quietly: its owner gets ErrNoChallenge on resolve
		// and its action never runs.
		prev.expiry.Stop()
		c.log.Debug("challenge superseded", "challenge_id", prev.challenge.ID, "by", ch.ID)
	}
	c.pending = p
	p.expiry = time.AfterFunc(c.timeout, func() {
		c.expire(context.Background(), ch.ID)
	})
	c.mu.Unlock()
	return ch
}

// Pending returns the challenge awaiting an answer, if any.
func (c *Controller) Pending() (domain.Challenge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return domain.Challenge{}, false
	}
	return c.pending.challenge, true
}

// Resolve answers whichever challenge is pending. See ResolveChallenge.
func (c *Controller) Resolve(ctx context.Context, selected int) (Result, error) {
	return c.ResolveChallenge(ctx, "", selected)
}

// ResolveChallenge answers the challenge challengeID. On pass the gated action runs once and
// its error is returned. On fail the restriction report is sent in the background and the
// action is dropped. A challenge that expired or was superseded by a newer one yields
// ErrNoChallenge with no report. An empty id matches the pending challenge.
func (c *Controller) ResolveChallenge(ctx context.Context, challengeID string, selected int) (Result, error) {
	p := c.take(challengeID)
	if p == nil {
		return Result{}, ErrNoChallenge
	}
	if !c.now().Before(p.challenge.ExpiresAt) {
		selected = SentinelValue
	}
	return c.finish(ctx, p, selected)
}

// Expire fails the pending challenge as if it had timed out.
func (c *Controller) Expire(ctx context.Context) (Result, error) {
	return c.ExpireChallenge(ctx, "")
}

// ExpireChallenge fails challengeID as if it had timed out. It is a no-op returning
// ErrNoChallenge once that challenge is no longer pending.
func (c *Controller) ExpireChallenge(ctx context.Context, challengeID string) (Result, error) {
	p := c.take(challengeID)
	if p == nil {
		return Result{}, ErrNoChallenge
	}
	return c.finish(ctx, p, SentinelValue)
}

func (c *Controller) expire(ctx context.Context, challengeID string) {
	if p := c.take(challengeID); p != nil {
		_, _ = c.finish(ctx, p, SentinelValue)
	}
}

// take detaches the pending challenge; a non-empty id must match it.
func (c *Controller) take(challengeID string) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	if p == nil || (challengeID != "" && p.challenge.ID != challengeID) {
		return nil
	}
	c.pending = nil
	p.expiry.Stop()
	return p
}

func (c *Controller) finish(ctx context.Context, p *pending, selected int) (Result, error) {
	c.gate.clearCaptcha()
	res := Result{ChallengeID: p.challenge.ID}
	if selected != SentinelValue && selected == p.challenge.CorrectValue {
		res.Pass = true
		c.log.Debug("challenge passed", "challenge_id", p.challenge.ID)
		if p.action == nil {
			return res, nil
		}
		return res, p.action(ctx)
	}
	c.log.Warn("challenge failed", "challenge_id", p.challenge.ID, "timed_out", selected == SentinelValue)
	c.report(ctx)
	return res, nil
}

// report is fire-and-forget; the caller never waits on the verdict endpoint.
func (c *Controller) report(ctx context.Context) {
	if c.reporter == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, reportTimeout)
		defer cancel()
		if err := c.reporter.ReportAutomationSuspected(ctx); err != nil {
			c.log.Warn("automation report failed", "error", err)
		}
	}()
}

// candidates draws distinct values in [1, maxCandidate].
func (c *Controller) candidates() []int {
	pool := make([]int, maxCandidate)
	for i := range pool {
		pool[i] = i + 1
	}
	out := make([]int, 0, candidateCount)
	for len(out) < candidateCount {
		j := c.intn(len(pool))
		out = append(out, pool[j])
		pool = append(pool[:j], pool[j+1:]...)
	}
	return out
}
