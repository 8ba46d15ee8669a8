// Package party keeps the client-local view of the player's party reconciled against the
// shared party store, which offers no push notifications.
package party

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crewjob/internal/domain"
	cjerrors "crewjob/internal/errors"
	"crewjob/internal/logger"
)

// Store is the externally hosted party record store. GetMyParty returns nil, nil when the
// caller is in no party.
type Store interface {
	CreateParty(ctx context.Context, jobID string) (domain.Party, error)
	JoinParty(ctx context.Context, partyID string) (domain.Party, error)
	LeaveParty(ctx context.Context) error
	KickMember(ctx context.Context, userID string) error
	GetMyParty(ctx context.Context) (*domain.Party, error)
	ListPartiesForJob(ctx context.Context, jobID string) ([]domain.Party, error)
}

type View int

const (
	ViewUnknown View = iota
	ViewHasParty
	ViewNoParty
)

func (v View) String() string {
	switch v {
	case ViewHasParty:
		return "has_party"
	case ViewNoParty:
		return "no_party"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the local view.
type Snapshot struct {
	View  View
	Party *domain.Party
}

// Coordinator owns the local view of one player's party.
type Coordinator struct {
	store  Store
	userID string
	log    *slog.Logger
	onExit func()

	mu      sync.Mutex
	view    View
	party   *domain.Party
	issued  uint64
	applied uint64
	closed  bool
	poller  *Poller
}

type Option func(*Coordinator)

// WithOnExit registers the side effect run when the party disappears from the store.
func WithOnExit(fn func()) Option {
	return func(c *Coordinator) { c.onExit = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// NewCoordinator returns a coordinator for userID in the Unknown state.
func NewCoordinator(store Store, userID string, opts ...Option) *Coordinator {
	c := &Coordinator{store: store, userID: userID}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrDefault(c.log).With("user_id", userID)
	return c
}

func (c *Coordinator) UserID() string { return c.userID }

// Snapshot returns a copy of the current view.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{View: c.view, Party: clone(c.party)}
}

// Party returns a copy of the local party, or nil.
func (c *Coordinator) Party() *domain.Party {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clone(c.party)
}

// IsLeader reports whether the current user owns the local party.
func (c *Coordinator) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.party != nil && c.party.OwnerID == c.userID
}

// CanKick gates the kick control: only the leader ever sees it.
func (c *Coordinator) CanKick() bool {
	return c.IsLeader()
}

// CanExecute gates the party job control: leader with a complete crew.
func (c *Coordinator) CanExecute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.party != nil && c.party.OwnerID == c.userID && c.party.IsComplete()
}

// Mount performs the initial refresh and starts polling at interval.
func (c *Coordinator) Mount(ctx context.Context, interval time.Duration) error {
	_, err := c.Refresh(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return err
	}
	if c.poller != nil {
		c.poller.Stop()
	}
	c.poller = NewPoller(c, interval, c.log)
	p := c.poller
	c.mu.Unlock()
	p.Start(ctx)
	return err
}

// Close stops polling and drops any response still in flight. Membership is untouched.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	p := c.poller
	c.poller = nil
	c.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

// Refresh pulls the party from the store and applies it unless a newer response has
// already been applied or the coordinator was closed meanwhile.
func (c *Coordinator) Refresh(ctx context.Context) (*domain.Party, error) {
	c.mu.Lock()
	c.issued++
	seq := c.issued
	c.mu.Unlock()

	p, err := c.store.GetMyParty(ctx)
	if err != nil {
		c.log.Warn("party refresh failed", "error", err)
		return nil, err
	}
	c.apply(seq, p)
	return clone(p), nil
}

func (c *Coordinator) apply(seq uint64, p *domain.Party) {
	c.mu.Lock()
	if c.closed || seq <= c.applied {
		c.mu.Unlock()
		return
	}
	c.applied = seq
	prev := c.view
	c.party = clone(p)
	if p == nil {
		c.view = ViewNoParty
	} else {
		c.view = ViewHasParty
	}
	exit := prev == ViewHasParty && c.view == ViewNoParty
	onExit := c.onExit
	c.mu.Unlock()

	if exit {
		c.log.Info("party gone, leaving party view")
		if onExit != nil {
			onExit()
		}
	}
}

// CreateParty starts a party for jobID with the current user as leader.
func (c *Coordinator) CreateParty(ctx context.Context, jobID string) (domain.Party, error) {
	if c.Snapshot().View == ViewHasParty {
		return domain.Party{}, cjerrors.ErrAlreadyInParty
	}
	p, err := c.store.CreateParty(ctx, jobID)
	if err != nil {
		return domain.Party{}, err
	}
	c.log.Info("party created", "party_id", p.ID, "job_id", jobID)
	c.resync(ctx)
	return p, nil
}

// JoinParty joins partyID. The store decides races for the last slot and may answer
// PartyFull even right after a refresh showed an open slot.
func (c *Coordinator) JoinParty(ctx context.Context, partyID string) (domain.Party, error) {
	p, err := c.store.JoinParty(ctx, partyID)
	if err != nil {
		if cjerrors.Is(err, cjerrors.ErrPartyFull) {
			c.log.Info("party full", "party_id", partyID)
		}
		return domain.Party{}, err
	}
	c.log.Info("joined party", "party_id", p.ID)
	c.resync(ctx)
	return p, nil
}

// LeaveParty leaves the current party. Calling it without a party is a no-op.
func (c *Coordinator) LeaveParty(ctx context.Context) error {
	if c.Snapshot().View == ViewNoParty {
		return nil
	}
	if err := c.store.LeaveParty(ctx); err != nil && !cjerrors.Is(err, cjerrors.ErrNotInParty) {
		return err
	}
	c.resync(ctx)
	return nil
}

// KickMember removes memberID from the party. Only the leader may call it; the store
// checks again.
func (c *Coordinator) KickMember(ctx context.Context, memberID string) error {
	if !c.CanKick() {
		return cjerrors.ErrNotLeader
	}
	if memberID == c.userID {
		return cjerrors.Validation("leader cannot kick themselves; leave instead")
	}
	if err := c.store.KickMember(ctx, memberID); err != nil {
		return err
	}
	c.log.Info("member kicked", "member_id", memberID)
	c.resync(ctx)
	return nil
}

// ListParties lists the parties open for jobID, for the party selection view.
func (c *Coordinator) ListParties(ctx context.Context, jobID string) ([]domain.Party, error) {
	return c.store.ListPartiesForJob(ctx, jobID)
}

// resync refreshes after a mutation. A failure is left for the next poll to repair.
func (c *Coordinator) resync(ctx context.Context) {
	if _, err := c.Refresh(ctx); err != nil {
		c.log.Debug("resync after mutation failed; poll will converge", "error", err)
	}
}

func clone(p *domain.Party) *domain.Party {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Crew = append([]domain.CrewMember(nil), p.Crew...)
	return &cp
}
