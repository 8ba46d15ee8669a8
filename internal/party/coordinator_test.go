package party

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewjob/internal/domain"
	cjerrors "crewjob/internal/errors"
	"crewjob/internal/logger"
)

func newTestCoordinator(store Store, user string, opts ...Option) *Coordinator {
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	return NewCoordinator(store, user, opts...)
}

func crew(ids ...string) []domain.CrewMember {
	out := make([]domain.CrewMember, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.CrewMember{ID: id})
	}
	return out
}

func TestCoordinator_InitialRefreshWithoutParty(t *testing.T) {
	store := newMemStore("A")
	var exits atomic.Int32
	c := newTestCoordinator(store, "A", WithOnExit(func() { exits.Add(1) }))
	assert.Equal(t, ViewUnknown, c.Snapshot().View)

	p, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, ViewNoParty, c.Snapshot().View)
	assert.Zero(t, exits.Load())
}

func TestCoordinator_CreateMakesCallerLeader(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("A")
	c := newTestCoordinator(store, "A")

	p, err := c.CreateParty(ctx, "heist")
	require.NoError(t, err)
	assert.Equal(t, "A", p.OwnerID)

	snap := c.Snapshot()
	assert.Equal(t, ViewHasParty, snap.View)
	require.NotNil(t, snap.Party)
	assert.True(t, c.IsLeader())
	assert.True(t, c.CanKick())
	assert.False(t, c.CanExecute(), "crew of 1 out of 2 is incomplete")

	_, err = c.CreateParty(ctx, "heist")
	assert.ErrorIs(t, err, cjerrors.ErrAlreadyInParty)
	assert.Equal(t, 1, store.called("create"))
}

func TestCoordinator_ReconciliationConvergence(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("A")
	store.put(domain.Party{ID: "p1", JobID: "heist", OwnerID: "A", RequiredCrew: 2, Crew: crew("A")})
	c := newTestCoordinator(store, "A")

	_, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, c.CanExecute())

	store.addMember("p1", "B")
	_, err = c.Refresh(ctx)
	require.NoError(t, err)

	p := c.Party()
	require.NotNil(t, p)
	assert.Equal(t, []string{"A", "B"}, p.MemberIDs())
	assert.True(t, c.CanExecute())
}

func TestCoordinator_LeaderOnlyKickGating(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("B")
	store.put(domain.Party{ID: "p1", OwnerID: "A", RequiredCrew: 3, Crew: crew("A", "B")})
	c := newTestCoordinator(store, "B")
	_, err := c.Refresh(ctx)
	require.NoError(t, err)

	assert.False(t, c.CanKick())
	assert.ErrorIs(t, c.KickMember(ctx, "A"), cjerrors.ErrNotLeader)
	assert.Zero(t, store.called("kick"))

	// a member never gets the control, whatever the party looks like
	store.addMember("p1", "C")
	_, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, c.CanKick())
	assert.False(t, c.CanExecute())
}

func TestCoordinator_KickByLeader(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("A")
	store.put(domain.Party{ID: "p1", OwnerID: "A", RequiredCrew: 2, Crew: crew("A", "B")})
	c := newTestCoordinator(store, "A")
	_, err := c.Refresh(ctx)
	require.NoError(t, err)

	assert.Error(t, c.KickMember(ctx, "A"))
	require.NoError(t, c.KickMember(ctx, "B"))
	assert.Equal(t, []string{"A"}, c.Party().MemberIDs())
}

func TestCoordinator_LeaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("A")
	c := newTestCoordinator(store, "A")

	// unknown view: the store answers not_in_party, which is swallowed
	require.NoError(t, c.LeaveParty(ctx))
	assert.Equal(t, ViewNoParty, c.Snapshot().View)

	// known no-party view: no store call at all
	calls := store.called("leave")
	require.NoError(t, c.LeaveParty(ctx))
	require.NoError(t, c.LeaveParty(ctx))
	assert.Equal(t, calls, store.called("leave"))
}

func TestCoordinator_LeaveTriggersExit(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("B")
	store.put(domain.Party{ID: "p1", OwnerID: "A", RequiredCrew: 2, Crew: crew("A", "B")})
	var exits atomic.Int32
	c := newTestCoordinator(store, "B", WithOnExit(func() { exits.Add(1) }))
	_, err := c.Refresh(ctx)
	require.NoError(t, err)

	require.NoError(t, c.LeaveParty(ctx))
	assert.Equal(t, ViewNoParty, c.Snapshot().View)
	assert.Equal(t, int32(1), exits.Load())
}

func TestCoordinator_DisappearedPartyExitsOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("B")
	store.put(domain.Party{ID: "p1", OwnerID: "A", RequiredCrew: 2, Crew: crew("A", "B")})
	var exits atomic.Int32
	c := newTestCoordinator(store, "B", WithOnExit(func() { exits.Add(1) }))
	_, err := c.Refresh(ctx)
	require.NoError(t, err)

	store.remove("p1")
	for i := 0; i < 3; i++ {
		p, err := c.Refresh(ctx)
		require.NoError(t, err)
		assert.Nil(t, p)
	}
	assert.Equal(t, ViewNoParty, c.Snapshot().View)
	assert.Equal(t, int32(1), exits.Load())
}

func TestCoordinator_JoinFullParty(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("C")
	store.put(domain.Party{ID: "p1", OwnerID: "A", RequiredCrew: 2, Crew: crew("A", "B")})
	c := newTestCoordinator(store, "C")

	_, err := c.JoinParty(ctx, "p1")
	assert.ErrorIs(t, err, cjerrors.ErrPartyFull)
	assert.NotEqual(t, ViewHasParty, c.Snapshot().View)
}

func TestCoordinator_JoinOpenParty(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("B")
	store.put(domain.Party{ID: "p1", JobID: "heist", OwnerID: "A", RequiredCrew: 2, Crew: crew("A")})
	c := newTestCoordinator(store, "B")

	parties, err := c.ListParties(ctx, "heist")
	require.NoError(t, err)
	require.Len(t, parties, 1)
	assert.Equal(t, 1, parties[0].OpenSlots())

	_, err = c.JoinParty(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ViewHasParty, c.Snapshot().View)
	assert.False(t, c.CanExecute(), "only the leader executes")
}

func TestCoordinator_StaleResponseDropped(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("A")
	store.put(domain.Party{ID: "p1", OwnerID: "A", RequiredCrew: 2, Crew: crew("A")})
	c := newTestCoordinator(store, "A")

	hold := make(chan struct{})
	store.hold = hold
	slow := make(chan struct{})
	go func() {
		defer close(slow)
		_, _ = c.Refresh(ctx)
	}()
	require.Eventually(t, func() bool { return store.gets.Load() == 1 }, time.Second, time.Millisecond)

	store.addMember("p1", "B")
	_, err := c.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, c.Party().MemberIDs())

	close(hold)
	<-slow
	assert.Equal(t, []string{"A", "B"}, c.Party().MemberIDs())
}

func TestCoordinator_NoUpdateAfterClose(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("A")
	store.put(domain.Party{ID: "p1", OwnerID: "A", RequiredCrew: 2, Crew: crew("A")})
	c := newTestCoordinator(store, "A")

	hold := make(chan struct{})
	store.hold = hold
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Refresh(ctx)
	}()
	require.Eventually(t, func() bool { return store.gets.Load() == 1 }, time.Second, time.Millisecond)

	c.Close()
	close(hold)
	<-done
	assert.Equal(t, ViewUnknown, c.Snapshot().View)
	assert.Nil(t, c.Party())
}

func TestCoordinator_MountPollsUntilClose(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("A")
	store.put(domain.Party{ID: "p1", OwnerID: "A", RequiredCrew: 2, Crew: crew("A")})
	c := newTestCoordinator(store, "A")

	require.NoError(t, c.Mount(ctx, 10*time.Millisecond))
	assert.Equal(t, ViewHasParty, c.Snapshot().View)

	store.addMember("p1", "B")
	require.Eventually(t, c.CanExecute, 2*time.Second, 5*time.Millisecond)

	c.Close()
	// closing the view never leaves the party
	assert.Zero(t, store.called("leave"))
	time.Sleep(20 * time.Millisecond)
	gets := store.gets.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, gets, store.gets.Load())
}
