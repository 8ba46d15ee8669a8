package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"crewjob/internal/config"
	"crewjob/internal/domain"
	cjerrors "crewjob/internal/errors"
	"crewjob/internal/events"
	"crewjob/internal/repo"
)

// CreateParty forms a party for jobID with playerID as owner and first member.
func (e Engine) CreateParty(ctx context.Context, playerID, jobID string) (domain.Party, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Party{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetPlayerTx(ctx, tx, playerID); err != nil {
		return domain.Party{}, err
	}
	job, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		return domain.Party{}, err
	}
	if job.Category() != domain.CategoryParty {
		return domain.Party{}, cjerrors.Validation("job " + jobID + " is a solo job")
	}
	if _, err := e.Repo.PartyIDForMember(ctx, tx, playerID); err == nil {
		return domain.Party{}, cjerrors.ErrAlreadyInParty
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Party{}, err
	}

	now := e.now()
	p := domain.Party{
		ID:           uuid.NewString(),
		JobID:        job.ID,
		OwnerID:      playerID,
		RequiredCrew: job.RequiredCrew,
		CreatedAt:    now,
	}
	if err := e.Repo.InsertParty(ctx, tx, p); err != nil {
		return domain.Party{}, err
	}
	if err := e.Repo.InsertMember(ctx, tx, p.ID, playerID, now); err != nil {
		return domain.Party{}, err
	}
	if err := e.EventWriter.Append(ctx, tx, events.PartyCreated, "party", p.ID, playerID, events.EventPayload{
		"job_id":        job.ID,
		"required_crew": job.RequiredCrew,
	}); err != nil {
		return domain.Party{}, err
	}
	out, err := e.Repo.GetPartyForUpdate(ctx, tx, p.ID)
	if err != nil {
		return domain.Party{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Party{}, err
	}
	return out, nil
}

// JoinParty adds playerID to partyID. The capacity check and the insert share one
// transaction, so of two racing joins for the last slot exactly one wins.
func (e Engine) JoinParty(ctx context.Context, playerID, partyID string) (domain.Party, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Party{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetPlayerTx(ctx, tx, playerID); err != nil {
		return domain.Party{}, err
	}
	if _, err := e.Repo.PartyIDForMember(ctx, tx, playerID); err == nil {
		return domain.Party{}, cjerrors.ErrAlreadyInParty
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Party{}, err
	}
	p, err := e.Repo.GetPartyForUpdate(ctx, tx, partyID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Party{}, cjerrors.NotFound("party not found")
		}
		return domain.Party{}, err
	}
	if len(p.Crew) >= p.RequiredCrew {
		return domain.Party{}, cjerrors.PartyFull("party " + partyID + " is full")
	}
	if err := e.Repo.InsertMember(ctx, tx, partyID, playerID, e.now()); err != nil {
		return domain.Party{}, err
	}
	if err := e.EventWriter.Append(ctx, tx, events.PartyJoined, "party", partyID, playerID, events.EventPayload{
		"crew": len(p.Crew) + 1,
	}); err != nil {
		return domain.Party{}, err
	}
	out, err := e.Repo.GetPartyForUpdate(ctx, tx, partyID)
	if err != nil {
		return domain.Party{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Party{}, err
	}
	return out, nil
}

// LeaveParty removes playerID from its party. An emptied party is deleted. When the owner
// leaves, the leader departure policy decides between keeping the orphaned party and
// disbanding it.
func (e Engine) LeaveParty(ctx context.Context, playerID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	partyID, err := e.Repo.PartyIDForMember(ctx, tx, playerID)
	if errors.Is(err, repo.ErrNotFound) {
		return cjerrors.ErrNotInParty
	}
	if err != nil {
		return err
	}
	p, err := e.Repo.GetPartyForUpdate(ctx, tx, partyID)
	if err != nil {
		return err
	}
	if _, err := e.Repo.DeleteMember(ctx, tx, partyID, playerID); err != nil {
		return err
	}
	remaining := len(p.Crew) - 1
	leader := p.OwnerID == playerID
	disband := remaining == 0 || (leader && e.Config.Server.LeaderDeparture == config.LeaderDepartureDisband)

	if err := e.EventWriter.Append(ctx, tx, events.PartyLeft, "party", partyID, playerID, events.EventPayload{
		"leader":    leader,
		"remaining": remaining,
	}); err != nil {
		return err
	}
	if disband {
		if err := e.Repo.DeleteParty(ctx, tx, partyID); err != nil {
			return err
		}
		reason := "empty"
		if remaining > 0 {
			reason = "leader_departed"
		}
		if err := e.EventWriter.Append(ctx, tx, events.PartyDisbanded, "party", partyID, playerID, events.EventPayload{
			"reason": reason,
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// KickMember removes memberID from the caller's party. Only the owner may kick.
func (e Engine) KickMember(ctx context.Context, playerID, memberID string) error {
	if memberID == "" {
		return cjerrors.Validation("user_id is required")
	}
	if memberID == playerID {
		return cjerrors.Validation("cannot kick yourself; leave the party instead")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	partyID, err := e.Repo.PartyIDForMember(ctx, tx, playerID)
	if errors.Is(err, repo.ErrNotFound) {
		return cjerrors.ErrNotInParty
	}
	if err != nil {
		return err
	}
	p, err := e.Repo.GetPartyForUpdate(ctx, tx, partyID)
	if err != nil {
		return err
	}
	if p.OwnerID != playerID {
		return cjerrors.NotLeader("only the party leader can kick members")
	}
	removed, err := e.Repo.DeleteMember(ctx, tx, partyID, memberID)
	if err != nil {
		return err
	}
	if !removed {
		return cjerrors.NotFound("member " + memberID + " is not in the party")
	}
	if err := e.EventWriter.Append(ctx, tx, events.PartyKicked, "party", partyID, playerID, events.EventPayload{
		"member_id": memberID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// MyParty returns the caller's party, or nil when the caller is in none.
func (e Engine) MyParty(ctx context.Context, playerID string) (*domain.Party, error) {
	p, err := e.Repo.MyParty(ctx, playerID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPartiesForJob lists the parties formed for jobID.
func (e Engine) ListPartiesForJob(ctx context.Context, jobID string) ([]domain.Party, error) {
	if _, err := e.Repo.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return e.Repo.ListPartiesForJob(ctx, jobID)
}
