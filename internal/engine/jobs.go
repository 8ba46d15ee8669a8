package engine

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/google/uuid"

	"crewjob/internal/domain"
	cjerrors "crewjob/internal/errors"
	"crewjob/internal/events"
	"crewjob/internal/repo"
)

// ExecuteJob runs a solo job for playerID.
func (e Engine) ExecuteJob(ctx context.Context, playerID, jobID string) (domain.JobResult, error) {
	job, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobResult{}, err
	}
	if job.Category() != domain.CategorySolo {
		return domain.JobResult{}, cjerrors.Validation("job " + jobID + " needs a party")
	}
	player, err := e.Repo.GetPlayer(ctx, playerID)
	if err != nil {
		return domain.JobResult{}, err
	}
	auto := e.automated(ctx, playerID, domain.CategorySolo, jobID)
	if err := e.admit(player, domain.CategorySolo, auto); err != nil {
		return domain.JobResult{}, err
	}
	if player.Level < job.RequiredLevel {
		return domain.JobResult{}, levelTooLow(player.ID, player.Level, job.RequiredLevel)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.JobResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SpendEnergy(ctx, tx, job.RequiredEnergy, playerID); err != nil {
		return domain.JobResult{}, err
	}
	res := domain.JobResult{
		RunID:       uuid.NewString(),
		JobID:       job.ID,
		MemberIDs:   []string{playerID},
		CompletedAt: e.now(),
	}
	if err := e.record(ctx, tx, res, playerID, auto); err != nil {
		return domain.JobResult{}, err
	}
	after, err := e.Repo.GetPlayerTx(ctx, tx, playerID)
	if err != nil {
		return domain.JobResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.JobResult{}, err
	}
	res.Player = &after.PlayerStats
	return res, nil
}

// ExecutePartyJob runs the caller's party job. The caller must own a complete party and
// memberIDs must match its crew.
func (e Engine) ExecutePartyJob(ctx context.Context, playerID, jobID string, memberIDs []string) (domain.JobResult, error) {
	p, err := e.Repo.MyParty(ctx, playerID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.JobResult{}, cjerrors.ErrNotInParty
	}
	if err != nil {
		return domain.JobResult{}, err
	}
	if p.JobID != jobID {
		return domain.JobResult{}, cjerrors.Validation("party is formed for job " + p.JobID)
	}
	if err := checkCrew(p, playerID, memberIDs); err != nil {
		return domain.JobResult{}, err
	}
	job, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobResult{}, err
	}
	leader, err := e.Repo.GetPlayer(ctx, playerID)
	if err != nil {
		return domain.JobResult{}, err
	}
	auto := e.automated(ctx, playerID, domain.CategoryParty, jobID)
	if err := e.admit(leader, domain.CategoryParty, auto); err != nil {
		return domain.JobResult{}, err
	}
	for _, m := range p.Crew {
		if m.Level < job.RequiredLevel {
			return domain.JobResult{}, levelTooLow(m.ID, m.Level, job.RequiredLevel)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.JobResult{}, err
	}
	defer tx.Rollback()
	// the crew may have changed since the read above
	locked, err := e.Repo.GetPartyForUpdate(ctx, tx, p.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.JobResult{}, cjerrors.ErrNotInParty
	}
	if err != nil {
		return domain.JobResult{}, err
	}
	if err := checkCrew(locked, playerID, memberIDs); err != nil {
		return domain.JobResult{}, err
	}
	crew := locked.MemberIDs()
	if err := e.Repo.SpendEnergy(ctx, tx, job.RequiredEnergy, crew...); err != nil {
		return domain.JobResult{}, err
	}
	res := domain.JobResult{
		RunID:       uuid.NewString(),
		JobID:       job.ID,
		PartyID:     locked.ID,
		MemberIDs:   crew,
		CompletedAt: e.now(),
	}
	if err := e.record(ctx, tx, res, playerID, auto); err != nil {
		return domain.JobResult{}, err
	}
	after, err := e.Repo.GetPlayerTx(ctx, tx, playerID)
	if err != nil {
		return domain.JobResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.JobResult{}, err
	}
	res.Player = &after.PlayerStats
	return res, nil
}

// admit applies the automation restriction and the execution rate limit.
func (e Engine) admit(player repo.Player, category domain.Category, automated bool) error {
	if left := player.RestrictedFor(e.now()); left > 0 {
		return cjerrors.Restricted(ceilSeconds(left))
	}
	if e.Limits == nil {
		return nil
	}
	ok, remaining := e.Limits.Allow(player.ID, category, automated)
	if !ok {
		e.log().Info("execution rate limited", "player_id", player.ID, "category", category, "remaining_seconds", remaining)
		return cjerrors.RateLimited(remaining)
	}
	return nil
}

// automated reports whether jobID is the player's automated job for category. It reads
// outside any transaction.
func (e Engine) automated(ctx context.Context, playerID string, category domain.Category, jobID string) bool {
	auto, err := e.Repo.AutoJobs(ctx, playerID)
	if err != nil {
		return false
	}
	return auto[string(category)] == jobID
}

func (e Engine) record(ctx context.Context, tx *sql.Tx, res domain.JobResult, actorID string, automated bool) error {
	if err := e.Repo.InsertRun(ctx, tx, res, actorID, automated); err != nil {
		return err
	}
	return e.EventWriter.Append(ctx, tx, events.JobExecuted, "job", res.JobID, actorID, events.EventPayload{
		"run_id":    res.RunID,
		"party_id":  res.PartyID,
		"members":   res.MemberIDs,
		"automated": automated,
	})
}

func checkCrew(p domain.Party, playerID string, memberIDs []string) error {
	if p.OwnerID != playerID {
		return cjerrors.NotLeader("only the party leader can start the job")
	}
	if !p.IsComplete() {
		return cjerrors.ErrWaitingForCrew.WithDetails(map[string]any{
			"crew":          len(p.Crew),
			"required_crew": p.RequiredCrew,
		})
	}
	if !sameMembers(p.MemberIDs(), memberIDs) {
		return cjerrors.Newf(cjerrors.CodeConflict, "crew changed, refresh the party").WithDetails(map[string]any{
			"crew": p.MemberIDs(),
		})
	}
	return nil
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func levelTooLow(playerID string, level, required int) error {
	return cjerrors.Newf(cjerrors.CodeLevelTooLow, "player %s is level %d, job needs %d", playerID, level, required).
		WithDetails(map[string]any{"player_id": playerID, "level": level, "required_level": required})
}
