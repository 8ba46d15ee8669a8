// Package pipeline runs a job request through admission, the optional challenge, the local
// party checks and the remote execution call, then applies the outcome.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"crewjob/internal/admission"
	"crewjob/internal/domain"
	cjerrors "crewjob/internal/errors"
	"crewjob/internal/logger"
	"crewjob/internal/observability"
)

// JobAPI is the remote job execution service.
type JobAPI interface {
	ExecuteJob(ctx context.Context, jobID string) (domain.JobResult, error)
	ExecutePartyJob(ctx context.Context, jobID string, memberIDs []string) (domain.JobResult, error)
}

// AutoJobSetter stores the player's preferred automated job.
type AutoJobSetter interface {
	SetPreferredAutoJob(ctx context.Context, category domain.Category, jobID string) error
}

// Solver answers a presented challenge. ctx carries the challenge deadline; returning an
// error counts as a timeout.
type Solver interface {
	Solve(ctx context.Context, ch domain.Challenge) (int, error)
}

type SolverFunc func(ctx context.Context, ch domain.Challenge) (int, error)

func (f SolverFunc) Solve(ctx context.Context, ch domain.Challenge) (int, error) {
	return f(ctx, ch)
}

// PartyView is the part of the party coordinator the pipeline reads and refreshes.
type PartyView interface {
	UserID() string
	Party() *domain.Party
	Refresh(ctx context.Context) (*domain.Party, error)
}

// Profile receives the updated player stats after a solo job.
type Profile interface {
	UpdateProfile(stats domain.PlayerStats)
}

// Lane is the admission state of one category.
type Lane struct {
	Gate       *admission.Gate
	Controller *admission.Controller
}

type Config struct {
	API     JobAPI
	AutoJob AutoJobSetter
	Party   PartyView
	Solver  Solver
	Profile Profile
	Solo    Lane
	Crew    Lane
	Logger  *slog.Logger
}

type Pipeline struct {
	api     JobAPI
	autoJob AutoJobSetter
	party   PartyView
	solver  Solver
	profile Profile
	lanes   map[domain.Category]Lane
	log     *slog.Logger

	mu         sync.Mutex
	automation map[domain.Category]bool
}

func New(cfg Config) *Pipeline {
	return &Pipeline{
		api:     cfg.API,
		autoJob: cfg.AutoJob,
		party:   cfg.Party,
		solver:  cfg.Solver,
		profile: cfg.Profile,
		lanes: map[domain.Category]Lane{
			domain.CategorySolo:  cfg.Solo,
			domain.CategoryParty: cfg.Crew,
		},
		log:        logger.OrDefault(cfg.Logger),
		automation: map[domain.Category]bool{},
	}
}

// DoJob runs a solo job.
func (p *Pipeline) DoJob(ctx context.Context, jobID string) (domain.JobResult, error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.do_job",
		attribute.String("job.id", jobID),
		attribute.String("job.category", string(domain.CategorySolo)),
	)
	defer span.End()

	res, err := p.run(ctx, domain.CategorySolo, func(ctx context.Context) (domain.JobResult, error) {
		res, err := p.api.ExecuteJob(ctx, jobID)
		if err == nil && res.Player != nil && p.profile != nil {
			p.profile.UpdateProfile(*res.Player)
		}
		return res, err
	})
	observability.RecordError(span, err)
	return res, err
}

// DoPartyJob runs the current party's job. Only the leader of a complete crew gets past the
// local checks; the server checks again.
func (p *Pipeline) DoPartyJob(ctx context.Context) (domain.JobResult, error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.do_party_job",
		attribute.String("job.category", string(domain.CategoryParty)),
	)
	defer span.End()

	res, err := p.run(ctx, domain.CategoryParty, func(ctx context.Context) (domain.JobResult, error) {
		party := p.party.Party()
		if party == nil {
			return domain.JobResult{}, cjerrors.ErrNotInParty
		}
		if party.OwnerID != p.party.UserID() {
			return domain.JobResult{}, cjerrors.ErrNotLeader
		}
		if !party.IsComplete() {
			return domain.JobResult{}, cjerrors.ErrWaitingForCrew
		}
		span.SetAttributes(
			attribute.String("job.id", party.JobID),
			attribute.String("party.id", party.ID),
			attribute.Int("party.crew", len(party.Crew)),
		)
		res, err := p.api.ExecutePartyJob(ctx, party.JobID, party.MemberIDs())
		if err == nil {
			if _, rerr := p.party.Refresh(ctx); rerr != nil {
				p.log.Debug("refresh after party job failed", "error", rerr)
			}
		}
		return res, err
	})
	observability.RecordError(span, err)
	return res, err
}

type execFunc func(ctx context.Context) (domain.JobResult, error)

func (p *Pipeline) run(ctx context.Context, category domain.Category, exec execFunc) (domain.JobResult, error) {
	lane := p.lanes[category]
	d := lane.Gate.Attempt(p.Automation(category))
	switch d.Kind {
	case admission.Blocked:
		return domain.JobResult{}, cjerrors.Blocked(d.RemainingSeconds)
	case admission.ShowChallenge:
		return p.challenge(ctx, lane, exec)
	default:
		return p.execute(ctx, lane, exec)
	}
}

func (p *Pipeline) challenge(ctx context.Context, lane Lane, exec execFunc) (domain.JobResult, error) {
	var (
		out     domain.JobResult
		execErr error
	)
	ch := lane.Controller.Present(func(ctx context.Context) error {
		out, execErr = p.execute(ctx, lane, exec)
		return execErr
	})
	if p.solver == nil {
		_, _ = lane.Controller.ExpireChallenge(ctx, ch.ID)
		return domain.JobResult{}, cjerrors.ErrChallengeFailed
	}

	solveCtx, cancel := context.WithDeadline(ctx, ch.ExpiresAt)
	value, err := p.solver.Solve(solveCtx, ch)
	cancel()
	if err != nil {
		p.log.Debug("challenge not answered", "challenge_id", ch.ID, "error", err)
		_, _ = lane.Controller.ExpireChallenge(ctx, ch.ID)
		return domain.JobResult{}, cjerrors.ErrChallengeFailed
	}

	// ErrNoChallenge here means the expiry fired while the solver was deciding, or a
	// concurrent attempt presented a newer challenge.
	if res, _ := lane.Controller.ResolveChallenge(ctx, ch.ID, value); !res.Pass {
		return domain.JobResult{}, cjerrors.ErrChallengeFailed
	}
	return out, execErr
}

// execute performs the remote call and applies its outcome to the lane's cooldown.
func (p *Pipeline) execute(ctx context.Context, lane Lane, exec execFunc) (domain.JobResult, error) {
	res, err := exec(ctx)
	if err == nil {
		lane.Gate.ClearCooldown()
		return res, nil
	}

	var rl *cjerrors.RateLimitError
	if cjerrors.As(err, &rl) {
		p.log.Info("job rate limited", "code", rl.Code, "remaining_seconds", rl.RemainingSeconds)
		lane.Gate.StartCooldown(rl.RemainingSeconds)
		return res, rl
	}
	var coded *cjerrors.Error
	if cjerrors.As(err, &coded) {
		return res, err
	}
	p.log.Warn("job request failed", "error", err)
	return res, cjerrors.Transport(err)
}

// SetAutoJob stores jobID as the automated job for category and switches the category into
// automation mode, which skips the challenge draw.
func (p *Pipeline) SetAutoJob(ctx context.Context, category domain.Category, jobID string) error {
	if !category.Valid() {
		return cjerrors.Validation("unknown category " + string(category))
	}
	if p.autoJob == nil {
		return cjerrors.Internal("auto job setter not configured", nil)
	}
	if err := p.autoJob.SetPreferredAutoJob(ctx, category, jobID); err != nil {
		var coded *cjerrors.Error
		if cjerrors.As(err, &coded) {
			return err
		}
		return cjerrors.Transport(err)
	}
	p.EnableAutomation(category)
	p.log.Info("automation enabled", "category", category, "job_id", jobID)
	return nil
}

// EnableAutomation switches category into automation mode for an auto job stored earlier.
func (p *Pipeline) EnableAutomation(category domain.Category) {
	p.mu.Lock()
	p.automation[category] = true
	p.mu.Unlock()
}

// ClearAutoJob turns automation mode off for category.
func (p *Pipeline) ClearAutoJob(category domain.Category) {
	p.mu.Lock()
	delete(p.automation, category)
	p.mu.Unlock()
}

func (p *Pipeline) Automation(category domain.Category) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.automation[category]
}

// Lane returns the admission lane for category.
func (p *Pipeline) Lane(category domain.Category) Lane {
	return p.lanes[category]
}
