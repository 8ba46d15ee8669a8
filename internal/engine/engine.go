// Package engine implements the reference party store, job execution service and anti-bot
// verdict endpoint. It is authoritative for capacity races, leader checks, rate limits and
// automation restrictions; clients only mirror these rules for display.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"time"

	"crewjob/internal/config"
	"crewjob/internal/db"
	"crewjob/internal/domain"
	cjerrors "crewjob/internal/errors"
	"crewjob/internal/events"
	"crewjob/internal/logger"
	"crewjob/internal/repo"
)

type Engine struct {
	DB          *sql.DB
	Repo        repo.Repo
	EventWriter events.Writer
	Config      *config.Config
	Limits      *Limits
	Log         *slog.Logger
	Now         func() time.Time
}

func New(h db.Handle, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:          h.DB,
		Repo:        repo.New(h),
		EventWriter: events.Writer{Dialect: h.Dialect},
		Config:      cfg,
		Limits:      NewLimits(cfg.Server.RateLimits),
		Log:         logger.OrDefault(nil),
		Now:         time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	return logger.OrDefault(e.Log)
}

// Close releases the rate limiter goroutines. The database is owned by the caller.
func (e Engine) Close() {
	if e.Limits != nil {
		e.Limits.Stop()
	}
}

// Bootstrap seeds the job catalog from config.
func (e Engine) Bootstrap(ctx context.Context) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, j := range e.Config.Jobs {
		job := domain.JobDefinition{
			ID:             j.ID,
			Name:           j.Name,
			RequiredCrew:   j.RequiredCrew,
			RequiredLevel:  j.RequiredLevel,
			RequiredEnergy: j.RequiredEnergy,
		}
		if job.Name == "" {
			job.Name = job.ID
		}
		if err := e.Repo.UpsertJob(ctx, tx, job); err != nil {
			return fmt.Errorf("seed job %s: %w", j.ID, err)
		}
	}
	return tx.Commit()
}

// RegisterPlayer creates the player with the configured starting stats if unknown.
// level overrides the starting level when positive.
func (e Engine) RegisterPlayer(ctx context.Context, playerID, name string, level int) (repo.Player, error) {
	if playerID == "" {
		return repo.Player{}, cjerrors.Validation("player id is required")
	}
	if level <= 0 {
		level = e.Config.Server.StartingLevel
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return repo.Player{}, err
	}
	defer tx.Rollback()
	created, err := e.Repo.InsertPlayerIfMissing(ctx, tx, repo.Player{
		PlayerStats: domain.PlayerStats{ID: playerID, Name: name, Level: level, Energy: e.Config.Server.StartingEnergy},
		CreatedAt:   e.now(),
	})
	if err != nil {
		return repo.Player{}, err
	}
	if created {
		if err := e.EventWriter.Append(ctx, tx, events.PlayerRegistered, "player", playerID, playerID, events.EventPayload{"level": level}); err != nil {
			return repo.Player{}, err
		}
	}
	p, err := e.Repo.GetPlayerTx(ctx, tx, playerID)
	if err != nil {
		return repo.Player{}, err
	}
	return p, tx.Commit()
}

// Profile is the caller's player record as returned by GET /me.
type Profile struct {
	domain.PlayerStats
	RestrictedSeconds int               `json:"restricted_seconds"`
	AutoJobs          map[string]string `json:"auto_jobs,omitempty"`
}

func (e Engine) Profile(ctx context.Context, playerID string) (Profile, error) {
	p, err := e.Repo.GetPlayer(ctx, playerID)
	if err != nil {
		return Profile{}, err
	}
	auto, err := e.Repo.AutoJobs(ctx, playerID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		PlayerStats:       p.PlayerStats,
		RestrictedSeconds: ceilSeconds(p.RestrictedFor(e.now())),
		AutoJobs:          auto,
	}, nil
}

// ReportAutomation restricts playerID for the configured period after a failed challenge.
// A report during an active restriction extends it from now.
func (e Engine) ReportAutomation(ctx context.Context, playerID, reason string) (time.Time, error) {
	until := e.now().Add(e.Config.Server.Restriction)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetRestrictedUntil(ctx, tx, playerID, until); err != nil {
		return time.Time{}, err
	}
	if reason == "" {
		reason = "challenge_failed"
	}
	if err := e.EventWriter.Append(ctx, tx, events.PlayerRestricted, "player", playerID, playerID, events.EventPayload{
		"reason": reason,
		"until":  until.UTC().Format(time.RFC3339),
	}); err != nil {
		return time.Time{}, err
	}
	if err := tx.Commit(); err != nil {
		return time.Time{}, err
	}
	e.log().Warn("player restricted", "player_id", playerID, "reason", reason, "until", until)
	return until, nil
}

// SetAutoJob records jobID as the automated job of playerID for category.
func (e Engine) SetAutoJob(ctx context.Context, playerID string, category domain.Category, jobID string) error {
	if !category.Valid() {
		return cjerrors.Validation("category must be solo or party")
	}
	job, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Category() != category {
		return cjerrors.ValidationWithDetails("job category mismatch", map[string]string{
			"job_id":   jobID,
			"category": string(job.Category()),
		})
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertAutoJob(ctx, tx, playerID, category, jobID, e.now()); err != nil {
		return err
	}
	if err := e.EventWriter.Append(ctx, tx, events.AutoJobSet, "player", playerID, playerID, events.EventPayload{
		"category": category,
		"job_id":   jobID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListJobs(ctx context.Context) ([]domain.JobDefinition, error) {
	return e.Repo.ListJobs(ctx)
}

func (e Engine) GetJob(ctx context.Context, jobID string) (domain.JobDefinition, error) {
	return e.Repo.GetJob(ctx, jobID)
}

// Events returns events after cursor, or the latest ones when cursor is zero.
func (e Engine) Events(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	if cursor > 0 {
		return e.Repo.EventsAfter(ctx, limit, cursor)
	}
	return e.Repo.LatestEvents(ctx, limit)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
