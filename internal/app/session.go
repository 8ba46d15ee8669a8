// Package app wires the client core (party coordinator, admission lanes, job pipeline) to
// the HTTP SDK, and opens the reference store for the serve command.
package app

import (
	"context"
	"log/slog"
	"sync"

	"crewjob/internal/admission"
	"crewjob/internal/config"
	"crewjob/internal/domain"
	"crewjob/internal/logger"
	"crewjob/internal/party"
	"crewjob/internal/pipeline"
	crewjobsdk "crewjob/sdk/go"
)

// SessionOptions customizes a Session. Zero values take the config defaults.
type SessionOptions struct {
	Solver pipeline.Solver
	// OnPartyExit runs when the player's party disappears from the store.
	OnPartyExit func()
	Logger      *slog.Logger
	// GateOptions and ControllerOptions apply to both lanes, e.g. fixed randomness in tests.
	GateOptions       []admission.GateOption
	ControllerOptions []admission.ControllerOption
}

// Session is one logged-in player's client state.
type Session struct {
	Client   *crewjobsdk.Client
	Party    *party.Coordinator
	Pipeline *pipeline.Pipeline
	Stats    *StatsCache

	cfg config.ClientConfig
	log *slog.Logger
}

// NewSession builds the client core for the player the client is logged in as.
func NewSession(cfg config.ClientConfig, client *crewjobsdk.Client, playerID string, opts SessionOptions) *Session {
	log := logger.OrDefault(opts.Logger).With("player_id", playerID)
	coord := party.NewCoordinator(client, playerID,
		party.WithLogger(log),
		party.WithOnExit(opts.OnPartyExit),
	)
	stats := &StatsCache{}
	solo := newLane(domain.CategorySolo, cfg.Challenge.Probability.Solo, cfg, client, log, opts)
	crew := newLane(domain.CategoryParty, cfg.Challenge.Probability.Party, cfg, client, log, opts)
	pipe := pipeline.New(pipeline.Config{
		API:     client,
		AutoJob: client,
		Party:   coord,
		Solver:  opts.Solver,
		Profile: stats,
		Solo:    solo,
		Crew:    crew,
		Logger:  log,
	})
	return &Session{
		Client:   client,
		Party:    coord,
		Pipeline: pipe,
		Stats:    stats,
		cfg:      cfg,
		log:      log,
	}
}

func newLane(category domain.Category, p float64, cfg config.ClientConfig, reporter admission.Reporter, log *slog.Logger, opts SessionOptions) pipeline.Lane {
	gateOpts := append([]admission.GateOption{admission.WithLogger(log)}, opts.GateOptions...)
	gate := admission.NewGate(category, p, gateOpts...)
	ctrlOpts := append([]admission.ControllerOption{
		admission.WithTimeout(cfg.Challenge.Timeout),
		admission.WithControllerLogger(log),
	}, opts.ControllerOptions...)
	return pipeline.Lane{
		Gate:       gate,
		Controller: admission.NewController(gate, reporter, ctrlOpts...),
	}
}

// Mount loads the profile and the party view, then keeps the party view polled until Close.
func (s *Session) Mount(ctx context.Context) error {
	if err := s.LoadProfile(ctx); err != nil {
		return err
	}
	return s.Party.Mount(ctx, s.cfg.PollInterval)
}

// LoadProfile caches the player's stats and puts every category with a stored auto job
// into automation mode.
func (s *Session) LoadProfile(ctx context.Context) error {
	prof, err := s.Client.Me(ctx)
	if err != nil {
		return err
	}
	s.Stats.UpdateProfile(prof.PlayerStats)
	for cat, jobID := range prof.AutoJobs {
		category := domain.Category(cat)
		if !category.Valid() {
			continue
		}
		s.Pipeline.EnableAutomation(category)
		s.log.Debug("automation restored", "category", cat, "job_id", jobID)
	}
	return nil
}

// Close tears the session down: polling stops and the cooldown timers are released.
// Party membership is untouched. A screen that only stops showing the party should call
// Party.Close instead, which leaves any cooldown running.
func (s *Session) Close() {
	s.Party.Close()
	for _, c := range []domain.Category{domain.CategorySolo, domain.CategoryParty} {
		s.Pipeline.Lane(c).Gate.Timer().Stop()
	}
}

// StatsCache holds the latest player stats seen by the client.
type StatsCache struct {
	mu    sync.Mutex
	stats domain.PlayerStats
	set   bool
}

func (c *StatsCache) UpdateProfile(stats domain.PlayerStats) {
	c.mu.Lock()
	c.stats = stats
	c.set = true
	c.mu.Unlock()
}

// Get returns the cached stats and whether any were recorded.
func (c *StatsCache) Get() (domain.PlayerStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats, c.set
}
