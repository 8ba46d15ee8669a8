// Package admission decides whether a privileged action may reach the server: it runs the
// probabilistic challenge draw, honors cooldowns and resolves challenges.
//
// The challenge is a speed bump only. Its answer lives on the client; the real defense is
// the server-side restriction applied when a challenge fails.
package admission

import (
	"log/slog"
	"math/rand/v2"
	"sync"

	"crewjob/internal/cooldown"
	"crewjob/internal/domain"
	"crewjob/internal/logger"
)

// Observed trigger probabilities per category.
const (
	DefaultSoloProbability  = 0.03
	DefaultPartyProbability = 0.05
)

type DecisionKind int

const (
	Proceed DecisionKind = iota
	ShowChallenge
	Blocked
)

func (k DecisionKind) String() string {
	switch k {
	case Proceed:
		return "proceed"
	case ShowChallenge:
		return "show_challenge"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Gate.Attempt. RemainingSeconds is set for Blocked.
type Decision struct {
	Kind             DecisionKind
	RemainingSeconds int
}

// Gate owns the admission state of one action category.
type Gate struct {
	category    domain.Category
	probability float64
	draw        func() float64
	timer       *cooldown.Timer
	log         *slog.Logger

	mu            sync.Mutex
	captchaActive bool
}

type GateOption func(*Gate)

// WithRandom replaces the uniform [0,1) source used for the challenge draw.
func WithRandom(draw func() float64) GateOption {
	return func(g *Gate) { g.draw = draw }
}

// WithTimer supplies the cooldown timer, e.g. one driven manually in tests.
func WithTimer(t *cooldown.Timer) GateOption {
	return func(g *Gate) { g.timer = t }
}

func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.log = l }
}

// NewGate returns a gate for category that draws a challenge with probability p.
func NewGate(category domain.Category, p float64, opts ...GateOption) *Gate {
	g := &Gate{
		category:    category,
		probability: p,
		draw:        rand.Float64,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.timer == nil {
		g.timer = cooldown.New(cooldown.DefaultInterval)
	}
	g.log = logger.OrDefault(g.log).With("category", string(category))
	g.timer.OnComplete(func() {
		g.log.Debug("cooldown complete, admission restored")
	})
	return g
}

func (g *Gate) Category() domain.Category { return g.category }

func (g *Gate) Probability() float64 { return g.probability }

// Attempt decides what happens to one request of this category.
func (g *Gate) Attempt(automation bool) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer.Active() {
		return Decision{Kind: Blocked, RemainingSeconds: g.timer.Remaining()}
	}
	if automation {
		return Decision{Kind: Proceed}
	}
	if g.captchaActive {
		return Decision{Kind: ShowChallenge}
	}
	if g.draw() < g.probability {
		g.captchaActive = true
		return Decision{Kind: ShowChallenge}
	}
	return Decision{Kind: Proceed}
}

// StartCooldown blocks the category for seconds, dropping any pending captcha.
// A fresh call supersedes a countdown in flight.
func (g *Gate) StartCooldown(seconds int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captchaActive = false
	if seconds <= 0 {
		g.timer.Stop()
		return
	}
	g.log.Info("cooldown started", "seconds", seconds)
	g.timer.Start(seconds)
}

// ClearCooldown lifts the block without waiting for the countdown.
func (g *Gate) ClearCooldown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timer.Stop()
}

// OnRestored registers fn to run when a cooldown elapses.
func (g *Gate) OnRestored(fn func()) {
	g.timer.OnComplete(fn)
}

// Timer exposes the cooldown for display (remaining seconds, pause toggle).
func (g *Gate) Timer() *cooldown.Timer { return g.timer }

// State returns a snapshot of the admission state.
func (g *Gate) State() domain.AdmissionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	active := g.timer.Active()
	return domain.AdmissionState{
		CaptchaActive: g.captchaActive,
		Cooldown: domain.CooldownState{
			Active:           active,
			RemainingSeconds: g.timer.Remaining(),
		},
	}
}

// beginChallenge marks a captcha pending unless a cooldown holds the category.
func (g *Gate) beginChallenge() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer.Active() {
		return false
	}
	g.captchaActive = true
	return true
}

func (g *Gate) clearCaptcha() {
	g.mu.Lock()
	g.captchaActive = false
	g.mu.Unlock()
}
