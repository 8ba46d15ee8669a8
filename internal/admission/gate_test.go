package admission

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewjob/internal/cooldown"
	"crewjob/internal/domain"
	"crewjob/internal/logger"
)

func newTestGate(p float64, draw func() float64) *Gate {
	return NewGate(domain.CategorySolo, p,
		WithTimer(cooldown.New(0)),
		WithRandom(draw),
		WithLogger(logger.Discard()),
	)
}

func always(v float64) func() float64 { return func() float64 { return v } }

func TestGate_ProceedsWhenDrawMisses(t *testing.T) {
	g := newTestGate(0.03, always(0.5))
	assert.Equal(t, Decision{Kind: Proceed}, g.Attempt(false))
	assert.False(t, g.State().CaptchaActive)
}

func TestGate_ShowsChallengeWhenDrawHits(t *testing.T) {
	g := newTestGate(0.03, always(0.01))
	assert.Equal(t, ShowChallenge, g.Attempt(false).Kind)
	assert.True(t, g.State().CaptchaActive)

	// a pending captcha keeps asking until it is resolved
	g.draw = always(0.99)
	assert.Equal(t, ShowChallenge, g.Attempt(false).Kind)
}

func TestGate_AutomationBypassesChallenge(t *testing.T) {
	src := rand.New(rand.NewPCG(7, 11))
	g := newTestGate(1.0, src.Float64)
	shown := 0
	for i := 0; i < 1000; i++ {
		if g.Attempt(true).Kind == ShowChallenge {
			shown++
		}
	}
	assert.Zero(t, shown)
}

func TestGate_ChallengeRateMatchesProbability(t *testing.T) {
	for _, p := range []float64{DefaultSoloProbability, DefaultPartyProbability} {
		src := rand.New(rand.NewPCG(42, 99))
		g := newTestGate(p, src.Float64)
		const n = 100000
		shown := 0
		for i := 0; i < n; i++ {
			if g.Attempt(false).Kind == ShowChallenge {
				shown++
				g.clearCaptcha()
			}
		}
		rate := float64(shown) / n
		assert.InDelta(t, p, rate, 0.005, "p=%v", p)
	}
}

func TestGate_CooldownBlocksThenRestores(t *testing.T) {
	g := newTestGate(0, always(0.5))
	restored := 0
	g.OnRestored(func() { restored++ })

	g.StartCooldown(12)
	for want := 12; want > 0; want-- {
		d := g.Attempt(false)
		require.Equal(t, Blocked, d.Kind)
		require.Equal(t, want, d.RemainingSeconds)
		g.Timer().Tick()
	}
	assert.Equal(t, Decision{Kind: Proceed}, g.Attempt(false))
	assert.Equal(t, 1, restored)
}

func TestGate_CooldownBlocksAutomationToo(t *testing.T) {
	g := newTestGate(0, always(0.5))
	g.StartCooldown(3)
	assert.Equal(t, Blocked, g.Attempt(true).Kind)
}

func TestGate_CaptchaAndCooldownMutuallyExclusive(t *testing.T) {
	g := newTestGate(1.0, always(0))
	require.Equal(t, ShowChallenge, g.Attempt(false).Kind)
	require.True(t, g.State().CaptchaActive)

	g.StartCooldown(5)
	st := g.State()
	assert.False(t, st.CaptchaActive)
	assert.True(t, st.Cooldown.Active)
	assert.Equal(t, 5, st.Cooldown.RemainingSeconds)

	assert.False(t, g.beginChallenge())
	st = g.State()
	assert.False(t, st.CaptchaActive && st.Cooldown.Active)
}

func TestGate_ClearCooldown(t *testing.T) {
	g := newTestGate(0, always(0.5))
	g.StartCooldown(30)
	g.ClearCooldown()
	assert.Equal(t, Proceed, g.Attempt(false).Kind)

	g.StartCooldown(0)
	assert.False(t, g.State().Cooldown.Active)
}
