package engine

import (
	"crewjob/internal/config"
	"crewjob/internal/domain"
	"crewjob/internal/ratelimit"
)

// Limits holds the execution token buckets. Automated runs draw from their own bucket.
type Limits struct {
	Solo       *ratelimit.KeyedRateLimiter
	Party      *ratelimit.KeyedRateLimiter
	Automation *ratelimit.KeyedRateLimiter
}

func NewLimits(cfg config.RateLimitConfig, opts ...ratelimit.Option) *Limits {
	return &Limits{
		Solo:       ratelimit.New(cfg.Solo.Every, cfg.Solo.Burst, opts...),
		Party:      ratelimit.New(cfg.Party.Every, cfg.Party.Burst, opts...),
		Automation: ratelimit.New(cfg.Automation.Every, cfg.Automation.Burst, opts...),
	}
}

// Allow takes one execution token for (playerID, category).
func (l *Limits) Allow(playerID string, category domain.Category, automated bool) (bool, int) {
	key := playerID + ":" + string(category)
	switch {
	case automated:
		return l.Automation.Allow(key)
	case category == domain.CategoryParty:
		return l.Party.Allow(key)
	default:
		return l.Solo.Allow(key)
	}
}

func (l *Limits) Stop() {
	l.Solo.Stop()
	l.Party.Stop()
	l.Automation.Stop()
}
