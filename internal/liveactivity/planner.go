package liveactivity

import (
	"sort"
	"time"
)

// PlannerConfig tunes prearm attempt planning. The numbers were tuned
// empirically against one platform's scheduling behavior; callers should
// treat them as configuration, not constants.
type PlannerConfig struct {
	// Offsets before target at which to attempt a create/refresh,
	// largest first.
	Offsets []time.Duration
	// MinLead is the hard floor: attempts with less lead than this before
	// the target are rejected outright (inclusive pass at exactly MinLead).
	MinLead time.Duration
	// FinalWindow protects the stretch immediately before the target;
	// candidates inside it are dropped.
	FinalWindow time.Duration
	// NudgeGuard and Nudge implement the minute-boundary rule: a candidate
	// whose seconds fall within NudgeGuard of the next minute boundary is
	// shifted Nudge earlier.
	NudgeGuard time.Duration
	Nudge      time.Duration
}

// DefaultPlannerConfig mirrors the tuned production values.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Offsets:     []time.Duration{120 * time.Second, 90 * time.Second, 60 * time.Second, 48 * time.Second},
		MinLead:     48 * time.Second,
		FinalWindow: 45 * time.Second,
		NudgeGuard:  5 * time.Second,
		Nudge:       2 * time.Second,
	}
}

// WithDefaults fills unset fields individually, so a caller overriding one
// knob keeps the tuned values for the rest.
func (c PlannerConfig) WithDefaults() PlannerConfig {
	d := DefaultPlannerConfig()
	if len(c.Offsets) == 0 {
		c.Offsets = d.Offsets
	}
	if c.MinLead <= 0 {
		c.MinLead = d.MinLead
	}
	if c.FinalWindow <= 0 {
		c.FinalWindow = d.FinalWindow
	}
	if c.NudgeGuard <= 0 {
		c.NudgeGuard = d.NudgeGuard
	}
	if c.Nudge <= 0 {
		c.Nudge = d.Nudge
	}
	return c
}

// PlannedAttempts returns the strictly ascending future instants at which a
// caller should attempt to create or refresh a stack's live activity before
// target. Earlier attempts are redundancy against missed ones while the app
// is suspended. The result may be empty.
func PlannedAttempts(cfg PlannerConfig, target, now time.Time) []time.Time {
	attempts := make([]time.Time, 0, len(cfg.Offsets))
	for _, off := range cfg.Offsets {
		candidate := target.Add(-off)

		// Nudge off the minute boundary: per-minute quiescence on the
		// platform makes attempts in the last few seconds of a minute
		// unreliable.
		if cfg.NudgeGuard > 0 {
			sec := time.Duration(candidate.Second())*time.Second + time.Duration(candidate.Nanosecond())
			if time.Minute-sec <= cfg.NudgeGuard {
				candidate = candidate.Add(-cfg.Nudge)
			}
		}

		if !candidate.After(now) {
			continue
		}
		lead := target.Sub(candidate)
		if lead < cfg.MinLead {
			continue
		}
		if lead < cfg.FinalWindow {
			continue
		}
		attempts = append(attempts, candidate)
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].Before(attempts[j]) })

	// Deduplicate; nudged candidates can collide.
	out := attempts[:0]
	for i, a := range attempts {
		if i > 0 && !a.After(out[len(out)-1]) {
			continue
		}
		out = append(out, a)
	}
	return out
}
