// Package reputation maintains per-agent, per-domain reputation scores
// derived from verified action outcomes. Scoring is a pure function of the
// previous score and the new outcome, so replaying the same outcome stream
// always produces the same scores.
package reputation

import (
	"math"
	"time"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// Params tune the scoring function. Zero values are replaced by defaults.
type Params struct {
	// InitialScore is the score assigned before any outcome is observed.
	InitialScore float64
	// MaxScore caps the score; the floor is always zero.
	MaxScore float64
	// SuccessGain scales the increase for a successful outcome.
	SuccessGain float64
	// FailurePenalty scales the decrease for a failed outcome.
	FailurePenalty float64
	// DecayHalfLife is the time for an untouched score to decay halfway
	// back to InitialScore. Zero disables decay.
	DecayHalfLife time.Duration
}

// DefaultParams are the scoring defaults: neutral start at 50 on a 0..100
// scale, failures weighted heavier than successes, 30-day half-life.
func DefaultParams() Params {
	return Params{
		InitialScore:   50,
		MaxScore:       100,
		SuccessGain:    5,
		FailurePenalty: 8,
		DecayHalfLife:  30 * 24 * time.Hour,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.InitialScore == 0 {
		p.InitialScore = d.InitialScore
	}
	if p.MaxScore == 0 {
		p.MaxScore = d.MaxScore
	}
	if p.SuccessGain == 0 {
		p.SuccessGain = d.SuccessGain
	}
	if p.FailurePenalty == 0 {
		p.FailurePenalty = d.FailurePenalty
	}
	return p
}

// Apply folds one outcome into a score. prev may be the zero value for an
// agent's first outcome in a domain. The result is clamped to
// [0, MaxScore] and is deterministic for identical inputs.
func Apply(prev contracts.ReputationScore, success bool, impact float64, at time.Time, p Params) contracts.ReputationScore {
	p = p.withDefaults()

	base := p.InitialScore
	if !prev.LastUpdated.IsZero() {
		base = decayToward(prev.Score, p.InitialScore, at.Sub(prev.LastUpdated), p.DecayHalfLife)
	}

	// Impact scales the step: a zero-impact outcome still moves the score
	// half a step, a full-impact outcome a whole one.
	step := 0.5 + 0.5*impact
	var delta float64
	if success {
		delta = p.SuccessGain * step
	} else {
		delta = -p.FailurePenalty * step
	}

	score := math.Max(0, math.Min(p.MaxScore, base+delta))
	return contracts.ReputationScore{
		AgentID:     prev.AgentID,
		Domain:      prev.Domain,
		Score:       score,
		SampleCount: prev.SampleCount + 1,
		LastUpdated: at.UTC(),
		Version:     prev.Version + 1,
	}
}

// Decayed returns the score as of `at` without folding in a new outcome.
func Decayed(s contracts.ReputationScore, at time.Time, p Params) float64 {
	p = p.withDefaults()
	if s.LastUpdated.IsZero() {
		return p.InitialScore
	}
	return decayToward(s.Score, p.InitialScore, at.Sub(s.LastUpdated), p.DecayHalfLife)
}

// decayToward pulls a score exponentially back to the baseline: after one
// half-life half the deviation remains.
func decayToward(score, baseline float64, elapsed time.Duration, halfLife time.Duration) float64 {
	if halfLife <= 0 || elapsed <= 0 {
		return score
	}
	factor := math.Pow(0.5, elapsed.Hours()/halfLife.Hours())
	return baseline + (score-baseline)*factor
}
