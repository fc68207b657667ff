package reputation

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestApplyFirstOutcome(t *testing.T) {
	prev := contracts.ReputationScore{AgentID: "agent-1", Domain: "ANALYZE"}

	next := Apply(prev, true, 1.0, t0, DefaultParams())
	require.InDelta(t, 55, next.Score, 1e-9)
	require.Equal(t, 1, next.SampleCount)
	require.Equal(t, uint64(1), next.Version)

	next = Apply(prev, false, 1.0, t0, DefaultParams())
	require.InDelta(t, 42, next.Score, 1e-9)
}

func TestApplyImpactScalesStep(t *testing.T) {
	prev := contracts.ReputationScore{AgentID: "agent-1", Domain: "ANALYZE"}

	full := Apply(prev, true, 1.0, t0, DefaultParams())
	zero := Apply(prev, true, 0.0, t0, DefaultParams())
	require.Greater(t, full.Score, zero.Score)
	require.Greater(t, zero.Score, DefaultParams().InitialScore)
}

func TestApplyDecayPullsTowardBaseline(t *testing.T) {
	p := DefaultParams()
	prev := contracts.ReputationScore{
		AgentID:     "agent-1",
		Domain:      "ANALYZE",
		Score:       90,
		SampleCount: 10,
		LastUpdated: t0,
		Version:     10,
	}

	// One half-life later half the deviation from baseline is gone.
	require.InDelta(t, 70, Decayed(prev, t0.Add(p.DecayHalfLife), p), 1e-6)
	// Decay never crosses the baseline.
	require.Greater(t, Decayed(prev, t0.Add(100*p.DecayHalfLife), p), p.InitialScore-1e-6)
}

func TestApplyFloorsAtZero(t *testing.T) {
	prev := contracts.ReputationScore{
		AgentID:     "agent-1",
		Domain:      "ANALYZE",
		Score:       2,
		SampleCount: 3,
		LastUpdated: t0,
		Version:     3,
	}
	next := Apply(prev, false, 1.0, t0.Add(time.Hour), DefaultParams())
	require.Equal(t, 0.0, next.Score)
}

func TestApplyDeterministic(t *testing.T) {
	prev := contracts.ReputationScore{AgentID: "agent-1", Domain: "ANALYZE"}
	a := Apply(prev, true, 0.37, t0, DefaultParams())
	b := Apply(prev, true, 0.37, t0, DefaultParams())
	require.Equal(t, a, b)
}

func TestScoreBoundsProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("any outcome sequence keeps the score in [0, max]", prop.ForAll(
		func(successes []bool, impacts []float64) bool {
			p := DefaultParams()
			score := contracts.ReputationScore{AgentID: "agent-1", Domain: "ANALYZE"}
			at := t0
			n := len(successes)
			if len(impacts) < n {
				n = len(impacts)
			}
			for i := 0; i < n; i++ {
				at = at.Add(time.Hour)
				score = Apply(score, successes[i], impacts[i], at, p)
				if score.Score < 0 || score.Score > p.MaxScore {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
		gen.SliceOf(gen.Float64Range(0, 1)),
	))

	properties.Property("replaying a sequence reproduces the score", prop.ForAll(
		func(impacts []float64) bool {
			p := DefaultParams()
			run := func() contracts.ReputationScore {
				score := contracts.ReputationScore{AgentID: "agent-1", Domain: "ANALYZE"}
				at := t0
				for i, impact := range impacts {
					at = at.Add(time.Duration(i+1) * time.Minute)
					score = Apply(score, i%2 == 0, impact, at, p)
				}
				return score
			}
			return run() == run()
		},
		gen.SliceOf(gen.Float64Range(0, 1)),
	))

	properties.TestingRun(t)
}
