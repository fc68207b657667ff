// Package reward turns recorded outcomes into reward distributions. The
// split between the acting agent and its verifiers is a pluggable policy;
// distribution itself is exactly-once per action.
package reward

import (
	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// Roles carried on reward shares.
const (
	RolePrimary  = "primary"
	RoleVerifier = "verifier"
)

// Policy computes the reward split for one action.
type Policy interface {
	Shares(action *contracts.Action, outcome *contracts.Outcome, verifiers []string) []contracts.RewardShare
}

// ProportionalPolicy pays the acting agent the base reward scaled by impact,
// cut to a fraction on failure, and pays each approving verifier a fixed
// rate of the base reward.
type ProportionalPolicy struct {
	// BaseReward is the full reward for a successful, maximum-impact action.
	BaseReward float64
	// FailureMultiplier scales the primary share when the outcome failed.
	FailureMultiplier float64
	// VerifierRate is each verifier's share as a fraction of BaseReward.
	VerifierRate float64
}

// DefaultPolicy: base 100, failed outcomes pay a quarter, verifiers earn 10%
// of base each.
func DefaultPolicy() ProportionalPolicy {
	return ProportionalPolicy{
		BaseReward:        100.0,
		FailureMultiplier: 0.25,
		VerifierRate:      0.10,
	}
}

func (p ProportionalPolicy) Shares(action *contracts.Action, outcome *contracts.Outcome, verifiers []string) []contracts.RewardShare {
	multiplier := 1.0
	if !outcome.Success {
		multiplier = p.FailureMultiplier
	}

	shares := []contracts.RewardShare{{
		AgentID: action.AgentID,
		Amount:  p.BaseReward * outcome.ImpactScore * multiplier,
		Role:    RolePrimary,
	}}

	for _, verifier := range verifiers {
		shares = append(shares, contracts.RewardShare{
			AgentID: verifier,
			Amount:  p.BaseReward * p.VerifierRate,
			Role:    RoleVerifier,
		})
	}
	return shares
}
