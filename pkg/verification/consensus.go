package verification

import (
	"context"
	"fmt"
	"sort"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// Vote is one verifier's verdict on an action.
type Vote struct {
	VerifierID string `json:"verifier_id"`
	Approve    bool   `json:"approve"`
	Reason     string `json:"reason,omitempty"`
}

// Coordinator settles an action from a set of independent verifier votes.
// The action transitions to Verified only when the approval quorum is met;
// otherwise it stays Recorded and can be re-submitted with more votes.
type Coordinator struct {
	actions ActionRegistry
	quorum  int
}

// NewCoordinator creates a Coordinator requiring `quorum` approvals. A
// quorum below one is clamped to one.
func NewCoordinator(actions ActionRegistry, quorum int) *Coordinator {
	if quorum < 1 {
		quorum = 1
	}
	return &Coordinator{actions: actions, quorum: quorum}
}

// Quorum returns the configured approval threshold.
func (c *Coordinator) Quorum() int {
	return c.quorum
}

// Decide tallies votes and transitions the action to Verified when the
// quorum is met, returning the approving verifier ids in deterministic
// order. One vote counts per verifier id; duplicates keep the first vote.
// Below quorum nothing moves and ErrConsensusNotReached is returned.
func (c *Coordinator) Decide(ctx context.Context, actionID string, votes []Vote) ([]string, error) {
	seen := make(map[string]bool, len(votes))
	var approvers []string
	for _, v := range votes {
		if v.VerifierID == "" || seen[v.VerifierID] {
			continue
		}
		seen[v.VerifierID] = true
		if v.Approve {
			approvers = append(approvers, v.VerifierID)
		}
	}

	if len(approvers) < c.quorum {
		return nil, fmt.Errorf("%w: %d of %d required approvals", contracts.ErrConsensusNotReached, len(approvers), c.quorum)
	}

	if err := c.actions.TransitionStatus(ctx, actionID, contracts.StatusVerified); err != nil {
		return nil, err
	}
	sort.Strings(approvers)
	return approvers, nil
}
