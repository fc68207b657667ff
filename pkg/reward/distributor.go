package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// ActionRegistry is the slice of the registry the distributor needs.
type ActionRegistry interface {
	Get(ctx context.Context, actionID string) (*contracts.Action, error)
	TransitionStatus(ctx context.Context, actionID string, to contracts.ActionStatus) error
	GetOutcome(ctx context.Context, actionID string) (*contracts.Outcome, error)
}

// AnchorSource resolves anchor records. Distribution requires one: the
// anchor proves the verified claim left the system, and its verifier set
// earns the verification shares.
type AnchorSource interface {
	GetRecord(ctx context.Context, actionID string) (*contracts.AnchorRecord, error)
}

// Distributor disburses rewards for actions with recorded outcomes, exactly
// once per action.
type Distributor struct {
	actions      ActionRegistry
	anchors      AnchorSource
	store        DistributionStore
	policy       Policy
	maxPerAction float64
	clock        func() time.Time
}

// NewDistributor creates a Distributor. maxPerAction caps the distributed
// total per action; shares are scaled down proportionally when the policy
// exceeds it. Zero disables the cap.
func NewDistributor(actions ActionRegistry, anchors AnchorSource, store DistributionStore, policy Policy, maxPerAction float64) *Distributor {
	return &Distributor{
		actions:      actions,
		anchors:      anchors,
		store:        store,
		policy:       policy,
		maxPerAction: maxPerAction,
		clock:        time.Now,
	}
}

// WithClock overrides the clock for testing.
func (d *Distributor) WithClock(clock func() time.Time) *Distributor {
	d.clock = clock
	return d
}

// Distribute computes and persists the reward split for an action and moves
// it to Rewarded. The action must carry a recorded outcome and an anchor
// record; a second call fails with ErrAlreadyDistributed.
func (d *Distributor) Distribute(ctx context.Context, actionID string) (*contracts.Distribution, error) {
	action, err := d.actions.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	switch action.Status {
	case contracts.StatusOutcomeRecorded:
		// Eligible.
	case contracts.StatusRewarded:
		return nil, fmt.Errorf("%w: action %s", contracts.ErrAlreadyDistributed, actionID)
	default:
		return nil, fmt.Errorf("action %s has no recorded outcome (status %s)", actionID, action.Status)
	}

	outcome, err := d.actions.GetOutcome(ctx, actionID)
	if err != nil {
		return nil, err
	}

	record, err := d.anchors.GetRecord(ctx, actionID)
	if err != nil {
		if errors.Is(err, contracts.ErrActionNotFound) {
			return nil, fmt.Errorf("%w: action %s", contracts.ErrActionNotAnchored, actionID)
		}
		return nil, err
	}

	shares := d.policy.Shares(action, outcome, record.Verifiers)
	total := 0.0
	for _, s := range shares {
		total += s.Amount
	}
	if d.maxPerAction > 0 && total > d.maxPerAction {
		scale := d.maxPerAction / total
		for i := range shares {
			shares[i].Amount *= scale
		}
		total = d.maxPerAction
	}

	dist := &contracts.Distribution{
		ActionID:      actionID,
		Shares:        shares,
		Total:         total,
		DistributedAt: d.clock().UTC(),
	}
	if err := d.store.Insert(ctx, dist); err != nil {
		return nil, err
	}

	if err := d.actions.TransitionStatus(ctx, actionID, contracts.StatusRewarded); err != nil {
		// The distribution is in; a racing transition to Rewarded is fine.
		if !errors.Is(err, contracts.ErrInvalidTransition) {
			return nil, err
		}
		moved, getErr := d.actions.Get(ctx, actionID)
		if getErr != nil {
			return nil, getErr
		}
		if moved.Status != contracts.StatusRewarded {
			return nil, err
		}
	}
	return dist, nil
}

// Get returns the distribution recorded for an action.
func (d *Distributor) Get(ctx context.Context, actionID string) (*contracts.Distribution, error) {
	return d.store.GetByAction(ctx, actionID)
}
