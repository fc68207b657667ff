// Package outcome records the observed result of verified actions: whether
// the action succeeded in the world and how much impact it had. Outcomes are
// the input signal for reputation and rewards, so an outcome is accepted
// only for actions that passed verification.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// ActionRegistry is the slice of the registry the assessor needs.
type ActionRegistry interface {
	Get(ctx context.Context, actionID string) (*contracts.Action, error)
	TransitionStatus(ctx context.Context, actionID string, to contracts.ActionStatus) error
	RecordOutcome(ctx context.Context, outcome *contracts.Outcome) (string, error)
	GetOutcome(ctx context.Context, actionID string) (*contracts.Outcome, error)
}

// EventSink receives outcome events, typically to feed reputation updates.
// A nil sink drops events.
type EventSink interface {
	OutcomeRecorded(ctx context.Context, action *contracts.Action, outcome *contracts.Outcome) error
}

// Assessor owns the outcome step of the action lifecycle.
type Assessor struct {
	actions ActionRegistry
	sink    EventSink
	clock   func() time.Time
}

// NewAssessor creates an Assessor publishing outcome events to sink.
func NewAssessor(actions ActionRegistry, sink EventSink) *Assessor {
	return &Assessor{actions: actions, sink: sink, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (a *Assessor) WithClock(clock func() time.Time) *Assessor {
	a.clock = clock
	return a
}

// Record stores the outcome of an action. The action must have passed
// verification, the impact score must lie in [0, 1], and at most one outcome
// may exist per action. On success the action advances to Outcome-Recorded
// and the event is published to the sink.
func (a *Assessor) Record(ctx context.Context, actionID string, success bool, impact float64, results contracts.Payload) (*contracts.Outcome, error) {
	if impact < 0 || impact > 1 {
		return nil, fmt.Errorf("%w: impact score %v outside [0, 1]", contracts.ErrOutOfRange, impact)
	}

	action, err := a.actions.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if !eligibleForOutcome(action.Status) {
		return nil, fmt.Errorf("%w: action %s has status %s", contracts.ErrActionNotVerified, actionID, action.Status)
	}

	out := &contracts.Outcome{
		ActionID:    actionID,
		Success:     success,
		ImpactScore: impact,
		Results:     results,
	}
	if _, err := a.actions.RecordOutcome(ctx, out); err != nil {
		return nil, err
	}

	if err := a.actions.TransitionStatus(ctx, actionID, contracts.StatusOutcomeRecorded); err != nil {
		// The outcome row is already in; a racing transition is tolerable as
		// long as the action ended up at Outcome-Recorded or beyond.
		if !errors.Is(err, contracts.ErrInvalidTransition) {
			return nil, err
		}
		moved, getErr := a.actions.Get(ctx, actionID)
		if getErr != nil {
			return nil, getErr
		}
		if moved.Status != contracts.StatusOutcomeRecorded && moved.Status != contracts.StatusRewarded {
			return nil, err
		}
	}

	if a.sink != nil {
		if err := a.sink.OutcomeRecorded(ctx, action, out); err != nil {
			return nil, fmt.Errorf("outcome recorded but event publish failed: %w", err)
		}
	}
	return out, nil
}

// Get returns the outcome recorded for an action.
func (a *Assessor) Get(ctx context.Context, actionID string) (*contracts.Outcome, error) {
	return a.actions.GetOutcome(ctx, actionID)
}

// eligibleForOutcome: verification must have passed. Anchoring is not a
// precondition; outcomes often land before the anchor batch settles.
func eligibleForOutcome(s contracts.ActionStatus) bool {
	switch s {
	case contracts.StatusVerified, contracts.StatusAnchored:
		return true
	default:
		return false
	}
}
