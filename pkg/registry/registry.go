// Package registry is the durable, append-only record of agent actions and
// their lifecycle. It owns the Action and Outcome entities. Duplicate
// detection and status transitions are atomic: the store's unique constraint
// backs check-then-insert, and transitions are compare-and-swap on the
// current status so concurrent racers cannot both succeed.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chaoschain/chaoscore/pkg/canonicalize"
	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// Registry records actions and enforces the lifecycle state machine.
type Registry struct {
	actions  ActionStore
	outcomes OutcomeStore
	clock    func() time.Time
}

// New creates a Registry over the given stores.
func New(actions ActionStore, outcomes OutcomeStore) *Registry {
	return &Registry{actions: actions, outcomes: outcomes, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Record stores a new action in status Recorded and returns its id. If the
// id is empty one is generated. Re-recording an existing id with identical
// content is an idempotent no-op returning the same id; conflicting content
// fails with ErrDuplicateAction.
func (r *Registry) Record(ctx context.Context, action *contracts.Action) (string, error) {
	if action.AgentID == "" {
		return "", errors.New("action requires agent_id")
	}
	if action.ActionType == "" {
		return "", errors.New("action requires action_type")
	}
	if action.ActionID == "" {
		action.ActionID = uuid.New().String()
	}

	now := r.clock().UTC()
	action.Status = contracts.StatusRecorded
	action.CreatedAt = now
	action.UpdatedAt = now
	action.Version = 1

	err := r.actions.Insert(ctx, action)
	if err == nil {
		return action.ActionID, nil
	}
	if !errors.Is(err, contracts.ErrDuplicateAction) {
		return "", err
	}

	// Id exists: idempotent when content matches, hard error otherwise.
	existing, getErr := r.actions.Get(ctx, action.ActionID)
	if getErr != nil {
		return "", getErr
	}
	existingHash, hashErr := canonicalize.Hash(existing.ContentFingerprint())
	if hashErr != nil {
		return "", hashErr
	}
	newHash, hashErr := canonicalize.Hash(action.ContentFingerprint())
	if hashErr != nil {
		return "", hashErr
	}
	if existingHash == newHash {
		return existing.ActionID, nil
	}
	return "", fmt.Errorf("%w: action %s", contracts.ErrDuplicateAction, action.ActionID)
}

// Get returns an action by id.
func (r *Registry) Get(ctx context.Context, actionID string) (*contracts.Action, error) {
	return r.actions.Get(ctx, actionID)
}

// Query returns actions matching the filter, ordered by creation time then
// action id for deterministic pagination.
func (r *Registry) Query(ctx context.Context, filter contracts.ActionFilter, page contracts.Page) ([]*contracts.Action, error) {
	return r.actions.Query(ctx, filter, page)
}

// TransitionStatus moves an action to a new status. The transition must be
// a legal forward move from the action's current status; the swap is atomic
// on the current status, so of two racing transitions from the same source
// status exactly one succeeds.
func (r *Registry) TransitionStatus(ctx context.Context, actionID string, to contracts.ActionStatus) error {
	return r.transition(ctx, actionID, to, "")
}

// Reject moves an action to Rejected carrying the rejection reason.
func (r *Registry) Reject(ctx context.Context, actionID, reason string) error {
	return r.transition(ctx, actionID, contracts.StatusRejected, reason)
}

func (r *Registry) transition(ctx context.Context, actionID string, to contracts.ActionStatus, reason string) error {
	current, err := r.actions.Get(ctx, actionID)
	if err != nil {
		return err
	}
	if !contracts.CanTransition(current.Status, to) {
		return &contracts.TransitionError{ActionID: actionID, From: current.Status, To: to}
	}

	swapped, err := r.actions.CompareAndSwapStatus(ctx, actionID, current.Status, to, reason, r.clock().UTC())
	if err != nil {
		return err
	}
	if !swapped {
		// Lost a race: the action moved since we read it.
		moved, getErr := r.actions.Get(ctx, actionID)
		if getErr != nil {
			return getErr
		}
		return &contracts.TransitionError{ActionID: actionID, From: moved.Status, To: to}
	}
	return nil
}

// RecordOutcome persists an outcome for an action. At most one outcome may
// exist per action. Precondition checks (status, score range) belong to the
// outcome assessor; this is the storage-side uniqueness guarantee.
func (r *Registry) RecordOutcome(ctx context.Context, outcome *contracts.Outcome) (string, error) {
	if outcome.OutcomeID == "" {
		outcome.OutcomeID = uuid.New().String()
	}
	outcome.RecordedAt = r.clock().UTC()
	if err := r.outcomes.Insert(ctx, outcome); err != nil {
		return "", err
	}
	return outcome.OutcomeID, nil
}

// GetOutcome returns the outcome recorded for an action.
func (r *Registry) GetOutcome(ctx context.Context, actionID string) (*contracts.Outcome, error) {
	return r.outcomes.GetByAction(ctx, actionID)
}
