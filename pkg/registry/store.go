package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// ActionStore persists actions. Insert must be atomic with respect to
// duplicate ids (unique constraint or equivalent); CompareAndSwapStatus must
// be atomic with respect to concurrent transitions.
type ActionStore interface {
	Insert(ctx context.Context, action *contracts.Action) error
	Get(ctx context.Context, actionID string) (*contracts.Action, error)
	Query(ctx context.Context, filter contracts.ActionFilter, page contracts.Page) ([]*contracts.Action, error)
	// CompareAndSwapStatus transitions actionID from `from` to `to` and
	// returns whether the swap happened. A false return with nil error means
	// the action was not in `from` anymore.
	CompareAndSwapStatus(ctx context.Context, actionID string, from, to contracts.ActionStatus, reason string, at time.Time) (bool, error)
}

// OutcomeStore persists outcomes, at most one per action.
type OutcomeStore interface {
	Insert(ctx context.Context, outcome *contracts.Outcome) error
	GetByAction(ctx context.Context, actionID string) (*contracts.Outcome, error)
}

// MemoryActionStore is the in-memory ActionStore.
type MemoryActionStore struct {
	mu      sync.RWMutex
	actions map[string]*contracts.Action
}

// NewMemoryActionStore creates an empty store.
func NewMemoryActionStore() *MemoryActionStore {
	return &MemoryActionStore{actions: make(map[string]*contracts.Action)}
}

func (s *MemoryActionStore) Insert(ctx context.Context, action *contracts.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actions[action.ActionID]; exists {
		return contracts.ErrDuplicateAction
	}
	cp := cloneAction(action)
	s.actions[action.ActionID] = cp
	return nil
}

func (s *MemoryActionStore) Get(ctx context.Context, actionID string) (*contracts.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	action, ok := s.actions[actionID]
	if !ok {
		return nil, contracts.ErrActionNotFound
	}
	return cloneAction(action), nil
}

func (s *MemoryActionStore) Query(ctx context.Context, filter contracts.ActionFilter, page contracts.Page) ([]*contracts.Action, error) {
	s.mu.RLock()
	matched := make([]*contracts.Action, 0)
	for _, action := range s.actions {
		if filter.AgentID != "" && action.AgentID != filter.AgentID {
			continue
		}
		if filter.ActionType != "" && action.ActionType != filter.ActionType {
			continue
		}
		if filter.Status != "" && action.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && action.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && action.CreatedAt.After(filter.Until) {
			continue
		}
		matched = append(matched, cloneAction(action))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ActionID < matched[j].ActionID
	})

	return paginate(matched, page), nil
}

func (s *MemoryActionStore) CompareAndSwapStatus(ctx context.Context, actionID string, from, to contracts.ActionStatus, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[actionID]
	if !ok {
		return false, contracts.ErrActionNotFound
	}
	if action.Status != from {
		return false, nil
	}
	action.Status = to
	if reason != "" {
		action.RejectReason = reason
	}
	action.UpdatedAt = at
	action.Version++
	return true, nil
}

func paginate(actions []*contracts.Action, page contracts.Page) []*contracts.Action {
	if page.Offset > 0 {
		if page.Offset >= len(actions) {
			return nil
		}
		actions = actions[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(actions) {
		actions = actions[:page.Limit]
	}
	return actions
}

func cloneAction(a *contracts.Action) *contracts.Action {
	cp := *a
	if a.Inputs != nil {
		cp.Inputs = make(contracts.Payload, len(a.Inputs))
		for k, v := range a.Inputs {
			cp.Inputs[k] = v
		}
	}
	if a.Outputs != nil {
		cp.Outputs = make(contracts.Payload, len(a.Outputs))
		for k, v := range a.Outputs {
			cp.Outputs[k] = v
		}
	}
	return &cp
}

// MemoryOutcomeStore is the in-memory OutcomeStore.
type MemoryOutcomeStore struct {
	mu       sync.RWMutex
	outcomes map[string]*contracts.Outcome
}

// NewMemoryOutcomeStore creates an empty store.
func NewMemoryOutcomeStore() *MemoryOutcomeStore {
	return &MemoryOutcomeStore{outcomes: make(map[string]*contracts.Outcome)}
}

func (s *MemoryOutcomeStore) Insert(ctx context.Context, outcome *contracts.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.outcomes[outcome.ActionID]; exists {
		return contracts.ErrOutcomeExists
	}
	cp := *outcome
	s.outcomes[outcome.ActionID] = &cp
	return nil
}

func (s *MemoryOutcomeStore) GetByAction(ctx context.Context, actionID string) (*contracts.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outcome, ok := s.outcomes[actionID]
	if !ok {
		return nil, contracts.ErrActionNotFound
	}
	cp := *outcome
	return &cp, nil
}
