package executor

import (
	"context"
	"sync"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// ExecutionStore persists execution records.
type ExecutionStore interface {
	Put(ctx context.Context, exec *contracts.Execution) error
	Get(ctx context.Context, executionID string) (*contracts.Execution, error)
}

// MemoryExecutionStore is the in-memory ExecutionStore.
type MemoryExecutionStore struct {
	mu    sync.RWMutex
	execs map[string]*contracts.Execution
}

// NewMemoryExecutionStore creates an empty store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{execs: make(map[string]*contracts.Execution)}
}

func (s *MemoryExecutionStore) Put(ctx context.Context, exec *contracts.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exec
	s.execs[exec.ExecutionID] = &cp
	return nil
}

func (s *MemoryExecutionStore) Get(ctx context.Context, executionID string) (*contracts.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.execs[executionID]
	if !ok {
		return nil, contracts.ErrExecutionNotFound
	}
	cp := *exec
	return &cp, nil
}
