package reward

import (
	"context"
	"sync"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// DistributionStore persists distributions, exactly one per action.
type DistributionStore interface {
	Insert(ctx context.Context, dist *contracts.Distribution) error
	GetByAction(ctx context.Context, actionID string) (*contracts.Distribution, error)
}

// MemoryDistributionStore is the in-memory DistributionStore.
type MemoryDistributionStore struct {
	mu            sync.RWMutex
	distributions map[string]*contracts.Distribution
}

// NewMemoryDistributionStore creates an empty store.
func NewMemoryDistributionStore() *MemoryDistributionStore {
	return &MemoryDistributionStore{distributions: make(map[string]*contracts.Distribution)}
}

func (s *MemoryDistributionStore) Insert(ctx context.Context, dist *contracts.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.distributions[dist.ActionID]; exists {
		return contracts.ErrAlreadyDistributed
	}
	cp := *dist
	cp.Shares = append([]contracts.RewardShare(nil), dist.Shares...)
	s.distributions[dist.ActionID] = &cp
	return nil
}

func (s *MemoryDistributionStore) GetByAction(ctx context.Context, actionID string) (*contracts.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dist, ok := s.distributions[actionID]
	if !ok {
		return nil, contracts.ErrActionNotFound
	}
	cp := *dist
	cp.Shares = append([]contracts.RewardShare(nil), dist.Shares...)
	return &cp, nil
}
