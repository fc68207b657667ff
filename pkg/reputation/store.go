package reputation

import (
	"context"
	"sync"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// ScoreStore persists reputation scores. CompareAndSwap must be atomic with
// respect to concurrent updates of the same (agent, domain) pair.
type ScoreStore interface {
	// Get returns the current score, or ErrAgentUnknown when the pair has
	// never been scored.
	Get(ctx context.Context, agentID, domain string) (contracts.ReputationScore, error)
	// CompareAndSwap writes the score if the stored version still equals
	// expectedVersion (zero for a first write). A false return with nil
	// error means a concurrent writer got there first.
	CompareAndSwap(ctx context.Context, score contracts.ReputationScore, expectedVersion uint64) (bool, error)
	// ListByDomain returns all scores in a domain, in no particular order.
	ListByDomain(ctx context.Context, domain string) ([]contracts.ReputationScore, error)
}

type scoreKey struct {
	agentID string
	domain  string
}

// MemoryScoreStore is the in-memory ScoreStore.
type MemoryScoreStore struct {
	mu     sync.RWMutex
	scores map[scoreKey]contracts.ReputationScore
}

// NewMemoryScoreStore creates an empty store.
func NewMemoryScoreStore() *MemoryScoreStore {
	return &MemoryScoreStore{scores: make(map[scoreKey]contracts.ReputationScore)}
}

func (s *MemoryScoreStore) Get(ctx context.Context, agentID, domain string) (contracts.ReputationScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[scoreKey{agentID, domain}]
	if !ok {
		return contracts.ReputationScore{}, contracts.ErrAgentUnknown
	}
	return score, nil
}

func (s *MemoryScoreStore) CompareAndSwap(ctx context.Context, score contracts.ReputationScore, expectedVersion uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scoreKey{score.AgentID, score.Domain}
	current, exists := s.scores[key]
	if exists && current.Version != expectedVersion {
		return false, nil
	}
	if !exists && expectedVersion != 0 {
		return false, nil
	}
	s.scores[key] = score
	return true, nil
}

func (s *MemoryScoreStore) ListByDomain(ctx context.Context, domain string) ([]contracts.ReputationScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var scores []contracts.ReputationScore
	for key, score := range s.scores {
		if key.domain == domain {
			scores = append(scores, score)
		}
	}
	return scores, nil
}
