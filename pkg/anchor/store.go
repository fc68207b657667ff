package anchor

import (
	"context"
	"sync"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// Store persists anchor records, exactly one per action.
type Store interface {
	Insert(ctx context.Context, record *contracts.AnchorRecord) error
	GetByAction(ctx context.Context, actionID string) (*contracts.AnchorRecord, error)
	ListByBatch(ctx context.Context, batchID string) ([]*contracts.AnchorRecord, error)
}

// MemoryStore is the in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*contracts.AnchorRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*contracts.AnchorRecord)}
}

func (s *MemoryStore) Insert(ctx context.Context, record *contracts.AnchorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ActionID]; exists {
		return contracts.ErrAnchorExists
	}
	cp := *record
	cp.Verifiers = append([]string(nil), record.Verifiers...)
	s.records[record.ActionID] = &cp
	return nil
}

func (s *MemoryStore) GetByAction(ctx context.Context, actionID string) (*contracts.AnchorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[actionID]
	if !ok {
		return nil, contracts.ErrActionNotFound
	}
	cp := *record
	cp.Verifiers = append([]string(nil), record.Verifiers...)
	return &cp, nil
}

func (s *MemoryStore) ListByBatch(ctx context.Context, batchID string) ([]*contracts.AnchorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []*contracts.AnchorRecord
	for _, record := range s.records {
		if record.BatchID == batchID {
			cp := *record
			cp.Verifiers = append([]string(nil), record.Verifiers...)
			records = append(records, &cp)
		}
	}
	return records, nil
}
