package attestation

import (
	"context"
	"sync"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// Store persists attestations. One attestation per execution is enforced at
// this layer.
type Store interface {
	Put(ctx context.Context, att *contracts.Attestation) error
	Get(ctx context.Context, attestationID string) (*contracts.Attestation, error)
	GetByExecution(ctx context.Context, executionID string) (*contracts.Attestation, error)
	UpdateStatus(ctx context.Context, attestationID string, status contracts.AttestationStatus) error
}

// MemoryStore is the in-memory Store used in tests and single-node setups.
type MemoryStore struct {
	mu          sync.RWMutex
	byID        map[string]*contracts.Attestation
	byExecution map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[string]*contracts.Attestation),
		byExecution: make(map[string]string),
	}
}

func (s *MemoryStore) Put(ctx context.Context, att *contracts.Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.byExecution[att.ExecutionID]; ok && existingID != att.AttestationID {
		return contracts.ErrAttestationInvalid
	}
	cp := *att
	s.byID[att.AttestationID] = &cp
	s.byExecution[att.ExecutionID] = att.AttestationID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, attestationID string) (*contracts.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	att, ok := s.byID[attestationID]
	if !ok {
		return nil, contracts.ErrAttestationNotFound
	}
	cp := *att
	return &cp, nil
}

func (s *MemoryStore) GetByExecution(ctx context.Context, executionID string) (*contracts.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExecution[executionID]
	if !ok {
		return nil, contracts.ErrAttestationNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, attestationID string, status contracts.AttestationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.byID[attestationID]
	if !ok {
		return contracts.ErrAttestationNotFound
	}
	att.Status = status
	return nil
}
