// Package archive is the content-addressed evidence archive. Verification
// reports, execution logs and anchor batches are stored as immutable blobs
// keyed by their SHA-256 hash, so a stored hash is also proof of content.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chaoschain/chaoscore/pkg/canonicalize"
)

// ObjectStore stores immutable blobs by content hash.
type ObjectStore interface {
	// Store persists data and returns its "sha256:..." content hash.
	// Storing the same bytes twice is an idempotent no-op.
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves a blob by its content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists reports whether a blob is present.
	Exists(ctx context.Context, hash string) (bool, error)
}

// MemoryStore is the in-memory ObjectStore.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Store(ctx context.Context, data []byte) (string, error) {
	hash := contentHash(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blobs[hash]; !exists {
		s.blobs[hash] = append([]byte(nil), data...)
	}
	return hash, nil
}

func (s *MemoryStore) Get(ctx context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", hash)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Exists(ctx context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[hash]
	return ok, nil
}

func contentHash(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Archive stores structured evidence as canonical JSON blobs.
type Archive struct {
	store ObjectStore
}

// NewArchive wraps an object store.
func NewArchive(store ObjectStore) *Archive {
	return &Archive{store: store}
}

// SaveJSON canonicalizes v and stores it, returning the content hash.
// Identical values always produce the same hash regardless of field order.
func (a *Archive) SaveJSON(ctx context.Context, v any) (string, error) {
	data, err := canonicalize.JCS(v)
	if err != nil {
		return "", fmt.Errorf("canonicalization failed: %w", err)
	}
	return a.store.Store(ctx, data)
}

// LoadJSON retrieves a blob and unmarshals it into out.
func (a *Archive) LoadJSON(ctx context.Context, hash string, out any) error {
	data, err := a.store.Get(ctx, hash)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
