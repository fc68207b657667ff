// Package anchor commits verified actions to an external append-only
// ledger and keeps the resulting anchor records. Anchoring is idempotent
// per action: the first successful submission wins and every later attempt
// returns the same ledger reference.
package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// LedgerStatus reports the standing of a submitted reference.
type LedgerStatus string

const (
	// LedgerConfirmed means the reference is durably committed.
	LedgerConfirmed LedgerStatus = "CONFIRMED"
	// LedgerUnknown means the ledger has no entry for the reference.
	LedgerUnknown LedgerStatus = "UNKNOWN"
)

// Ledger is the external commitment target. Submit must be atomic: a
// returned reference means the payload is durably committed.
type Ledger interface {
	Submit(ctx context.Context, payloadHash string, meta map[string]any) (ref string, err error)
	GetStatus(ctx context.Context, ref string) (LedgerStatus, error)
}

// chainEntry is an immutable, hash-chained ledger entry.
type chainEntry struct {
	Sequence    uint64         `json:"sequence"`
	PayloadHash string         `json:"payload_hash"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
	Timestamp   time.Time      `json:"timestamp"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// ChainLedger is an in-process, append-only, hash-chained ledger. It stands
// in for an external chain in tests and single-node deployments; the chain
// head commits the full history.
type ChainLedger struct {
	mu       sync.RWMutex
	entries  []chainEntry
	headHash string
	clock    func() time.Time
}

// NewChainLedger creates an empty ledger with a genesis head.
func NewChainLedger() *ChainLedger {
	return &ChainLedger{
		entries:  make([]chainEntry, 0),
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (l *ChainLedger) WithClock(clock func() time.Time) *ChainLedger {
	l.clock = clock
	return l
}

// Submit appends a commitment and returns its reference.
func (l *ChainLedger) Submit(ctx context.Context, payloadHash string, meta map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1
	hashInput := struct {
		Seq      uint64 `json:"seq"`
		Payload  string `json:"payload"`
		PrevHash string `json:"prev"`
	}{seq, payloadHash, l.headHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}
	h := sha256.Sum256(raw)
	contentHash := "sha256:" + hex.EncodeToString(h[:])

	l.entries = append(l.entries, chainEntry{
		Sequence:    seq,
		PayloadHash: payloadHash,
		ContentHash: contentHash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock().UTC(),
		Meta:        meta,
	})
	l.headHash = contentHash

	return fmt.Sprintf("chain:%d:%s", seq, contentHash), nil
}

// GetStatus reports whether a reference points at a committed entry.
func (l *ChainLedger) GetStatus(ctx context.Context, ref string) (LedgerStatus, error) {
	if err := ctx.Err(); err != nil {
		return LedgerUnknown, err
	}

	var seq uint64
	var contentHash string
	if _, err := fmt.Sscanf(ref, "chain:%d:%s", &seq, &contentHash); err != nil {
		return LedgerUnknown, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.entries)) {
		return LedgerUnknown, nil
	}
	if l.entries[seq-1].ContentHash != contentHash {
		return LedgerUnknown, nil
	}
	return LedgerConfirmed, nil
}

// Head returns the current head hash.
func (l *ChainLedger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of entries.
func (l *ChainLedger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Verify checks the integrity of the entire chain.
func (l *ChainLedger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := "genesis"
	for i, entry := range l.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}

		hashInput := struct {
			Seq      uint64 `json:"seq"`
			Payload  string `json:"payload"`
			PrevHash string `json:"prev"`
		}{entry.Sequence, entry.PayloadHash, entry.PrevHash}

		raw, err := json.Marshal(hashInput)
		if err != nil {
			return false, fmt.Sprintf("failed to marshal entry %d", i+1)
		}
		h := sha256.Sum256(raw)
		computed := "sha256:" + hex.EncodeToString(h[:])

		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}

	return true, "chain verified"
}
