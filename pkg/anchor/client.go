package anchor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/chaoschain/chaoscore/pkg/canonicalize"
	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// ActionRegistry is the slice of the registry the anchoring client needs.
type ActionRegistry interface {
	Get(ctx context.Context, actionID string) (*contracts.Action, error)
	TransitionStatus(ctx context.Context, actionID string, to contracts.ActionStatus) error
}

// Client anchors verified actions. Submissions are rate limited; ledger
// failures surface as retryable ErrLedgerUnavailable and a cancelled anchor
// leaves the action Verified, so callers can always retry.
type Client struct {
	actions ActionRegistry
	ledger  Ledger
	store   Store
	limiter *rate.Limiter
	clock   func() time.Time
}

// NewClient creates a Client. limiter may be nil to anchor unthrottled.
func NewClient(actions ActionRegistry, ledger Ledger, store Store, limiter *rate.Limiter) *Client {
	return &Client{
		actions: actions,
		ledger:  ledger,
		store:   store,
		limiter: limiter,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (c *Client) WithClock(clock func() time.Time) *Client {
	c.clock = clock
	return c
}

// Anchor commits one verified action to the ledger and records the
// reference. Re-anchoring an anchored action returns the stored record with
// the original reference.
func (c *Client) Anchor(ctx context.Context, actionID string, verifiers []string) (*contracts.AnchorRecord, error) {
	if record, err := c.store.GetByAction(ctx, actionID); err == nil {
		return record, nil
	} else if !errors.Is(err, contracts.ErrActionNotFound) {
		return nil, err
	}

	action, err := c.actions.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if action.Status != contracts.StatusVerified {
		return nil, fmt.Errorf("%w: action %s has status %s", contracts.ErrActionNotVerified, actionID, action.Status)
	}

	payloadHash, err := c.payloadHash(action, verifiers)
	if err != nil {
		return nil, err
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	ref, err := c.submit(ctx, payloadHash, map[string]any{"action_id": actionID})
	if err != nil {
		return nil, err
	}

	record := &contracts.AnchorRecord{
		ActionID:    actionID,
		LedgerRef:   ref,
		PayloadHash: payloadHash,
		Verifiers:   sortedCopy(verifiers),
		AnchoredAt:  c.clock().UTC(),
	}
	return c.persist(ctx, record)
}

// AnchorBatch commits a set of verified actions under one Merkle root with a
// single ledger submission. Already anchored actions keep their existing
// records; the rest join the batch.
func (c *Client) AnchorBatch(ctx context.Context, actionIDs []string, verifiers []string) ([]*contracts.AnchorRecord, error) {
	records := make([]*contracts.AnchorRecord, 0, len(actionIDs))
	pending := make(map[string]string, len(actionIDs))

	for _, actionID := range actionIDs {
		if record, err := c.store.GetByAction(ctx, actionID); err == nil {
			records = append(records, record)
			continue
		} else if !errors.Is(err, contracts.ErrActionNotFound) {
			return nil, err
		}

		action, err := c.actions.Get(ctx, actionID)
		if err != nil {
			return nil, err
		}
		if action.Status != contracts.StatusVerified {
			return nil, fmt.Errorf("%w: action %s has status %s", contracts.ErrActionNotVerified, actionID, action.Status)
		}

		payloadHash, err := c.payloadHash(action, verifiers)
		if err != nil {
			return nil, err
		}
		pending[actionID] = payloadHash
	}

	if len(pending) == 0 {
		return records, nil
	}

	tree := BuildMerkleTree(pending)
	batchID := uuid.New().String()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	ref, err := c.submit(ctx, tree.Root, map[string]any{"batch_id": batchID, "size": len(pending)})
	if err != nil {
		return nil, err
	}

	anchoredAt := c.clock().UTC()
	for _, leaf := range tree.Leaves {
		record := &contracts.AnchorRecord{
			ActionID:    leaf.ActionID,
			LedgerRef:   ref,
			PayloadHash: leaf.PayloadHash,
			Verifiers:   sortedCopy(verifiers),
			BatchID:     batchID,
			MerkleRoot:  tree.Root,
			AnchoredAt:  anchoredAt,
		}
		persisted, err := c.persist(ctx, record)
		if err != nil {
			return nil, err
		}
		records = append(records, persisted)
	}
	return records, nil
}

// GetRecord returns the anchor record for an action.
func (c *Client) GetRecord(ctx context.Context, actionID string) (*contracts.AnchorRecord, error) {
	return c.store.GetByAction(ctx, actionID)
}

// Status checks the ledger standing of an action's anchor.
func (c *Client) Status(ctx context.Context, actionID string) (LedgerStatus, error) {
	record, err := c.store.GetByAction(ctx, actionID)
	if err != nil {
		return LedgerUnknown, err
	}
	status, err := c.ledger.GetStatus(ctx, record.LedgerRef)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return LedgerUnknown, err
		}
		return LedgerUnknown, fmt.Errorf("%w: %v", contracts.ErrLedgerUnavailable, err)
	}
	return status, nil
}

// Proof returns the Merkle inclusion proof for a batch-anchored action. The
// proof is rebuilt from the batch's stored leaves so it can be produced long
// after anchoring.
func (c *Client) Proof(ctx context.Context, actionID string) (InclusionProof, error) {
	record, err := c.store.GetByAction(ctx, actionID)
	if err != nil {
		return InclusionProof{}, err
	}
	if record.BatchID == "" {
		// Singly anchored actions commit their payload hash directly; there
		// is no tree to prove against.
		return InclusionProof{
			ActionID:   actionID,
			LeafHash:   record.PayloadHash,
			MerkleRoot: record.PayloadHash,
		}, nil
	}

	batch, err := c.store.ListByBatch(ctx, record.BatchID)
	if err != nil {
		return InclusionProof{}, err
	}
	hashes := make(map[string]string, len(batch))
	for _, r := range batch {
		hashes[r.ActionID] = r.PayloadHash
	}

	tree := BuildMerkleTree(hashes)
	if tree.Root != record.MerkleRoot {
		return InclusionProof{}, fmt.Errorf("stored batch %s does not reproduce root %s", record.BatchID, record.MerkleRoot)
	}
	proof, ok := tree.Proof(actionID)
	if !ok {
		return InclusionProof{}, fmt.Errorf("action %s missing from batch %s", actionID, record.BatchID)
	}
	return proof, nil
}

// payloadHash binds the action's immutable content and the verifier set
// into the anchored commitment.
func (c *Client) payloadHash(action *contracts.Action, verifiers []string) (string, error) {
	return canonicalize.Hash(map[string]any{
		"action":    action.ContentFingerprint(),
		"verifiers": sortedCopy(verifiers),
	})
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) submit(ctx context.Context, payloadHash string, meta map[string]any) (string, error) {
	ref, err := c.ledger.Submit(ctx, payloadHash, meta)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", contracts.ErrLedgerUnavailable, err)
	}
	return ref, nil
}

// persist stores the record and advances the action. A concurrent anchor
// that got there first wins; its record is returned.
func (c *Client) persist(ctx context.Context, record *contracts.AnchorRecord) (*contracts.AnchorRecord, error) {
	if err := c.store.Insert(ctx, record); err != nil {
		if errors.Is(err, contracts.ErrAnchorExists) {
			return c.store.GetByAction(ctx, record.ActionID)
		}
		return nil, err
	}

	if err := c.actions.TransitionStatus(ctx, record.ActionID, contracts.StatusAnchored); err != nil {
		if !errors.Is(err, contracts.ErrInvalidTransition) {
			return nil, err
		}
		moved, getErr := c.actions.Get(ctx, record.ActionID)
		if getErr != nil {
			return nil, getErr
		}
		switch moved.Status {
		case contracts.StatusAnchored, contracts.StatusOutcomeRecorded, contracts.StatusRewarded:
			// Someone else advanced it; the record is in place.
		default:
			return nil, err
		}
	}
	return record, nil
}

func sortedCopy(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	cp := append([]string(nil), values...)
	sort.Strings(cp)
	return cp
}
