package verification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chaoschain/chaoscore/pkg/contracts"
	"github.com/chaoschain/chaoscore/pkg/registry"
)

func recordPlainAction(t *testing.T, reg *registry.Registry) string {
	t.Helper()
	id, err := reg.Record(context.Background(), &contracts.Action{
		AgentID:    "agent-1",
		ActionType: "ANALYZE",
		Inputs:     contracts.Payload{"dataset": "btc-1h"},
	})
	require.NoError(t, err)
	return id
}

func TestConsensusQuorumReached(t *testing.T) {
	reg := registry.New(registry.NewMemoryActionStore(), registry.NewMemoryOutcomeStore())
	c := NewCoordinator(reg, 2)
	ctx := context.Background()
	id := recordPlainAction(t, reg)

	approvers, err := c.Decide(ctx, id, []Vote{
		{VerifierID: "verifier-b", Approve: true},
		{VerifierID: "verifier-a", Approve: true},
		{VerifierID: "verifier-c", Approve: false, Reason: "stale data"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"verifier-a", "verifier-b"}, approvers)

	action, err := reg.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contracts.StatusVerified, action.Status)
}

func TestConsensusNotReachedLeavesRecorded(t *testing.T) {
	reg := registry.New(registry.NewMemoryActionStore(), registry.NewMemoryOutcomeStore())
	c := NewCoordinator(reg, 3)
	ctx := context.Background()
	id := recordPlainAction(t, reg)

	_, err := c.Decide(ctx, id, []Vote{
		{VerifierID: "verifier-a", Approve: true},
		{VerifierID: "verifier-b", Approve: false, Reason: "output mismatch"},
	})
	require.ErrorIs(t, err, contracts.ErrConsensusNotReached)

	action, err := reg.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contracts.StatusRecorded, action.Status)
}

func TestConsensusCountsEachVerifierOnce(t *testing.T) {
	reg := registry.New(registry.NewMemoryActionStore(), registry.NewMemoryOutcomeStore())
	c := NewCoordinator(reg, 2)
	ctx := context.Background()
	id := recordPlainAction(t, reg)

	_, err := c.Decide(ctx, id, []Vote{
		{VerifierID: "verifier-a", Approve: true},
		{VerifierID: "verifier-a", Approve: true},
	})
	require.ErrorIs(t, err, contracts.ErrConsensusNotReached)
}

func TestConsensusQuorumClamped(t *testing.T) {
	reg := registry.New(registry.NewMemoryActionStore(), registry.NewMemoryOutcomeStore())
	c := NewCoordinator(reg, 0)
	require.Equal(t, 1, c.Quorum())
}
