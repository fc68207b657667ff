package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

func TestResolveRegisteredAgent(t *testing.T) {
	d := NewStaticDirectory()
	d.Register(&Agent{
		AgentID:      "agent-1",
		PublicKey:    "abcd",
		Capabilities: []string{"analyze", "trade"},
	})

	agent, err := d.Resolve(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Equal(t, "abcd", agent.PublicKey)
	require.True(t, agent.HasCapability("trade"))
	require.False(t, agent.HasCapability("govern"))
}

func TestResolveUnknownAgent(t *testing.T) {
	d := NewStaticDirectory()
	_, err := d.Resolve(context.Background(), "stranger")
	require.ErrorIs(t, err, contracts.ErrAgentUnknown)
}
