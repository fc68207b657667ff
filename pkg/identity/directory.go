// Package identity resolves agent identifiers to their public identity:
// signing key and declared capabilities. The registry consults it when
// recording actions for unknown agents should be rejected at the edge.
package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// Agent is a resolved agent identity.
type Agent struct {
	AgentID      string   `json:"agent_id"`
	PublicKey    string   `json:"public_key"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// HasCapability reports whether the agent declares a capability.
func (a *Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Directory resolves agent ids.
type Directory interface {
	Resolve(ctx context.Context, agentID string) (*Agent, error)
}

// StaticDirectory is an in-memory Directory populated at startup, typically
// from configuration.
type StaticDirectory struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewStaticDirectory creates an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{agents: make(map[string]*Agent)}
}

// Register adds or replaces an agent.
func (d *StaticDirectory) Register(agent *Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[agent.AgentID] = agent
}

// Resolve implements Directory.
func (d *StaticDirectory) Resolve(ctx context.Context, agentID string) (*Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	agent, ok := d.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrAgentUnknown, agentID)
	}
	cp := *agent
	cp.Capabilities = append([]string(nil), agent.Capabilities...)
	return &cp, nil
}
