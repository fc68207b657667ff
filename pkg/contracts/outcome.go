package contracts

import "time"

// Outcome is the recorded result of a verified action. At most one outcome
// exists per action.
type Outcome struct {
	OutcomeID   string    `json:"outcome_id"`
	ActionID    string    `json:"action_id"`
	Success     bool      `json:"success"`
	ImpactScore float64   `json:"impact_score"`
	Results     Payload   `json:"results,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// AnchorRecord is proof that an action was committed to the external ledger.
// Exactly one record exists per anchored action.
type AnchorRecord struct {
	ActionID  string    `json:"action_id"`
	LedgerRef string    `json:"ledger_ref"`
	// PayloadHash is the canonical hash of the anchored action content.
	PayloadHash string    `json:"payload_hash"`
	Verifiers   []string  `json:"verifiers,omitempty"`
	BatchID     string    `json:"batch_id,omitempty"`
	MerkleRoot  string    `json:"merkle_root,omitempty"`
	AnchoredAt  time.Time `json:"anchored_at"`
}

// ReputationScore is the per-(agent, domain) reputation state.
type ReputationScore struct {
	AgentID     string    `json:"agent_id"`
	Domain      string    `json:"domain"`
	Score       float64   `json:"score"`
	SampleCount int       `json:"sample_count"`
	LastUpdated time.Time `json:"last_updated"`
	// Version supports compare-and-swap updates under concurrent writers.
	Version uint64 `json:"version"`
}

// RewardShare is a single agent's share of an action's reward.
type RewardShare struct {
	AgentID string  `json:"agent_id"`
	Amount  float64 `json:"amount"`
	Role    string  `json:"role"`
}

// Distribution records the disbursed rewards for an action.
type Distribution struct {
	ActionID      string        `json:"action_id"`
	Shares        []RewardShare `json:"shares"`
	Total         float64       `json:"total"`
	DistributedAt time.Time     `json:"distributed_at"`
}
