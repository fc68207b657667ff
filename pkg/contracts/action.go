// Package contracts defines the shared domain types of the proof-of-agency
// core: actions, executions, attestations, outcomes, anchor records and
// reputation scores. Components exchange these types by value or by
// identifier; no component mutates another component's records.
package contracts

import (
	"time"
)

// ActionStatus is the lifecycle state of an Action.
// Transitions are forward-only; see CanTransition.
type ActionStatus string

const (
	StatusRecorded        ActionStatus = "RECORDED"
	StatusVerified        ActionStatus = "VERIFIED"
	StatusRejected        ActionStatus = "REJECTED"
	StatusAnchored        ActionStatus = "ANCHORED"
	StatusOutcomeRecorded ActionStatus = "OUTCOME_RECORDED"
	StatusRewarded        ActionStatus = "REWARDED"
)

// statusRank orders the happy-path statuses. Rejected is handled separately.
var statusRank = map[ActionStatus]int{
	StatusRecorded:        0,
	StatusVerified:        1,
	StatusAnchored:        2,
	StatusOutcomeRecorded: 3,
	StatusRewarded:        4,
}

// CanTransition reports whether an action may move from one status to another.
// The ordering is strictly forward: Recorded → Verified → Anchored →
// Outcome-Recorded → Rewarded. Rejected is reachable only from Recorded or
// Verified. Rejected and Rewarded are terminal.
func CanTransition(from, to ActionStatus) bool {
	if from == to {
		return false
	}
	if from == StatusRejected || from == StatusRewarded {
		return false
	}
	if to == StatusRejected {
		return from == StatusRecorded || from == StatusVerified
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(s ActionStatus) bool {
	return s == StatusRejected || s == StatusRewarded
}

// Payload is a tagged, structured action payload. Schema validation per
// action type lives in pkg/payload.
type Payload map[string]any

// Action is a recorded claim that an agent performed a specific operation.
// Immutable once created except for status, outcome and anchoring fields.
type Action struct {
	ActionID    string       `json:"action_id"`
	AgentID     string       `json:"agent_id"`
	ActionType  string       `json:"action_type"`
	Description string       `json:"description"`
	Inputs      Payload      `json:"inputs,omitempty"`
	Outputs     Payload      `json:"outputs,omitempty"`
	ExecutionID string       `json:"execution_id,omitempty"`
	Status      ActionStatus `json:"status"`
	// RejectReason carries the verification failure reason for Rejected actions.
	RejectReason string    `json:"reject_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	// Version supports optimistic concurrency on status transitions.
	Version uint64 `json:"version"`
}

// ClaimsSecureExecution reports whether the action references an Execution
// and therefore must carry a verifiable attestation.
func (a *Action) ClaimsSecureExecution() bool {
	return a.ExecutionID != ""
}

// ContentFingerprint returns the fields of the action that participate in
// duplicate detection. Status, timestamps and version are excluded: a
// byte-identical resubmission must compare equal regardless of lifecycle
// progress.
func (a *Action) ContentFingerprint() map[string]any {
	return map[string]any{
		"action_id":    a.ActionID,
		"agent_id":     a.AgentID,
		"action_type":  a.ActionType,
		"description":  a.Description,
		"inputs":       map[string]any(a.Inputs),
		"outputs":      map[string]any(a.Outputs),
		"execution_id": a.ExecutionID,
	}
}

// ActionFilter selects actions in Registry queries. Zero values match all.
type ActionFilter struct {
	AgentID    string
	ActionType string
	Status     ActionStatus
	Since      time.Time
	Until      time.Time
}

// Page bounds Registry query results.
type Page struct {
	Limit  int
	Offset int
}
