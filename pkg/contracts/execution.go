package contracts

import "time"

// ExecutionStatus is the terminal state of a secure execution run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// Execution is a single run of the secure executor. Owned exclusively by the
// executor; referenced by identifier from Action, never mutated elsewhere.
type Execution struct {
	ExecutionID string          `json:"execution_id"`
	TaskRef     string          `json:"task_ref"`
	InputHash   string          `json:"input_hash"`
	OutputHash  string          `json:"output_hash,omitempty"`
	Environment string          `json:"environment"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	Status      ExecutionStatus `json:"status"`
	// Logs captured from the isolated run, for diagnosis only. Not part of
	// the attested binding.
	Logs []string `json:"logs,omitempty"`
}

// AttestationStatus is the verification state of an attestation.
// Valid and Invalid are terminal except for the explicit Revoked transition.
type AttestationStatus string

const (
	AttestationUnverified AttestationStatus = "UNVERIFIED"
	AttestationValid      AttestationStatus = "VALID"
	AttestationInvalid    AttestationStatus = "INVALID"
	AttestationRevoked    AttestationStatus = "REVOKED"
)

// Attestation is signed cryptographic evidence binding an execution to its
// claimed inputs and outputs. Exactly one attestation exists per execution.
type Attestation struct {
	AttestationID string            `json:"attestation_id"`
	ExecutionID   string            `json:"execution_id"`
	InputHash     string            `json:"input_hash"`
	OutputHash    string            `json:"output_hash"`
	Environment   string            `json:"environment"`
	Quote         string            `json:"quote"`
	SignerID      string            `json:"signer_id"`
	SignerKey     string            `json:"signer_key"`
	IssuedAt      time.Time         `json:"issued_at"`
	Status        AttestationStatus `json:"status"`
}
