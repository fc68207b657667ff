// Package attestation generates, verifies and revokes the cryptographic
// attestations that bind a secure execution to its claimed inputs and
// outputs. The binding is a canonical JSON payload signed with an
// environment-specific key; verification recomputes the binding from the
// expected execution and checks the signature against the trusted signer
// registry. Hardware quote verification plugs in behind the same
// SignatureVerifier interface.
package attestation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chaoschain/chaoscore/pkg/canonicalize"
	"github.com/chaoschain/chaoscore/pkg/contracts"
	"github.com/chaoschain/chaoscore/pkg/crypto"
)

// binding is the signed payload. Field order is irrelevant: the bytes are
// canonicalized before signing.
type binding struct {
	ExecutionID string `json:"execution_id"`
	InputHash   string `json:"input_hash"`
	OutputHash  string `json:"output_hash"`
	Environment string `json:"environment"`
}

// Manager owns the Attestation entity.
type Manager struct {
	signer   crypto.Signer
	verifier crypto.SignatureVerifier
	store    Store
	clock    func() time.Time
}

// NewManager creates a Manager signing with signer and verifying against
// verifier (typically the trusted signer registry).
func NewManager(signer crypto.Signer, verifier crypto.SignatureVerifier, store Store) *Manager {
	return &Manager{
		signer:   signer,
		verifier: verifier,
		store:    store,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Generate issues an attestation for a succeeded execution. Exactly one
// attestation exists per execution: generating twice for the same execution
// returns the stored attestation.
func (m *Manager) Generate(ctx context.Context, exec *contracts.Execution) (*contracts.Attestation, error) {
	if exec.Status != contracts.ExecutionSucceeded {
		return nil, fmt.Errorf("cannot attest execution %s with status %s", exec.ExecutionID, exec.Status)
	}

	if existing, err := m.store.GetByExecution(ctx, exec.ExecutionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, contracts.ErrAttestationNotFound) {
		return nil, err
	}

	payload, err := canonicalize.JCS(binding{
		ExecutionID: exec.ExecutionID,
		InputHash:   exec.InputHash,
		OutputHash:  exec.OutputHash,
		Environment: exec.Environment,
	})
	if err != nil {
		return nil, err
	}

	sig, err := m.signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("attestation signing failed: %w", err)
	}

	att := &contracts.Attestation{
		AttestationID: uuid.New().String(),
		ExecutionID:   exec.ExecutionID,
		InputHash:     exec.InputHash,
		OutputHash:    exec.OutputHash,
		Environment:   exec.Environment,
		Quote:         sig,
		SignerID:      m.signer.KeyID(),
		SignerKey:     m.signer.PublicKey(),
		IssuedAt:      m.clock().UTC(),
		Status:        contracts.AttestationUnverified,
	}
	if err := m.store.Put(ctx, att); err != nil {
		return nil, err
	}
	return att, nil
}

// Verify checks an attestation against the execution it claims to attest.
// The binding is recomputed from the expected execution, so an attestation
// generated over a different output hash fails even if its signature is
// intact. Revoked attestations fail closed. The first verification persists
// the verdict; Valid and Invalid are terminal, so later calls return the
// stored verdict unchanged with revocation as the only escape hatch.
func (m *Manager) Verify(ctx context.Context, attestationID string, expected *contracts.Execution) (contracts.AttestationStatus, error) {
	att, err := m.store.Get(ctx, attestationID)
	if err != nil {
		return contracts.AttestationInvalid, err
	}

	switch att.Status {
	case contracts.AttestationRevoked:
		return contracts.AttestationRevoked, fmt.Errorf("%w: attestation %s is revoked", contracts.ErrAttestationInvalid, attestationID)
	case contracts.AttestationValid:
		return contracts.AttestationValid, nil
	case contracts.AttestationInvalid:
		return contracts.AttestationInvalid, fmt.Errorf("%w: attestation %s failed a prior verification", contracts.ErrAttestationInvalid, attestationID)
	}

	status, reason := m.check(att, expected)
	if err := m.store.UpdateStatus(ctx, att.AttestationID, status); err != nil {
		return contracts.AttestationInvalid, err
	}
	if status != contracts.AttestationValid {
		return status, fmt.Errorf("%w: %s", contracts.ErrAttestationInvalid, reason)
	}
	return status, nil
}

func (m *Manager) check(att *contracts.Attestation, expected *contracts.Execution) (contracts.AttestationStatus, string) {
	if att.ExecutionID != expected.ExecutionID {
		return contracts.AttestationInvalid, fmt.Sprintf("execution mismatch: attested %s, expected %s", att.ExecutionID, expected.ExecutionID)
	}
	if att.InputHash != expected.InputHash {
		return contracts.AttestationInvalid, "input hash mismatch"
	}
	if att.OutputHash != expected.OutputHash {
		return contracts.AttestationInvalid, "output hash mismatch"
	}
	if att.Environment != expected.Environment {
		return contracts.AttestationInvalid, "environment descriptor mismatch"
	}

	payload, err := canonicalize.JCS(binding{
		ExecutionID: expected.ExecutionID,
		InputHash:   expected.InputHash,
		OutputHash:  expected.OutputHash,
		Environment: expected.Environment,
	})
	if err != nil {
		return contracts.AttestationInvalid, fmt.Sprintf("binding canonicalization failed: %v", err)
	}

	ok, err := m.verifier.VerifySignature(payload, att.Quote, att.SignerID)
	if err != nil {
		return contracts.AttestationInvalid, fmt.Sprintf("signature check failed: %v", err)
	}
	if !ok {
		return contracts.AttestationInvalid, "signature does not match binding"
	}
	return contracts.AttestationValid, ""
}

// Revoke marks an attestation unusable for future verification without
// deleting history.
func (m *Manager) Revoke(ctx context.Context, attestationID string) error {
	if _, err := m.store.Get(ctx, attestationID); err != nil {
		return err
	}
	return m.store.UpdateStatus(ctx, attestationID, contracts.AttestationRevoked)
}

// Get returns a stored attestation.
func (m *Manager) Get(ctx context.Context, attestationID string) (*contracts.Attestation, error) {
	return m.store.Get(ctx, attestationID)
}

// GetByExecution returns the attestation for an execution.
func (m *Manager) GetByExecution(ctx context.Context, executionID string) (*contracts.Attestation, error) {
	return m.store.GetByExecution(ctx, executionID)
}
