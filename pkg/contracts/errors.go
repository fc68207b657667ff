package contracts

import (
	"errors"
	"fmt"
)

// Error taxonomy. Structural errors (duplicate, invalid transition, out of
// range) indicate caller bugs and are never retried automatically. Transient
// errors (ledger unavailable) are retryable; every operation that can return
// one is idempotent so the retry is safe.
var (
	ErrActionNotFound      = errors.New("action not found")
	ErrExecutionNotFound   = errors.New("execution not found")
	ErrAttestationNotFound = errors.New("attestation not found")
	ErrDuplicateAction     = errors.New("duplicate action id with conflicting content")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAttestationInvalid  = errors.New("attestation invalid")
	ErrActionNotVerified   = errors.New("action not verified")
	ErrActionNotAnchored   = errors.New("action not anchored")
	ErrOutcomeExists       = errors.New("outcome already recorded")
	ErrAnchorExists        = errors.New("anchor record already exists")
	ErrAlreadyDistributed  = errors.New("rewards already distributed")
	ErrOutOfRange          = errors.New("impact score out of range")
	ErrConsensusNotReached = errors.New("verification consensus not reached")
	ErrLedgerUnavailable   = errors.New("ledger unavailable")
	ErrAgentUnknown        = errors.New("agent not found in identity directory")
)

// TransitionError describes a rejected status transition, carrying the
// current stable state so the caller can remediate without re-deriving it.
type TransitionError struct {
	ActionID string
	From     ActionStatus
	To       ActionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for action %s: %s -> %s", e.ActionID, e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Retryable reports whether an error is a transient infrastructure failure
// that the caller may safely retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable)
}
