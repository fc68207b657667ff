// Package executor runs caller-supplied tasks in an isolated context and
// produces the Execution record plus its attestation. Isolation backends are
// pluggable: the software-simulated backend runs tasks in-process, the wasm
// backend runs them in a deny-by-default WASI sandbox. The verification
// engine never learns which backend produced an execution; both bind into
// the same attestation contract.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chaoschain/chaoscore/pkg/attestation"
	"github.com/chaoschain/chaoscore/pkg/canonicalize"
	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// Task is a unit of work submitted for secure execution. Ref identifies the
// code or task being run and participates in the execution record; the
// concrete payload (Fn or Wasm) is backend-specific.
type Task struct {
	Ref string
	// Fn is executed by the software-simulated backend.
	Fn func(ctx context.Context, inputs contracts.Payload) (contracts.Payload, error)
	// Wasm holds a compiled module for the WASI sandbox backend.
	Wasm []byte
}

// Backend is an isolation environment. Run returns the task outputs and any
// captured logs. Implementations must be safe for concurrent use.
type Backend interface {
	// Descriptor names the environment (e.g. "sgx-sim", "wasm-sandbox").
	// Re-running identical inputs under the same descriptor must reproduce
	// the same output hash.
	Descriptor() string
	Run(ctx context.Context, task Task, inputs contracts.Payload) (contracts.Payload, []string, error)
}

// Executor coordinates a backend run with execution persistence and
// attestation generation.
type Executor struct {
	backend      Backend
	attestations *attestation.Manager
	store        ExecutionStore
	clock        func() time.Time
}

// New creates an Executor on the given backend.
func New(backend Backend, attestations *attestation.Manager, store ExecutionStore) *Executor {
	return &Executor{
		backend:      backend,
		attestations: attestations,
		store:        store,
		clock:        time.Now,
	}
}

// WithClock overrides the clock for testing.
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// Execute runs the task in isolation. The Execution record is persisted
// before Execute returns, on success and on failure alike. A failed or
// cancelled run yields a Failed execution with no attestation; the caller
// decides whether to retry. On success the attestation binds the input and
// output hashes to the backend's environment descriptor.
func (e *Executor) Execute(ctx context.Context, task Task, inputs contracts.Payload) (contracts.Payload, *contracts.Execution, *contracts.Attestation, error) {
	inputHash, err := canonicalize.Hash(map[string]any(inputs))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("input canonicalization failed: %w", err)
	}

	exec := &contracts.Execution{
		ExecutionID: uuid.New().String(),
		TaskRef:     task.Ref,
		InputHash:   inputHash,
		Environment: e.backend.Descriptor(),
		StartedAt:   e.clock().UTC(),
		Status:      contracts.ExecutionRunning,
	}

	outputs, logs, runErr := e.backend.Run(ctx, task, inputs)
	exec.CompletedAt = e.clock().UTC()
	exec.Logs = logs

	if runErr != nil {
		exec.Status = contracts.ExecutionFailed
		if err := e.store.Put(ctx, exec); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to persist failed execution: %w", err)
		}
		return nil, exec, nil, fmt.Errorf("execution %s failed: %w", exec.ExecutionID, runErr)
	}

	outputHash, err := canonicalize.Hash(map[string]any(outputs))
	if err != nil {
		exec.Status = contracts.ExecutionFailed
		if putErr := e.store.Put(ctx, exec); putErr != nil {
			return nil, nil, nil, fmt.Errorf("failed to persist failed execution: %w", putErr)
		}
		return nil, exec, nil, fmt.Errorf("output canonicalization failed: %w", err)
	}

	exec.OutputHash = outputHash
	exec.Status = contracts.ExecutionSucceeded
	if err := e.store.Put(ctx, exec); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	att, err := e.attestations.Generate(ctx, exec)
	if err != nil {
		return nil, exec, nil, fmt.Errorf("attestation generation failed: %w", err)
	}

	return outputs, exec, att, nil
}

// GetExecution returns a persisted execution record.
func (e *Executor) GetExecution(ctx context.Context, executionID string) (*contracts.Execution, error) {
	return e.store.Get(ctx, executionID)
}
