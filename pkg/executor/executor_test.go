package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chaoschain/chaoscore/pkg/attestation"
	"github.com/chaoschain/chaoscore/pkg/contracts"
	"github.com/chaoschain/chaoscore/pkg/crypto"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	signer, err := crypto.NewEd25519Signer("sim-enclave")
	require.NoError(t, err)
	reg := crypto.NewTrustedSignerRegistry()
	reg.RegisterSigner(signer)
	mgr := attestation.NewManager(signer, reg, attestation.NewMemoryStore())
	return New(NewSimBackend("sgx-sim"), mgr, NewMemoryExecutionStore())
}

func doubler() Task {
	return Task{
		Ref: "task:double",
		Fn: func(ctx context.Context, inputs contracts.Payload) (contracts.Payload, error) {
			x, _ := inputs["x"].(float64)
			return contracts.Payload{"y": x * 2}, nil
		},
	}
}

func TestExecuteSuccess(t *testing.T) {
	e := newTestExecutor(t)

	outputs, exec, att, err := e.Execute(context.Background(), doubler(), contracts.Payload{"x": 1.0})
	require.NoError(t, err)
	require.Equal(t, 2.0, outputs["y"])
	require.Equal(t, contracts.ExecutionSucceeded, exec.Status)
	require.Equal(t, "sgx-sim", exec.Environment)
	require.NotEmpty(t, exec.InputHash)
	require.NotEmpty(t, exec.OutputHash)
	require.NotNil(t, att)
	require.Equal(t, exec.ExecutionID, att.ExecutionID)
	require.Equal(t, exec.OutputHash, att.OutputHash)

	stored, err := e.GetExecution(context.Background(), exec.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, contracts.ExecutionSucceeded, stored.Status)
}

func TestExecuteDeterministicHashes(t *testing.T) {
	e := newTestExecutor(t)

	_, exec1, _, err := e.Execute(context.Background(), doubler(), contracts.Payload{"x": 3.0})
	require.NoError(t, err)
	_, exec2, _, err := e.Execute(context.Background(), doubler(), contracts.Payload{"x": 3.0})
	require.NoError(t, err)

	require.Equal(t, exec1.InputHash, exec2.InputHash)
	require.Equal(t, exec1.OutputHash, exec2.OutputHash)
	require.NotEqual(t, exec1.ExecutionID, exec2.ExecutionID)
}

func TestExecuteFailurePersistsFailedExecution(t *testing.T) {
	e := newTestExecutor(t)

	failing := Task{
		Ref: "task:fail",
		Fn: func(ctx context.Context, inputs contracts.Payload) (contracts.Payload, error) {
			return nil, errors.New("boom")
		},
	}

	outputs, exec, att, err := e.Execute(context.Background(), failing, contracts.Payload{})
	require.Error(t, err)
	require.Nil(t, outputs)
	require.Nil(t, att)
	require.Equal(t, contracts.ExecutionFailed, exec.Status)
	require.Empty(t, exec.OutputHash)

	stored, getErr := e.GetExecution(context.Background(), exec.ExecutionID)
	require.NoError(t, getErr)
	require.Equal(t, contracts.ExecutionFailed, stored.Status)
}

func TestExecuteCancellation(t *testing.T) {
	e := newTestExecutor(t)

	blocked := Task{
		Ref: "task:block",
		Fn: func(ctx context.Context, inputs contracts.Payload) (contracts.Payload, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, exec, att, err := e.Execute(ctx, blocked, contracts.Payload{})
	require.Error(t, err)
	require.Nil(t, att)
	require.Equal(t, contracts.ExecutionFailed, exec.Status)
}

func TestExecutePanicRecovered(t *testing.T) {
	e := newTestExecutor(t)

	panicking := Task{
		Ref: "task:panic",
		Fn: func(ctx context.Context, inputs contracts.Payload) (contracts.Payload, error) {
			panic("unexpected")
		},
	}

	_, exec, _, err := e.Execute(context.Background(), panicking, contracts.Payload{})
	require.Error(t, err)
	require.Equal(t, contracts.ExecutionFailed, exec.Status)
}

type failingExecutionStore struct{}

func (failingExecutionStore) Put(ctx context.Context, exec *contracts.Execution) error {
	return errors.New("disk full")
}

func (failingExecutionStore) Get(ctx context.Context, executionID string) (*contracts.Execution, error) {
	return nil, contracts.ErrExecutionNotFound
}

func unmarshalableOutputs() Task {
	return Task{
		Ref: "task:bad-output",
		Fn: func(ctx context.Context, inputs contracts.Payload) (contracts.Payload, error) {
			return contracts.Payload{"bad": func() {}}, nil
		},
	}
}

func TestExecuteBadOutputPersistsFailedExecution(t *testing.T) {
	e := newTestExecutor(t)

	_, exec, att, err := e.Execute(context.Background(), unmarshalableOutputs(), contracts.Payload{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "output canonicalization")
	require.Nil(t, att)
	require.Equal(t, contracts.ExecutionFailed, exec.Status)

	stored, getErr := e.GetExecution(context.Background(), exec.ExecutionID)
	require.NoError(t, getErr)
	require.Equal(t, contracts.ExecutionFailed, stored.Status)
}

func TestExecuteSurfacesPersistenceFailure(t *testing.T) {
	signer, err := crypto.NewEd25519Signer("sim-enclave")
	require.NoError(t, err)
	reg := crypto.NewTrustedSignerRegistry()
	reg.RegisterSigner(signer)
	mgr := attestation.NewManager(signer, reg, attestation.NewMemoryStore())
	e := New(NewSimBackend("sgx-sim"), mgr, failingExecutionStore{})

	_, _, _, err = e.Execute(context.Background(), unmarshalableOutputs(), contracts.Payload{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to persist")
}

func TestSimBackendRequiresFn(t *testing.T) {
	b := NewSimBackend("")
	_, _, err := b.Run(context.Background(), Task{Ref: "task:none"}, contracts.Payload{})
	require.Error(t, err)
	require.Equal(t, "sgx-sim", b.Descriptor())
}
