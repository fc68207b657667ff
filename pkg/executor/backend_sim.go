package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// SimBackend is the software-simulated isolation backend. Tasks run
// in-process in their own goroutine; cancellation and timeouts are honored
// through the context, and a panicking task is converted into a failed run
// rather than taking down the caller. Not a trust boundary — the attestation
// it feeds is signed by a software key, which the trusted signer registry
// distinguishes from hardware quotes.
type SimBackend struct {
	descriptor string
}

// NewSimBackend creates a simulated backend under the given environment
// descriptor (e.g. "sgx-sim").
func NewSimBackend(descriptor string) *SimBackend {
	if descriptor == "" {
		descriptor = "sgx-sim"
	}
	return &SimBackend{descriptor: descriptor}
}

func (b *SimBackend) Descriptor() string { return b.descriptor }

type simResult struct {
	outputs contracts.Payload
	err     error
}

func (b *SimBackend) Run(ctx context.Context, task Task, inputs contracts.Payload) (contracts.Payload, []string, error) {
	if task.Fn == nil {
		return nil, nil, errors.New("sim backend requires a task function")
	}

	done := make(chan simResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- simResult{err: fmt.Errorf("task panicked: %v", r)}
			}
		}()
		outputs, err := task.Fn(ctx, inputs)
		done <- simResult{outputs: outputs, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, []string{res.err.Error()}, res.err
		}
		return res.outputs, nil, nil
	}
}
