package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/chaoschain/chaoscore/pkg/canonicalize"
	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// WasmBackend runs tasks as WASI modules inside wazero, a pure-Go
// WebAssembly runtime. Deny-by-default: no filesystem, no network, no
// environment variables, no wall clock and no random source are exposed to
// the guest, which keeps runs deterministic for a given module and input.
// The module reads canonical-JSON inputs from stdin and writes JSON outputs
// to stdout.
type WasmBackend struct {
	runtime    wazero.Runtime
	descriptor string
	cpuLimit   time.Duration
}

// WasmConfig bounds a sandboxed run.
type WasmConfig struct {
	// MemoryLimitBytes caps guest memory; 0 means the runtime default.
	MemoryLimitBytes uint64
	// CPUTimeLimit bounds each run via context deadline; 0 means unbounded.
	CPUTimeLimit time.Duration
	// Descriptor overrides the environment descriptor; defaults to
	// "wasm-sandbox".
	Descriptor string
}

// NewWasmBackend creates the shared wazero runtime. Call Close when done.
func NewWasmBackend(ctx context.Context, cfg WasmConfig) (*WasmBackend, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitBytes > 0 {
		// wazero measures memory in 64KB pages
		pages := uint32(cfg.MemoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	descriptor := cfg.Descriptor
	if descriptor == "" {
		descriptor = "wasm-sandbox"
	}

	return &WasmBackend{
		runtime:    r,
		descriptor: descriptor,
		cpuLimit:   cfg.CPUTimeLimit,
	}, nil
}

func (b *WasmBackend) Descriptor() string { return b.descriptor }

func (b *WasmBackend) Run(ctx context.Context, task Task, inputs contracts.Payload) (contracts.Payload, []string, error) {
	if len(task.Wasm) == 0 {
		return nil, nil, errors.New("wasm backend requires module bytes")
	}

	if b.cpuLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cpuLimit)
		defer cancel()
	}

	stdin, err := canonicalize.JCS(map[string]any(inputs))
	if err != nil {
		return nil, nil, fmt.Errorf("wasm: input canonicalization failed: %w", err)
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName("chaoscore-sandbox").
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(stdin)).
		WithStdout(&stdout).
		WithStderr(&stderr)
	// Deliberately not wired: WithFSConfig, WithSysNanotime, WithRandSource,
	// WithEnv — the guest gets no ambient authority.

	compiled, err := b.runtime.CompileModule(ctx, task.Wasm)
	if err != nil {
		return nil, nil, fmt.Errorf("wasm: compilation failed: %w", err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	mod, err := b.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		logs := splitLines(stderr.String())
		if ctx.Err() != nil {
			return nil, logs, fmt.Errorf("wasm: execution timed out: %w", ctx.Err())
		}
		return nil, logs, fmt.Errorf("wasm: instantiation failed: %w", err)
	}
	defer func() { _ = mod.Close(ctx) }()

	var outputs contracts.Payload
	if err := json.Unmarshal(stdout.Bytes(), &outputs); err != nil {
		return nil, splitLines(stderr.String()), fmt.Errorf("wasm: module output is not valid JSON: %w", err)
	}
	return outputs, splitLines(stderr.String()), nil
}

// Close shuts down the wazero runtime.
func (b *WasmBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.runtime.Close(ctx)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	for _, line := range bytes.Split([]byte(s), []byte("\n")) {
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
	}
	return lines
}
