package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"conductor-ai/internal/domain"
)

// WASMConfig configures the wazero backend. ModulePath names a
// WASI-compatible interpreter module; the program arrives on its
// stdin.
type WASMConfig struct {
	ModulePath  string
	MaxPages    int // linear memory limit, 64 KiB pages
	ExecTimeout time.Duration
	MaxOutputKB int
}

// WASMBackend runs code inside a wazero runtime. Compilation happens
// once per instance; each call gets a fresh module instantiation, so
// guest state never leaks between calls.
type WASMBackend struct {
	cfg    WASMConfig
	logger *slog.Logger
}

// NewWASMBackend validates the module path and returns the backend.
func NewWASMBackend(cfg WASMConfig, logger *slog.Logger) (*WASMBackend, error) {
	if cfg.ModulePath == "" {
		return nil, domain.NewDomainError("sandbox.wasm", domain.ErrInvalidInput, "no module path")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 256 // 16 MiB
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 30 * time.Second
	}
	if cfg.MaxOutputKB <= 0 {
		cfg.MaxOutputKB = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WASMBackend{cfg: cfg, logger: logger}, nil
}

// Name implements Backend.
func (b *WASMBackend) Name() string { return "wasm" }

// New implements Backend: builds a runtime and compiles the module.
func (b *WASMBackend) New(ctx context.Context) (Instance, error) {
	wasmBytes, err := os.ReadFile(b.cfg.ModulePath)
	if err != nil {
		return nil, domain.WrapOp("sandbox.wasm.read", err)
	}

	rtCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(uint32(b.cfg.MaxPages)).
		WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, domain.WrapOp("sandbox.wasm.wasi", err)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, domain.WrapOp("sandbox.wasm.compile", err)
	}

	return &wasmInstance{backend: b, runtime: rt, compiled: compiled}, nil
}

type wasmInstance struct {
	backend  *WASMBackend
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	closed   bool
}

// Exec instantiates the compiled module with the program on stdin and
// captures its output. CloseOnContextDone enforces the wall clock.
func (i *wasmInstance) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	if i.closed {
		return nil, domain.NewDomainError("sandbox.wasm.exec", domain.ErrSandboxStale, "runtime closed")
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, domain.NewDomainError("sandbox.wasm.exec", domain.ErrInvalidInput, "empty code")
	}

	ctx, cancel := context.WithTimeout(ctx, i.backend.cfg.ExecTimeout)
	defer cancel()

	maxBytes := int64(i.backend.cfg.MaxOutputKB) * 1024
	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName(""). // anonymous: repeated instantiations must not collide
		WithStdin(strings.NewReader(req.Code)).
		WithStdout(&cappedWriter{w: &stdout, remaining: maxBytes}).
		WithStderr(&cappedWriter{w: &stderr, remaining: maxBytes}).
		WithArgs("main", req.Language)

	started := time.Now()
	mod, err := i.runtime.InstantiateModule(ctx, i.compiled, modCfg)
	duration := time.Since(started)
	if mod != nil {
		mod.Close(ctx)
	}

	res := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration.Round(time.Millisecond).String(),
	}

	if err != nil {
		if exitErr, ok := err.(*sys.ExitError); ok {
			res.ExitCode = int(exitErr.ExitCode())
			return res, nil
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, domain.NewDomainError("sandbox.wasm.exec", domain.ErrTimeout,
				fmt.Sprintf("killed after %s", i.backend.cfg.ExecTimeout))
		}
		return nil, domain.WrapOp("sandbox.wasm.exec", err)
	}
	return res, nil
}

// Close tears down the runtime; subsequent Exec calls report stale.
func (i *wasmInstance) Close() error {
	i.closed = true
	return i.runtime.Close(context.Background())
}
