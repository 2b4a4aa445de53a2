package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"conductor-ai/internal/domain"
	"conductor-ai/internal/security"
)

// ProcessConfig configures the subprocess backend.
type ProcessConfig struct {
	// Interpreters maps language names to interpreter binaries. Only
	// listed languages may run.
	Interpreters map[string]string
	Workspace    string        // parent directory for per-instance workdirs
	ExecTimeout  time.Duration // wall clock per call
	MaxOutputKB  int           // per stream
}

// DefaultInterpreters is the allowlist used when the config names none.
var DefaultInterpreters = map[string]string{
	"python3": "python3",
	"node":    "node",
	"sh":      "sh",
}

// ProcessBackend runs code through local interpreter subprocesses. An
// instance owns a scratch directory under the workspace; losing that
// directory makes the instance stale.
type ProcessBackend struct {
	cfg       ProcessConfig
	workspace *security.Workspace
	logger    *slog.Logger
}

// NewProcessBackend validates the workspace jail and returns the
// backend.
func NewProcessBackend(cfg ProcessConfig, logger *slog.Logger) (*ProcessBackend, error) {
	if len(cfg.Interpreters) == 0 {
		cfg.Interpreters = DefaultInterpreters
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 30 * time.Second
	}
	if cfg.MaxOutputKB <= 0 {
		cfg.MaxOutputKB = 64
	}
	if cfg.Workspace == "" {
		cfg.Workspace = filepath.Join(os.TempDir(), "conductor-sandbox")
	}
	if err := os.MkdirAll(cfg.Workspace, 0o700); err != nil {
		return nil, domain.WrapOp("sandbox.workspace", err)
	}
	ws, err := security.NewWorkspace(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessBackend{cfg: cfg, workspace: ws, logger: logger}, nil
}

// Name implements Backend.
func (b *ProcessBackend) Name() string { return "process" }

// New implements Backend: prepares a scratch directory for the
// instance.
func (b *ProcessBackend) New(_ context.Context) (Instance, error) {
	dir, err := os.MkdirTemp(b.workspace.Root(), "run-")
	if err != nil {
		return nil, domain.WrapOp("sandbox.mkdir", err)
	}
	return &processInstance{backend: b, dir: dir}, nil
}

type processInstance struct {
	backend *ProcessBackend
	dir     string
}

// Exec writes the program into the scratch directory and runs the
// allowlisted interpreter on it. A missing scratch directory reports
// the instance stale so the pool recycles it.
func (i *processInstance) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	bin, ok := i.backend.cfg.Interpreters[req.Language]
	if !ok {
		return nil, domain.NewDomainError("sandbox.exec", domain.ErrCommandNotAllowed, req.Language)
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, domain.NewDomainError("sandbox.exec", domain.ErrInvalidInput, "empty code")
	}

	if _, err := os.Stat(i.dir); err != nil {
		return nil, domain.NewDomainError("sandbox.exec", domain.ErrSandboxStale, i.dir)
	}

	script := filepath.Join(i.dir, "main"+scriptExt(req.Language))
	if _, err := i.backend.workspace.Resolve(script); err != nil {
		return nil, err
	}
	if err := os.WriteFile(script, []byte(req.Code), 0o600); err != nil {
		return nil, domain.NewDomainError("sandbox.exec", domain.ErrSandboxStale, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, i.backend.cfg.ExecTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, script)
	cmd.Dir = i.dir
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	maxBytes := int64(i.backend.cfg.MaxOutputKB) * 1024
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &cappedWriter{w: &stdout, remaining: maxBytes}
	cmd.Stderr = &cappedWriter{w: &stderr, remaining: maxBytes}

	started := time.Now()
	err := cmd.Run()
	duration := time.Since(started)

	res := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration.Round(time.Millisecond).String(),
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return nil, domain.NewDomainError("sandbox.exec", domain.ErrTimeout,
			fmt.Sprintf("killed after %s", i.backend.cfg.ExecTimeout))
	case err != nil:
		// Non-zero exit is a program outcome, not an infrastructure
		// failure: return it in the result.
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, domain.WrapOp("sandbox.exec", err)
	}
	return res, nil
}

// Close removes the scratch directory.
func (i *processInstance) Close() error {
	return os.RemoveAll(i.dir)
}

func scriptExt(language string) string {
	switch language {
	case "python3":
		return ".py"
	case "node":
		return ".js"
	default:
		return ".sh"
	}
}

// cappedWriter truncates output past the cap instead of failing the
// command.
type cappedWriter struct {
	w         io.Writer
	remaining int64
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	if c.remaining <= 0 {
		return len(p), nil
	}
	if int64(len(p)) > c.remaining {
		if _, err := c.w.Write(p[:c.remaining]); err != nil {
			return 0, err
		}
		c.remaining = 0
		return len(p), nil
	}
	c.remaining -= int64(len(p))
	return c.w.Write(p)
}
