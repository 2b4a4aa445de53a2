package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"conductor-ai/internal/domain"
)

func newTestProcessBackend(t *testing.T) *ProcessBackend {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	backend, err := NewProcessBackend(ProcessConfig{
		Interpreters: map[string]string{"sh": "sh"},
		Workspace:    t.TempDir(),
		ExecTimeout:  10 * time.Second,
		MaxOutputKB:  4,
	}, discard())
	if err != nil {
		t.Fatal(err)
	}
	return backend
}

func TestProcessExecCapturesOutput(t *testing.T) {
	backend := newTestProcessBackend(t)
	inst, err := backend.New(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close()

	res, err := inst.Exec(context.Background(), ExecRequest{
		Language: "sh",
		Code:     "echo hello; echo oops >&2; exit 3",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if res.Stderr != "oops\n" {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestProcessExecRejectsUnknownInterpreter(t *testing.T) {
	backend := newTestProcessBackend(t)
	inst, err := backend.New(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close()

	_, err = inst.Exec(context.Background(), ExecRequest{Language: "perl", Code: "print 1"})
	if !errors.Is(err, domain.ErrCommandNotAllowed) {
		t.Errorf("error = %v, want ErrCommandNotAllowed", err)
	}
}

func TestProcessExecStaleWhenWorkdirGone(t *testing.T) {
	backend := newTestProcessBackend(t)
	inst, err := backend.New(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// Simulate external cleanup of the scratch directory.
	if err := os.RemoveAll(inst.(*processInstance).dir); err != nil {
		t.Fatal(err)
	}

	_, err = inst.Exec(context.Background(), ExecRequest{Language: "sh", Code: "echo x"})
	if !errors.Is(err, domain.ErrSandboxStale) {
		t.Errorf("error = %v, want ErrSandboxStale", err)
	}
}

func TestCappedWriterTruncates(t *testing.T) {
	var buf bytes.Buffer
	w := &cappedWriter{w: &buf, remaining: 5}

	for i := 0; i < 4; i++ {
		if _, err := w.Write([]byte("abc")); err != nil {
			t.Fatal(err)
		}
	}
	if got := buf.String(); got != "abcab" {
		t.Errorf("captured %q, want %q", got, "abcab")
	}
}
