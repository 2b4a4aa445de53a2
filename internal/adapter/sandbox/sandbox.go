// Package sandbox executes short untrusted programs through a pool of
// reusable execution instances. The pool keeps at most one warm
// instance per backend, evicts it after an idle period to bound cost,
// and retries a call once on a fresh instance when the warm one has
// gone stale.
package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"conductor-ai/internal/domain"
)

// ExecRequest describes one program to run.
type ExecRequest struct {
	Language string // interpreter selector, e.g. "python3"
	Code     string
	Stdin    string
}

// ExecResult is the outcome of one execution.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Duration string `json:"duration"`
}

// Instance is one live execution environment. Exec returns
// domain.ErrSandboxStale when the instance can no longer serve calls
// and should be replaced.
type Instance interface {
	Exec(ctx context.Context, req ExecRequest) (*ExecResult, error)
	Close() error
}

// Backend creates instances. Creation may be expensive (spawning a
// runtime, preparing a workspace), which is why the pool reuses them.
type Backend interface {
	Name() string
	New(ctx context.Context) (Instance, error)
}

// defaultIdleTimeout tears down a warm instance that has not served a
// call recently.
const defaultIdleTimeout = 2 * time.Minute

// Pool manages the warm instance for one backend. All state is behind
// one mutex; the in-use flag keeps the idle reaper from closing an
// instance mid-call.
type Pool struct {
	backend     Backend
	idleTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	inst     Instance
	inUse    bool
	lastUsed time.Time
	reaper   *time.Timer
	closed   bool
}

// NewPool creates a pool over backend. idleTimeout <= 0 uses the
// default.
func NewPool(backend Backend, idleTimeout time.Duration, logger *slog.Logger) *Pool {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{backend: backend, idleTimeout: idleTimeout, logger: logger}
}

// Exec runs req on the warm instance, creating one when needed. A call
// that fails with domain.ErrSandboxStale recycles the instance and is
// retried exactly once on a fresh one.
func (p *Pool) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	inst, err := p.borrow(ctx)
	if err != nil {
		return nil, err
	}

	res, err := inst.Exec(ctx, req)
	if err != nil && errors.Is(err, domain.ErrSandboxStale) {
		p.logger.Warn("sandbox instance stale, recycling", "backend", p.backend.Name())
		p.discard(inst)
		inst, err = p.borrow(ctx)
		if err != nil {
			return nil, err
		}
		res, err = inst.Exec(ctx, req)
	}

	p.release(inst, err)
	return res, err
}

// borrow hands out the warm instance, creating it when absent. The
// pool serves one borrower at a time: the graph runs tools
// sequentially, so contention only happens across independent runs.
func (p *Pool) borrow(ctx context.Context) (Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, domain.NewDomainError("sandbox.borrow", domain.ErrUnavailable, "pool closed")
	}
	if p.inUse {
		return nil, domain.NewDomainError("sandbox.borrow", domain.ErrSandboxBusy, p.backend.Name())
	}

	if p.inst == nil {
		inst, err := p.backend.New(ctx)
		if err != nil {
			return nil, domain.WrapOp("sandbox.new", err)
		}
		p.inst = inst
		p.logger.Debug("sandbox instance created", "backend", p.backend.Name())
	}

	p.inUse = true
	return p.inst, nil
}

// release returns the instance and schedules the idle reaper. A
// non-stale error keeps the instance warm: interpreter errors are the
// program's problem, not the environment's.
func (p *Pool) release(inst Instance, execErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inst != inst {
		// The instance was discarded while borrowed; nothing to keep.
		return
	}
	p.inUse = false
	p.lastUsed = time.Now()

	if execErr != nil && errors.Is(execErr, domain.ErrSandboxStale) {
		p.evictLocked()
		return
	}
	p.scheduleReapLocked()
}

// discard drops a known-bad instance so the next borrow creates a
// fresh one.
func (p *Pool) discard(inst Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inst == inst {
		p.inUse = false
		p.evictLocked()
	}
}

// scheduleReapLocked arms the idle timer. Caller holds mu.
func (p *Pool) scheduleReapLocked() {
	if p.reaper != nil {
		p.reaper.Stop()
	}
	p.reaper = time.AfterFunc(p.idleTimeout, p.reapIdle)
}

// reapIdle fires on the idle timer. An in-use instance is skipped and
// rescheduled: eviction must never race an in-flight call.
func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.inst == nil {
		return
	}
	if p.inUse || time.Since(p.lastUsed) < p.idleTimeout {
		p.scheduleReapLocked()
		return
	}
	p.logger.Debug("sandbox instance idle, evicting", "backend", p.backend.Name())
	p.evictLocked()
}

// evictLocked closes and forgets the warm instance. Caller holds mu.
func (p *Pool) evictLocked() {
	if p.reaper != nil {
		p.reaper.Stop()
		p.reaper = nil
	}
	if p.inst != nil {
		if err := p.inst.Close(); err != nil {
			p.logger.Warn("sandbox instance close failed",
				"backend", p.backend.Name(), "error", err)
		}
		p.inst = nil
	}
}

// Close shuts the pool down. An in-flight call finishes against its
// borrowed instance; later Exec calls fail.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if !p.inUse {
		p.evictLocked()
	}
}
