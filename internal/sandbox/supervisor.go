package sandbox

import (
	"fmt"
	"sync"
	"time"

	"github.com/heimdall-run/heimdall/internal/herrors"
	"github.com/heimdall-run/heimdall/internal/logger"
	"github.com/heimdall-run/heimdall/internal/sandbox/pyengine"
)

// workerState is PySupervisor's lifecycle state, per the
// Absent->Starting->Idle->Busy->{Idle,Absent} machine.
type workerState int

const (
	stateAbsent workerState = iota
	stateStarting
	stateIdle
	stateBusy
)

// ExecResult is what PySupervisor.Execute returns to the Coordinator.
type ExecResult struct {
	Success bool
	Stdout  string
	Stderr  string
	Result  string
	Error   string
}

// PySupervisor owns PyWorker's lifecycle: lazy spawn on first use,
// serialized dispatch, and hard timeout enforcement by killing the
// worker's process group. Adapted from scopedSandboxManager's
// getOrCreateSandbox lazy-spawn-with-map pattern (manager.go),
// collapsed from a keyed map of scoped sandboxes to a single worker
// slot, since spec.md 4.6 requires exactly one live worker serving
// requests serially.
type PySupervisor struct {
	pythonCmd       string
	virtWorkspace   string
	initTimeout     time.Duration
	execTimeout     time.Duration
	sync            *SyncEngine

	mu     sync.Mutex
	state  workerState
	worker *pyengine.Worker
}

// NewPySupervisor builds a supervisor. execTimeout of zero or less
// disables the per-request timeout (spec.md 4.6 step 2: "if positive").
func NewPySupervisor(pythonCmd, virtWorkspace string, initTimeout, execTimeout time.Duration, sync *SyncEngine) *PySupervisor {
	return &PySupervisor{
		pythonCmd:     pythonCmd,
		virtWorkspace: virtWorkspace,
		initTimeout:   initTimeout,
		execTimeout:   execTimeout,
		sync:          sync,
		state:         stateAbsent,
	}
}

// Execute runs code (with optional packages to install first) against
// the worker, spawning it if absent, and enforces the configured
// wall-clock timeout by killing the worker's process group.
func (p *PySupervisor) Execute(code string, packages []string) (*ExecResult, error) {
	p.mu.Lock()
	if p.state == stateAbsent {
		if err := p.spawnLocked(); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	p.state = stateBusy
	worker := p.worker
	p.mu.Unlock()

	if err := p.sync.SyncHostToVirtual(); err != nil {
		logger.WarnCF("pysupervisor", "pre-execution sync failed, continuing", map[string]any{"error": err.Error()})
	}

	type outcome struct {
		res *pyengine.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := worker.Execute(pyengine.Request{Code: code, Packages: packages})
		done <- outcome{res, err}
	}()

	var timer *time.Timer
	var timerC <-chan time.Time
	if p.execTimeout > 0 {
		timer = time.NewTimer(p.execTimeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case o := <-done:
		if syncErr := p.sync.SyncVirtualToHost(); syncErr != nil {
			logger.WarnCF("pysupervisor", "post-execution sync failed", map[string]any{"error": syncErr.Error()})
		}
		if o.err != nil {
			p.markAbsent()
			return nil, herrors.Wrap(herrors.KindWorkerUnavailable, "worker exited unexpectedly", o.err)
		}
		p.markIdle()
		return &ExecResult{
			Success: o.res.Success,
			Stdout:  o.res.Stdout,
			Stderr:  o.res.Stderr,
			Result:  o.res.Result,
			Error:   o.res.Error,
		}, nil

	case <-timerC:
		_ = worker.Kill()
		if syncErr := p.sync.SyncVirtualToHost(); syncErr != nil {
			logger.WarnCF("pysupervisor", "post-timeout sync failed", map[string]any{"error": syncErr.Error()})
		}
		p.markAbsent()
		return nil, herrors.New(herrors.KindTimeout, "python execution exceeded timeout")
	}
}

// spawnLocked starts the worker and blocks (up to initTimeout) for its
// ready signal. Must be called with p.mu held.
func (p *PySupervisor) spawnLocked() error {
	p.state = stateStarting

	type outcome struct {
		w   *pyengine.Worker
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		w, err := pyengine.Start(p.pythonCmd, p.virtWorkspace)
		done <- outcome{w, err}
	}()

	timeout := p.initTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	select {
	case o := <-done:
		if o.err != nil {
			p.state = stateAbsent
			return herrors.Wrap(herrors.KindWorkerUnavailable, "worker failed to initialize", o.err)
		}
		p.worker = o.w
		p.state = stateIdle
		return nil
	case <-time.After(timeout):
		go func() {
			if o := <-done; o.w != nil {
				_ = o.w.Kill()
			}
		}()
		p.state = stateAbsent
		return herrors.New(herrors.KindWorkerUnavailable, fmt.Sprintf("worker did not become ready within %s", timeout))
	}
}

func (p *PySupervisor) markIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = stateIdle
}

func (p *PySupervisor) markAbsent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = stateAbsent
	p.worker = nil
}

// Shutdown terminates the worker if one is running. Safe to call when
// absent.
func (p *PySupervisor) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.worker != nil {
		_ = p.worker.Kill()
		p.worker = nil
	}
	p.state = stateAbsent
}
