package orchestrator

import (
	"context"
	"os/exec"

	"github.com/ryehost/rye/internal/chain"
)

// Primitive runs a terminal chain element as a detached OS subprocess
// (SPEC_FULL.md [DISPATCHER], Open Question #2: resolved in favor of a
// plain os/exec-based runner rather than an external "-proc"/"-watch" helper
// binary — one less moving part to ship, and exec.CommandContext already
// gives the cancellation semantics the harness needs).
type Primitive interface {
	// Start launches the terminal link's command with env and params, and
	// returns a Handle for waiting/killing it.
	Start(ctx context.Context, terminal chain.Link, env map[string]string, params map[string]string) (Handle, error)
}

// Handle represents one running primitive process.
type Handle interface {
	// Wait blocks until the process exits, returning its result.
	Wait(ctx context.Context) (Result, error)
	// Kill sends a termination signal; a repeated call forces termination.
	Kill(ctx context.Context) error
	PID() int
}

// Result is a terminal primitive's outcome.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// ProcessPrimitive runs the terminal link's runtime command via os/exec,
// reading the command line and arguments from its metadata (the "command"
// and "args" fields set by the artifact author).
type ProcessPrimitive struct{}

type processHandle struct {
	cmd      *exec.Cmd
	stdout   *limitedBuffer
	stderr   *limitedBuffer
	termSent bool // a graceful signal was already sent; the next Kill forces
}

// Start implements Primitive.
func (ProcessPrimitive) Start(ctx context.Context, terminal chain.Link, env map[string]string, params map[string]string) (Handle, error) {
	command, args := commandOf(terminal, params)

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = envSlice(env)

	stdout := newLimitedBuffer(maxCapturedOutput)
	stderr := newLimitedBuffer(maxCapturedOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &processHandle{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

func (h *processHandle) Wait(ctx context.Context) (Result, error) {
	err := h.cmd.Wait()
	exitCode := 0
	if h.cmd.ProcessState != nil {
		exitCode = h.cmd.ProcessState.ExitCode()
	}
	if err != nil && h.cmd.ProcessState == nil {
		return Result{}, err
	}
	return Result{ExitCode: exitCode, Stdout: h.stdout.Bytes(), Stderr: h.stderr.Bytes()}, nil
}

func (h *processHandle) Kill(ctx context.Context) error {
	if h.cmd.Process == nil {
		return nil
	}
	if h.termSent {
		return h.cmd.Process.Kill()
	}
	h.termSent = true
	if err := h.cmd.Process.Signal(terminateSignal()); err != nil {
		return h.cmd.Process.Kill()
	}
	return nil
}

func (h *processHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}
