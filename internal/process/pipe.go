package process

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/quantaalpha/triald/internal/errors"
)

// PipeExecutor launches trials with their stdout and stderr joined into
// a single pipe, preserving arrival order.
type PipeExecutor struct{}

// NewPipeExecutor creates a PipeExecutor.
func NewPipeExecutor() *PipeExecutor {
	return &PipeExecutor{}
}

// Start launches the trial process described by spec.
func (e *PipeExecutor) Start(ctx context.Context, spec Spec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, errors.NewLaunchError("invalid spec", err)
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), spec.Env...)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, errors.NewLaunchError("output pipe", err)
	}
	// stderr interleaves with stdout in arrival order; the two streams
	// are never separated.
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, errors.NewLaunchError("spawn failed", err).
			WithCommand(commandLine(spec)).
			WithWorkDir(spec.WorkDir)
	}

	// The parent's copy of the write end must close so the read side
	// sees EOF once the child exits.
	_ = pw.Close()

	h := &pipeHandle{
		cmd:   cmd,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}
	go h.readLoop(pr)
	return h, nil
}

// commandLine formats a spec for error context.
func commandLine(spec Spec) string {
	if len(spec.Args) == 0 {
		return spec.Command
	}
	return spec.Command + " " + strings.Join(spec.Args, " ")
}

// pipeHandle supervises one pipe-backed process.
type pipeHandle struct {
	cmd   *exec.Cmd
	lines chan string

	waitOnce sync.Once
	done     chan struct{}
	exitCode int
	waitErr  error
}

// readLoop scans the combined output pipe into the line channel and
// closes it at EOF.
func (h *pipeHandle) readLoop(r *os.File) {
	defer func() {
		_ = r.Close()
		close(h.lines)
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		h.lines <- scanner.Text()
	}
}

// Lines returns the merged output line stream.
func (h *pipeHandle) Lines() <-chan string {
	return h.lines
}

// Wait blocks until the process exits and returns its exit code.
func (h *pipeHandle) Wait() (int, error) {
	h.waitOnce.Do(func() {
		defer close(h.done)
		err := h.cmd.Wait()
		if err == nil {
			h.exitCode = 0
			return
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			h.exitCode = exitErr.ExitCode()
			return
		}
		h.exitCode = -1
		h.waitErr = err
	})
	<-h.done
	return h.exitCode, h.waitErr
}

// Signal sends sig to the process.
func (h *pipeHandle) Signal(sig os.Signal) error {
	if h.cmd.Process == nil {
		return ErrNotStarted
	}
	return h.cmd.Process.Signal(sig)
}

// Kill hard-terminates the process.
func (h *pipeHandle) Kill() error {
	if h.cmd.Process == nil {
		return ErrNotStarted
	}
	return h.cmd.Process.Kill()
}

// PID returns the process id.
func (h *pipeHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}
