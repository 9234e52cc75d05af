package process

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/quantaalpha/triald/internal/errors"
)

// PtyExecutor launches trials attached to a pseudo-terminal. Some trial
// programs only line-buffer their output when stdout is a tty; running
// them under a pty keeps the line stream timely. stdout and stderr
// share the terminal, so arrival-order interleaving holds here too.
type PtyExecutor struct{}

// NewPtyExecutor creates a PtyExecutor.
func NewPtyExecutor() *PtyExecutor {
	return &PtyExecutor{}
}

// Start launches the trial process described by spec under a pty.
func (e *PtyExecutor) Start(ctx context.Context, spec Spec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, errors.NewLaunchError("invalid spec", err)
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), spec.Env...)

	tty, err := pty.Start(cmd)
	if err != nil {
		return nil, errors.NewLaunchError("pty spawn failed", err).
			WithCommand(commandLine(spec)).
			WithWorkDir(spec.WorkDir)
	}

	h := &ptyHandle{
		cmd:   cmd,
		tty:   tty,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}
	go h.readLoop()
	return h, nil
}

// ptyHandle supervises one pty-backed process.
type ptyHandle struct {
	cmd   *exec.Cmd
	tty   *os.File
	lines chan string

	waitOnce sync.Once
	done     chan struct{}
	exitCode int
	waitErr  error
}

// readLoop scans the pty master into the line channel. On Linux the
// master read fails with EIO once the child exits; that is the normal
// end-of-stream condition, not an error.
func (h *ptyHandle) readLoop() {
	defer func() {
		_ = h.tty.Close()
		close(h.lines)
	}()

	scanner := bufio.NewScanner(h.tty)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		h.lines <- scanner.Text()
	}
}

// Lines returns the merged output line stream.
func (h *ptyHandle) Lines() <-chan string {
	return h.lines
}

// Wait blocks until the process exits and returns its exit code.
func (h *ptyHandle) Wait() (int, error) {
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
func (h *ptyHandle) Signal(sig os.Signal) error {
	if h.cmd.Process == nil {
		return ErrNotStarted
	}
	return h.cmd.Process.Signal(sig)
}

// Kill hard-terminates the process.
func (h *ptyHandle) Kill() error {
	if h.cmd.Process == nil {
		return ErrNotStarted
	}
	return h.cmd.Process.Kill()
}

// PID returns the process id.
func (h *ptyHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}
