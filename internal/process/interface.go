// Package process defines the process-execution boundary for trial
// supervision.
//
// It provides a clean abstraction over how an external trial program is
// launched and observed, with one implementation selected at startup:
// a plain pipe-backed executor and a pty-backed executor for programs
// that only line-buffer when attached to a terminal. Business logic
// never branches on the execution mechanism.
package process

import (
	"context"
	"errors"
	"os"
)

// Common errors returned by Executor and Handle implementations.
var (
	// ErrAlreadyStarted is returned when a handle is started twice.
	ErrAlreadyStarted = errors.New("process already started")

	// ErrNotStarted is returned when an operation requires a started
	// process but none exists.
	ErrNotStarted = errors.New("process not started")
)

// Spec describes one external trial invocation.
type Spec struct {
	// Command is the executable to run.
	Command string

	// Args are the command arguments.
	Args []string

	// WorkDir is the working directory for the process.
	WorkDir string

	// Env holds extra KEY=VALUE entries merged over the parent
	// environment.
	Env []string
}

// Validate checks that the Spec has all required fields set.
func (s *Spec) Validate() error {
	if s.Command == "" {
		return errors.New("Command is required")
	}
	return nil
}

// Handle is a running trial process.
//
// The typical lifecycle is:
//  1. h, err := executor.Start(ctx, spec)
//  2. range over h.Lines() until the channel closes
//  3. code, err := h.Wait()
//
// The line stream carries stdout and stderr interleaved in arrival
// order; the two are never separated. The stream is lazy: lines are
// read from the process as the consumer drains the channel.
type Handle interface {
	// Lines returns the merged stdout+stderr line stream. The channel
	// is closed when the process closes its output, which is how a
	// supervising read loop terminates naturally after cancellation or
	// a deadline kill.
	Lines() <-chan string

	// Wait blocks until the process exits and returns its exit code.
	// Wait can be called from multiple goroutines.
	Wait() (int, error)

	// Signal sends sig to the process. Used for cooperative
	// cancellation (SIGTERM).
	Signal(sig os.Signal) error

	// Kill hard-terminates the process with no grace period.
	Kill() error

	// PID returns the operating system process id.
	PID() int
}

// Executor launches trial processes.
//
// Start returns a LaunchError immediately when the process cannot be
// spawned (command not found, permission denied). No retry is attempted
// here; retry, if any, belongs to the caller.
type Executor interface {
	Start(ctx context.Context, spec Spec) (Handle, error)
}

// Executor kinds selectable at startup.
const (
	KindPipe = "pipe"
	KindPty  = "pty"
)

// NewExecutor returns the executor implementation for the configured
// kind. An empty kind selects the pipe executor.
func NewExecutor(kind string) (Executor, error) {
	switch kind {
	case "", KindPipe:
		return NewPipeExecutor(), nil
	case KindPty:
		return NewPtyExecutor(), nil
	default:
		return nil, errors.New("unknown executor kind: " + kind)
	}
}
