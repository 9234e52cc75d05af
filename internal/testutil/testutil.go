// Package testutil provides shared test doubles for triald tests.
package testutil

import (
	"context"
	"os"
	"sync"

	"github.com/quantaalpha/triald/internal/errors"
	"github.com/quantaalpha/triald/internal/process"
)

// Script describes one fake trial process: the lines it emits and how
// it exits. A blocking script stays alive until signalled or killed,
// which is how cancellation and deadline paths are exercised without
// real child processes.
type Script struct {
	Lines []string
	Exit  int
	Block bool
}

// ScriptedExecutor hands out scripted process handles in start order
// and records every spec it was started with. Starting beyond the
// scripted runs returns a LaunchError, which doubles as the
// launch-failure fixture.
type ScriptedExecutor struct {
	mu      sync.Mutex
	scripts []Script
	specs   []process.Spec
	handles []*scriptedHandle
}

// NewScriptedExecutor creates an executor that plays the given scripts.
func NewScriptedExecutor(scripts ...Script) *ScriptedExecutor {
	return &ScriptedExecutor{scripts: scripts}
}

// Start implements process.Executor.
func (f *ScriptedExecutor) Start(_ context.Context, spec process.Spec) (process.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.scripts) == 0 {
		return nil, errors.NewLaunchError("spawn failed", os.ErrNotExist).
			WithCommand(spec.Command)
	}
	s := f.scripts[0]
	f.scripts = f.scripts[1:]
	f.specs = append(f.specs, spec)

	h := &scriptedHandle{
		script:     s,
		pid:        1000 + len(f.handles),
		lines:      make(chan string),
		terminated: make(chan struct{}),
		done:       make(chan struct{}),
	}
	f.handles = append(f.handles, h)
	go h.run()
	return h, nil
}

// StartedSpecs returns a copy of the specs passed to Start, in order.
func (f *ScriptedExecutor) StartedSpecs() []process.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]process.Spec, len(f.specs))
	copy(out, f.specs)
	return out
}

type scriptedHandle struct {
	script Script
	pid    int

	lines      chan string
	terminated chan struct{}
	done       chan struct{}
	termOnce   sync.Once

	exitCode int
}

func (h *scriptedHandle) run() {
	for _, line := range h.script.Lines {
		select {
		case h.lines <- line:
		case <-h.terminated:
			h.exitCode = -1
			close(h.lines)
			close(h.done)
			return
		}
	}
	if h.script.Block {
		<-h.terminated
		h.exitCode = -1
	} else {
		h.exitCode = h.script.Exit
	}
	close(h.lines)
	close(h.done)
}

func (h *scriptedHandle) Lines() <-chan string { return h.lines }

func (h *scriptedHandle) Wait() (int, error) {
	<-h.done
	return h.exitCode, nil
}

func (h *scriptedHandle) Signal(os.Signal) error {
	h.termOnce.Do(func() { close(h.terminated) })
	return nil
}

func (h *scriptedHandle) Kill() error {
	h.termOnce.Do(func() { close(h.terminated) })
	return nil
}

func (h *scriptedHandle) PID() int { return h.pid }
