// Package orchestrator supervises trial processes: it launches them,
// enforces deadlines, classifies their output into structured events,
// tracks lifecycle in the task registry, and fans events out to
// subscribers.
//
// One supervising goroutine runs per task, concurrently with all other
// tasks; a mining task may additionally supervise several branch
// processes at once. Each task record is written only through its own
// supervising path, so the orchestrator never contends on task state
// across tasks.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/quantaalpha/triald/internal/classify"
	"github.com/quantaalpha/triald/internal/config"
	"github.com/quantaalpha/triald/internal/errors"
	"github.com/quantaalpha/triald/internal/logging"
	"github.com/quantaalpha/triald/internal/process"
	"github.com/quantaalpha/triald/internal/task"
)

// Options configures an Orchestrator. Zero-value fields get working
// defaults so tests can construct a minimal instance.
type Options struct {
	Registry    *task.Registry
	Broadcaster *task.Broadcaster
	Executor    process.Executor
	Rules       classify.Rules
	Logger      *logging.Logger
	Trial       config.TrialConfig
	Branch      config.BranchConfig
}

// Orchestrator owns the task registry and implements the lifecycle API:
// start, get, cancel, list, subscribe. Instances are self-contained;
// nothing here is process-global.
type Orchestrator struct {
	registry    *task.Registry
	broadcaster *task.Broadcaster
	executor    process.Executor
	logger      *logging.Logger

	trial  config.TrialConfig
	branch config.BranchConfig

	rulesMu sync.RWMutex
	rules   classify.Rules

	// handles tracks every live process per task so cancel can signal
	// all branches. The task record itself exposes at most one handle.
	handlesMu sync.Mutex
	handles   map[string][]process.Handle

	wg sync.WaitGroup
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Registry == nil {
		opts.Registry = task.NewRegistry()
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = task.NewBroadcaster()
	}
	if opts.Executor == nil {
		opts.Executor = process.NewPipeExecutor()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if len(opts.Rules.Phases) == 0 && len(opts.Rules.Levels) == 0 && len(opts.Rules.Noise) == 0 {
		opts.Rules = classify.DefaultRules()
	}

	return &Orchestrator{
		registry:    opts.Registry,
		broadcaster: opts.Broadcaster,
		executor:    opts.Executor,
		logger:      opts.Logger,
		trial:       opts.Trial,
		branch:      opts.Branch,
		rules:       opts.Rules,
		handles:     make(map[string][]process.Handle),
	}
}

// Get returns a read-only snapshot of the task.
func (o *Orchestrator) Get(taskID string) (task.Snapshot, error) {
	t, err := o.registry.Get(taskID)
	if err != nil {
		return task.Snapshot{}, err
	}
	return t.Snapshot(), nil
}

// List returns snapshots of all known tasks, newest first.
func (o *Orchestrator) List() []task.Snapshot {
	tasks := o.registry.List()
	out := make([]task.Snapshot, len(tasks))
	for i, t := range tasks {
		out[i] = t.Snapshot()
	}
	return out
}

// Cancel requests cooperative termination of a task. Every live trial
// process receives SIGTERM; the supervising read loops then wind down
// naturally as the processes close their output. The status moves to
// cancelled unless the task is already terminal: cancelling twice, or
// cancelling a finished task, never changes an existing terminal
// status.
func (o *Orchestrator) Cancel(taskID string) error {
	t, err := o.registry.Get(taskID)
	if err != nil {
		return err
	}

	for _, h := range o.liveHandles(taskID) {
		if err := h.Signal(syscall.SIGTERM); err != nil {
			o.logger.WithTask(taskID).Warn("failed to signal trial process",
				"pid", h.PID(), "error", err)
		}
	}

	if t.SetStatus(task.StatusCancelled) {
		t.SetProgressMessage("task cancelled")
		o.logger.WithTask(taskID).Info("task cancelled")
		o.broadcaster.Publish(task.NewEvent(task.EventResult, taskID, resultPayload(t)))
	}
	return nil
}

// Subscribe attaches an event subscriber to the task's stream. The
// subscriber first receives the attach-time replay, then live events.
func (o *Orchestrator) Subscribe(taskID string) (*task.Subscriber, error) {
	t, err := o.registry.Get(taskID)
	if err != nil {
		return nil, err
	}
	return o.broadcaster.Subscribe(t), nil
}

// Unsubscribe detaches a subscriber.
func (o *Orchestrator) Unsubscribe(sub *task.Subscriber) {
	o.broadcaster.Unsubscribe(sub)
}

// Heartbeat answers a subscriber's liveness probe.
func (o *Orchestrator) Heartbeat(sub *task.Subscriber) {
	o.broadcaster.Heartbeat(sub)
}

// SetRules swaps the classifier rule tables. Trials started afterwards
// use the new tables; running trials keep the tables they started with.
func (o *Orchestrator) SetRules(rules classify.Rules) {
	o.rulesMu.Lock()
	o.rules = rules
	o.rulesMu.Unlock()
}

func (o *Orchestrator) currentRules() classify.Rules {
	o.rulesMu.RLock()
	defer o.rulesMu.RUnlock()
	return o.rules
}

// Wait blocks until every supervising goroutine has finished. Used by
// one-shot CLI runs and tests; the daemon does not call it.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// spawn runs fn as a task's supervising goroutine.
func (o *Orchestrator) spawn(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}

// trackHandle records a live process for the task. The task record's
// public handle reflects the first live process.
func (o *Orchestrator) trackHandle(t *task.Task, h process.Handle) {
	o.handlesMu.Lock()
	o.handles[t.ID()] = append(o.handles[t.ID()], h)
	first := len(o.handles[t.ID()]) == 1
	o.handlesMu.Unlock()

	if first {
		t.SetHandle(h.PID())
	}
}

// untrackHandle removes an exited process. The task record's handle is
// cleared once, when the last live process is gone.
func (o *Orchestrator) untrackHandle(t *task.Task, h process.Handle) {
	o.handlesMu.Lock()
	hs := o.handles[t.ID()]
	for i, cur := range hs {
		if cur == h {
			hs = append(hs[:i], hs[i+1:]...)
			break
		}
	}
	if len(hs) == 0 {
		delete(o.handles, t.ID())
	} else {
		o.handles[t.ID()] = hs
	}
	last := len(hs) == 0
	o.handlesMu.Unlock()

	if last {
		t.ClearHandle()
	}
}

// liveHandles returns the live processes for a task.
func (o *Orchestrator) liveHandles(taskID string) []process.Handle {
	o.handlesMu.Lock()
	defer o.handlesMu.Unlock()
	out := make([]process.Handle, len(o.handles[taskID]))
	copy(out, o.handles[taskID])
	return out
}

// deadline returns the per-trial wall-clock limit; zero disables it.
func (o *Orchestrator) deadline() time.Duration {
	return time.Duration(o.trial.TimeoutSeconds) * time.Second
}

// resultPayload builds the result event body from the task's final
// state.
func resultPayload(t *task.Task) map[string]any {
	return map[string]any{
		"status":  t.Status(),
		"metrics": t.Metrics(),
	}
}

// finalize applies the trial outcome to the task and publishes the
// closing events. A task that went terminal while the trial was winding
// down (cancellation) is left as-is: the first terminal transition
// wins, but the result event is always published so subscribers learn
// the outcome.
func (o *Orchestrator) finalize(t *task.Task, runErr error) {
	log := o.logger.WithTask(t.ID())

	switch {
	case runErr == nil:
		if t.SetStatus(task.StatusCompleted) {
			p := t.Progress()
			p.Phase = classify.PhaseCompleted
			p.Percent = 100
			p.Message = "trial completed"
			t.SetProgress(p)
			o.broadcaster.Publish(task.NewEvent(task.EventProgress, t.ID(), t.Progress()))
			log.Info("task completed", "metrics", t.Metrics())
		}
	default:
		if t.SetStatus(task.StatusFailed) {
			t.SetProgressMessage(runErr.Error())
			o.broadcaster.Publish(task.NewEvent(task.EventError, t.ID(), map[string]any{
				"error": runErr.Error(),
			}))
			log.Error("task failed", "error", runErr)
		}
	}

	o.broadcaster.Publish(task.NewEvent(task.EventResult, t.ID(), resultPayload(t)))
}

// superviseTrial launches one trial process and consumes it to
// completion: stream classification, deadline enforcement, handle
// bookkeeping. Returns nil on exit code 0, otherwise one of the
// supervision error types.
func (o *Orchestrator) superviseTrial(t *task.Task, cl *classify.Classifier, spec process.Spec, operation string) (err error) {
	log := o.logger.WithTask(t.ID())

	// A panic in the read/classify path must fail the task, not the
	// daemon.
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("%v", r)
			}
			err = errors.NewSupervisionError("panic during supervision", cause).WithTaskID(t.ID())
		}
	}()

	h, startErr := o.executor.Start(context.Background(), spec)
	if startErr != nil {
		return startErr
	}

	o.trackHandle(t, h)
	defer o.untrackHandle(t, h)

	guard := process.Guard(h, operation, o.deadline())
	defer guard.Stop()

	log.Debug("trial started", "pid", h.PID(), "command", spec.Command)

	for line := range h.Lines() {
		res, ok := cl.Classify(line)
		if !ok {
			continue
		}

		entry := t.AppendLog(res.Level, res.Line)

		if res.PhaseChanged {
			progress := t.SetPhase(res.Phase, res.Line)
			o.broadcaster.Publish(task.NewEvent(task.EventProgress, t.ID(), progress))
		}
		if res.Forward {
			o.broadcaster.Publish(task.NewEvent(task.EventLog, t.ID(), entry))
		}
		if len(res.Metrics) > 0 {
			merged := t.MergeMetrics(res.Metrics)
			o.broadcaster.Publish(task.NewEvent(task.EventMetrics, t.ID(), merged))
		}
	}

	code, waitErr := h.Wait()

	if guard.Expired() {
		return guard.Err()
	}
	if waitErr != nil {
		return errors.NewSupervisionError("trial wait failed", waitErr).WithTaskID(t.ID())
	}
	if code != 0 {
		return errors.NewProcessFailureError("trial exited with non-zero code", code)
	}
	return nil
}
