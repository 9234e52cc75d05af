package process

import (
	"sync/atomic"
	"time"

	"github.com/quantaalpha/triald/internal/errors"
)

// Deadline enforces a wall-clock limit on one trial run. It is armed
// when created and must be stopped on every exit path of the run it
// guards; the timer never outlives the call that created it.
//
// Expiry is one-shot and non-resettable: when the timer fires the
// process is hard-killed, and the guard does not attempt to resume
// supervision. The supervising read loop then terminates naturally as
// the dying process closes its output.
//
//	guard := process.Guard(handle, "mining trial", deadline)
//	defer guard.Stop()
//	for line := range handle.Lines() { ... }
//	code, _ := handle.Wait()
//	if err := guard.Err(); err != nil { ... }
type Deadline struct {
	timer   *time.Timer
	expired atomic.Bool

	operation string
	limit     time.Duration
}

// Guard arms a deadline for the given handle. A non-positive limit
// disables enforcement; the returned guard is still valid and Stop and
// Err remain safe to call.
func Guard(h Handle, operation string, limit time.Duration) *Deadline {
	g := &Deadline{
		operation: operation,
		limit:     limit,
	}
	if limit <= 0 {
		return g
	}
	g.timer = time.AfterFunc(limit, func() {
		g.expired.Store(true)
		// Hard termination, no grace period.
		_ = h.Kill()
	})
	return g
}

// Stop disarms the timer. Safe to call multiple times and after expiry.
func (g *Deadline) Stop() {
	if g.timer != nil {
		g.timer.Stop()
	}
}

// Expired reports whether the deadline fired.
func (g *Deadline) Expired() bool {
	return g.expired.Load()
}

// Err returns a TimeoutError when the deadline fired, nil otherwise.
func (g *Deadline) Err() error {
	if !g.expired.Load() {
		return nil
	}
	return errors.NewTimeoutError(g.operation, g.limit)
}
