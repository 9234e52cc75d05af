package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sourcegraph/conc"

	"github.com/quantaalpha/triald/internal/classify"
	"github.com/quantaalpha/triald/internal/errors"
	"github.com/quantaalpha/triald/internal/process"
	"github.com/quantaalpha/triald/internal/task"
)

// branch is one independent research direction within a mining task.
type branch struct {
	// Index is 1-based and stable for the task's lifetime.
	Index int
	// Direction seeds the branch's research; empty means unguided.
	Direction string
	// LogDir is the branch's dedicated log directory, set only for
	// multi-branch runs.
	LogDir string
}

// branchResult pairs a branch with its supervision outcome.
type branchResult struct {
	Branch branch
	Err    error
}

// makeBranches expands direction strings into branches. Branch log
// directories are assigned only when more than one branch runs; a
// single-branch task logs wherever the trial program logs by default.
func (o *Orchestrator) makeBranches(directions []string) []branch {
	if len(directions) == 0 {
		directions = []string{""}
	}

	branches := make([]branch, len(directions))
	for i, dir := range directions {
		b := branch{Index: i + 1, Direction: dir}
		if len(directions) > 1 {
			b.LogDir = filepath.Join(o.branch.LogRoot,
				fmt.Sprintf("%s_%02d", o.branch.LogPrefix, b.Index))
		}
		branches[i] = b
	}
	return branches
}

// runBranches supervises every branch to completion and returns all
// outcomes. Parallel mode runs branches concurrently; either way the
// scheduler joins every branch regardless of individual failures, so
// one failed direction never aborts its siblings. All branches feed the
// task's single classifier, whose phase machine is task-scoped.
func (o *Orchestrator) runBranches(t *task.Task, cl *classify.Classifier, branches []branch, specFor func(branch) process.Spec) []branchResult {
	results := make([]branchResult, len(branches))

	run := func(i int) {
		b := branches[i]
		results[i] = branchResult{Branch: b, Err: o.superviseBranch(t, cl, b, specFor(b))}
	}

	if o.branch.Parallel && len(branches) > 1 {
		var wg conc.WaitGroup
		for i := range branches {
			i := i
			wg.Go(func() { run(i) })
		}
		wg.Wait()
	} else {
		for i := range branches {
			run(i)
		}
	}
	return results
}

// superviseBranch prepares the branch's log directory and supervises
// its trial process. Errors are tagged with the branch index.
func (o *Orchestrator) superviseBranch(t *task.Task, cl *classify.Classifier, b branch, spec process.Spec) error {
	log := o.logger.WithTask(t.ID()).WithBranch(b.Index)

	if b.LogDir != "" {
		if err := os.MkdirAll(b.LogDir, 0o755); err != nil {
			return errors.NewSupervisionError("failed to create branch log directory", err).
				WithTaskID(t.ID()).WithBranch(b.Index)
		}
		spec.Env = append(spec.Env, "TRIAL_LOG_DIR="+b.LogDir)
	}

	log.Info("branch started", "direction", b.Direction, "log_dir", b.LogDir)

	operation := fmt.Sprintf("mining trial branch %d", b.Index)
	err := o.superviseTrial(t, cl, spec, operation)

	if err != nil {
		log.Error("branch failed", "error", err)
		var supErr *errors.SupervisionError
		if errors.As(err, &supErr) && supErr.Branch < 0 {
			supErr.Branch = b.Index
		}
		return err
	}

	log.Info("branch completed")
	return nil
}
