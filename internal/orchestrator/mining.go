package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/quantaalpha/triald/internal/classify"
	"github.com/quantaalpha/triald/internal/errors"
	"github.com/quantaalpha/triald/internal/process"
	"github.com/quantaalpha/triald/internal/task"
)

// MiningRequest starts a factor-mining task.
type MiningRequest struct {
	// Direction seeds the research; empty means unguided mining.
	Direction string `json:"direction,omitempty"`
	// Directions runs one branch per entry. When set it overrides
	// Direction and NumDirections.
	Directions []string `json:"directions,omitempty"`
	// NumDirections runs that many branches seeded from Direction.
	// Values below 2 mean a single branch.
	NumDirections int `json:"numDirections,omitempty"`
	// MaxRounds bounds the mining rounds per branch.
	MaxRounds int `json:"maxRounds,omitempty"`
	// MaxLoops bounds the evolution loops per round.
	MaxLoops int `json:"maxLoops,omitempty"`
	// FactorsPerHypothesis bounds how many factors one hypothesis may
	// propose.
	FactorsPerHypothesis int `json:"factorsPerHypothesis,omitempty"`
	// LibrarySuffix namespaces the factor library written by this run.
	LibrarySuffix string `json:"librarySuffix,omitempty"`
}

// directions resolves the request into one direction string per branch.
func (r MiningRequest) directions() []string {
	if len(r.Directions) > 0 {
		return r.Directions
	}
	if r.NumDirections > 1 {
		out := make([]string, r.NumDirections)
		for i := range out {
			out[i] = r.Direction
		}
		return out
	}
	return []string{r.Direction}
}

// StartMining registers a mining task and begins supervising it in the
// background. The returned task id is immediately queryable; the
// caller observes the run through the task record and its event
// stream.
func (o *Orchestrator) StartMining(req MiningRequest) (string, error) {
	cfg, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode mining request")
	}

	t := task.New(task.KindMining, cfg, task.Progress{
		Phase:       classify.PhasePlanning,
		TotalRounds: req.MaxRounds,
		Message:     "starting experiment",
	})
	o.registry.Add(t)

	o.logger.WithTask(t.ID()).Info("mining task started",
		"direction", req.Direction, "branches", len(req.directions()))
	o.broadcaster.Publish(task.NewEvent(task.EventProgress, t.ID(), t.Progress()))

	o.spawn(func() { o.runMining(t, req) })
	return t.ID(), nil
}

// runMining drives a mining task to a terminal status: experiment
// environment setup, branch fan-out, outcome aggregation.
func (o *Orchestrator) runMining(t *task.Task, req MiningRequest) {
	env, err := o.experimentEnv(req)
	if err != nil {
		o.finalize(t, errors.NewSupervisionError("failed to prepare experiment workspace", err).
			WithTaskID(t.ID()))
		return
	}

	cl := classify.New(o.currentRules(), classify.PhasePlanning)
	branches := o.makeBranches(req.directions())

	results := o.runBranches(t, cl, branches, func(b branch) process.Spec {
		return o.miningSpec(req, b, env)
	})

	succeeded, failed := 0, 0
	var firstErr error
	for _, res := range results {
		if res.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = res.Err
			}
		} else {
			succeeded++
		}
	}

	if len(branches) > 1 {
		t.MergeMetrics(map[string]float64{
			"branchesSucceeded": float64(succeeded),
			"branchesFailed":    float64(failed),
		})
	}

	if failed > 0 {
		o.finalize(t, errors.Wrapf(firstErr, "%d of %d branches failed", failed, len(branches)))
		return
	}
	o.finalize(t, nil)
}

// miningSpec builds the process spec for one mining branch.
func (o *Orchestrator) miningSpec(req MiningRequest, b branch, env []string) process.Spec {
	cmd := o.trial.MiningCommand
	args := append([]string{}, cmd[1:]...)

	if b.Direction != "" {
		args = append(args, "--direction", b.Direction)
	}
	if req.MaxRounds > 0 {
		args = append(args, "--max-rounds", strconv.Itoa(req.MaxRounds))
	}
	if req.MaxLoops > 0 {
		args = append(args, "--max-loops", strconv.Itoa(req.MaxLoops))
	}
	if req.FactorsPerHypothesis > 0 {
		args = append(args, "--factors-per-hypothesis", strconv.Itoa(req.FactorsPerHypothesis))
	}

	return process.Spec{
		Command: cmd[0],
		Args:    args,
		WorkDir: o.trial.WorkDir,
		Env:     env,
	}
}

// experimentEnv creates the per-experiment workspace directories and
// returns the environment entries the trial reads them from. Each run
// gets a timestamped experiment id so concurrent runs never share a
// workspace.
func (o *Orchestrator) experimentEnv(req MiningRequest) ([]string, error) {
	expID := fmt.Sprintf("exp_%s", time.Now().Format("20060102_150405"))
	workspace := filepath.Join(o.trial.ResultsDir, "workspace_"+expID)
	pickleCache := filepath.Join(o.trial.ResultsDir, "pickle_cache_"+expID)

	for _, dir := range []string{workspace, pickleCache} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	env := []string{
		"EXPERIMENT_ID=" + expID,
		"WORKSPACE_PATH=" + workspace,
		"PICKLE_CACHE_FOLDER_PATH_STR=" + pickleCache,
	}
	if req.LibrarySuffix != "" {
		env = append(env, "FACTOR_LIBRARY_SUFFIX="+req.LibrarySuffix)
	}
	return env, nil
}
