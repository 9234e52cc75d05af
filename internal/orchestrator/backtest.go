package orchestrator

import (
	"encoding/json"

	"github.com/quantaalpha/triald/internal/classify"
	"github.com/quantaalpha/triald/internal/errors"
	"github.com/quantaalpha/triald/internal/process"
	"github.com/quantaalpha/triald/internal/task"
)

// BacktestRequest starts a single-factor backtest task.
type BacktestRequest struct {
	// FactorJSON is the factor definition, passed through to the trial
	// verbatim.
	FactorJSON string `json:"factorJson"`
	// FactorSource identifies where the factor came from; defaults to
	// "custom".
	FactorSource string `json:"factorSource,omitempty"`
	// ConfigPath is the backtest configuration file; defaults to
	// configs/backtest.yaml.
	ConfigPath string `json:"configPath,omitempty"`
}

const (
	defaultBacktestConfig = "configs/backtest.yaml"
	defaultFactorSource   = "custom"
)

// StartBacktest registers a backtest task and begins supervising it in
// the background.
func (o *Orchestrator) StartBacktest(req BacktestRequest) (string, error) {
	if req.FactorJSON == "" {
		return "", errors.New("factorJson is required")
	}

	cfg, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode backtest request")
	}

	t := task.New(task.KindBacktest, cfg, task.Progress{
		Phase:   classify.PhaseBacktesting,
		Message: "starting backtest",
	})
	o.registry.Add(t)

	o.logger.WithTask(t.ID()).Info("backtest task started", "source", req.FactorSource)
	o.broadcaster.Publish(task.NewEvent(task.EventProgress, t.ID(), t.Progress()))

	o.spawn(func() { o.runBacktest(t, req) })
	return t.ID(), nil
}

// runBacktest drives a backtest task to a terminal status. Backtests
// are single-process: no branches, no experiment workspace.
func (o *Orchestrator) runBacktest(t *task.Task, req BacktestRequest) {
	cl := classify.New(o.currentRules(), classify.PhaseBacktesting)
	err := o.superviseTrial(t, cl, o.backtestSpec(req), "backtest trial")
	o.finalize(t, err)
}

// backtestSpec builds the process spec for a backtest run.
func (o *Orchestrator) backtestSpec(req BacktestRequest) process.Spec {
	configPath := req.ConfigPath
	if configPath == "" {
		configPath = defaultBacktestConfig
	}
	source := req.FactorSource
	if source == "" {
		source = defaultFactorSource
	}

	cmd := o.trial.BacktestCommand
	args := append([]string{}, cmd[1:]...)
	args = append(args,
		"-c", configPath,
		"--factor-source", source,
		"--factor-json", req.FactorJSON,
	)

	return process.Spec{
		Command: cmd[0],
		Args:    args,
		WorkDir: o.trial.WorkDir,
	}
}
