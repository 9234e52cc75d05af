package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/quantaalpha/triald/internal/classify"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)
	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:8000" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if cfg.Trial.Executor != "pipe" {
		t.Errorf("trial.executor = %q, want pipe", cfg.Trial.Executor)
	}
	if cfg.Branch.LogPrefix != "branch" {
		t.Errorf("branch.log_prefix = %q, want branch", cfg.Branch.LogPrefix)
	}
	if len(cfg.Trial.MiningCommand) == 0 {
		t.Error("default mining command missing")
	}

	// With no classifier section the compiled defaults apply.
	if len(cfg.Classifier.Phases) == 0 {
		t.Fatal("default classifier rules should be loaded")
	}
	if phase, ok := cfg.Classifier.MatchPhase("factor_propose step"); !ok || phase != classify.PhaseEvolving {
		t.Errorf("default rules should map factor_propose to evolving, got %q", phase)
	}
}

func TestLoad_FromFile(t *testing.T) {
	resetViper(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "triald.yaml")
	content := `
server:
  addr: "0.0.0.0:9000"
trial:
  executor: pty
  timeout_seconds: 7200
branch:
  parallel: true
classifier:
  noise:
    - "ignore me"
  phases:
    - match: "stage two"
      phase: evolving
  levels:
    - match: "BOOM"
      level: error
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	Init(path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if cfg.Trial.Executor != "pty" {
		t.Errorf("trial.executor = %q", cfg.Trial.Executor)
	}
	if cfg.Trial.TimeoutSeconds != 7200 {
		t.Errorf("timeout_seconds = %d", cfg.Trial.TimeoutSeconds)
	}
	if !cfg.Branch.Parallel {
		t.Error("branch.parallel should be true")
	}

	// File-provided classifier rules replace the defaults entirely.
	if !cfg.Classifier.IsNoise("please ignore me now") {
		t.Error("file noise rule not applied")
	}
	if phase, ok := cfg.Classifier.MatchPhase("entering stage two"); !ok || phase != classify.PhaseEvolving {
		t.Errorf("file phase rule not applied, got %q", phase)
	}
	if cfg.Classifier.MatchLevel("BOOM happened") != classify.LevelError {
		t.Error("file level rule not applied")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server: ServerConfig{Addr: "127.0.0.1:8000"},
			Trial: TrialConfig{
				Executor:        "pipe",
				MiningCommand:   []string{"true"},
				BacktestCommand: []string{"true"},
			},
			Branch: BranchConfig{LogPrefix: "branch"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, true},
		{"negative timeout", func(c *Config) { c.Trial.TimeoutSeconds = -1 }, true},
		{"bad executor", func(c *Config) { c.Trial.Executor = "tmux" }, true},
		{"no mining command", func(c *Config) { c.Trial.MiningCommand = nil }, true},
		{"no backtest command", func(c *Config) { c.Trial.BacktestCommand = nil }, true},
		{"empty prefix", func(c *Config) { c.Branch.LogPrefix = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
