// Package config loads triald configuration through viper: defaults,
// YAML config file, and TRIALD_* environment overrides, in ascending
// precedence.
//
// The output-classification rule tables live here as configuration
// (see classify.Rules), so the coupling to the trial programs' log
// wording is declared data, not code.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/quantaalpha/triald/internal/classify"
	"github.com/quantaalpha/triald/internal/process"
)

// Config represents the complete triald configuration.
type Config struct {
	Server     ServerConfig   `mapstructure:"server"`
	Logging    LoggingConfig  `mapstructure:"logging"`
	Trial      TrialConfig    `mapstructure:"trial"`
	Branch     BranchConfig   `mapstructure:"branch"`
	Classifier classify.Rules `mapstructure:"classifier"`
}

// ServerConfig controls the HTTP/WebSocket surface.
type ServerConfig struct {
	// Addr is the listen address for the API server.
	Addr string `mapstructure:"addr"`
}

// LoggingConfig controls the daemon's operational log.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level"`
	// Dir is where triald.log is written; empty means stderr.
	Dir string `mapstructure:"dir"`
}

// TrialConfig controls how trial processes are launched and bounded.
type TrialConfig struct {
	// Executor selects the process execution mechanism: "pipe" or "pty".
	Executor string `mapstructure:"executor"`
	// MiningCommand is the mining trial command line (argv form).
	MiningCommand []string `mapstructure:"mining_command"`
	// BacktestCommand is the backtest trial command line (argv form).
	BacktestCommand []string `mapstructure:"backtest_command"`
	// WorkDir is the working directory trials run in.
	WorkDir string `mapstructure:"workdir"`
	// TimeoutSeconds is the per-trial wall-clock deadline; 0 disables it.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// ResultsDir is where per-experiment workspace directories are
	// created and exported to trials via environment variables.
	ResultsDir string `mapstructure:"results_dir"`
}

// BranchConfig controls multi-direction mining runs.
type BranchConfig struct {
	// Parallel runs branches concurrently instead of one at a time.
	Parallel bool `mapstructure:"parallel"`
	// LogRoot is the root directory for branch log subdirectories.
	LogRoot string `mapstructure:"log_root"`
	// LogPrefix names branch log subdirectories: {log_root}/{log_prefix}_NN.
	LogPrefix string `mapstructure:"log_prefix"`
}

// SetDefaults registers default values with viper. Call before reading
// the config file so defaults apply even without one.
func SetDefaults() {
	viper.SetDefault("server.addr", "127.0.0.1:8000")

	viper.SetDefault("logging.level", "INFO")
	viper.SetDefault("logging.dir", "")

	viper.SetDefault("trial.executor", process.KindPipe)
	viper.SetDefault("trial.mining_command", []string{"python", "-m", "quantaalpha.cli", "mine"})
	viper.SetDefault("trial.backtest_command", []string{"python", "-m", "quantaalpha.backtest.run_backtest"})
	viper.SetDefault("trial.workdir", ".")
	viper.SetDefault("trial.timeout_seconds", 0)
	viper.SetDefault("trial.results_dir", filepath.Join("data", "results"))

	viper.SetDefault("branch.parallel", false)
	viper.SetDefault("branch.log_root", "log")
	viper.SetDefault("branch.log_prefix", "branch")
}

// Load unmarshals the current viper state into a validated Config.
// When the classifier section is absent, the compiled default rule
// tables are used.
func Load() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(cfg.Classifier.Phases) == 0 && len(cfg.Classifier.Levels) == 0 &&
		len(cfg.Classifier.Noise) == 0 {
		cfg.Classifier = classify.DefaultRules()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Trial.TimeoutSeconds < 0 {
		return fmt.Errorf("trial.timeout_seconds must not be negative")
	}
	if _, err := process.NewExecutor(c.Trial.Executor); err != nil {
		return fmt.Errorf("trial.executor: %w", err)
	}
	if len(c.Trial.MiningCommand) == 0 {
		return fmt.Errorf("trial.mining_command must not be empty")
	}
	if len(c.Trial.BacktestCommand) == 0 {
		return fmt.Errorf("trial.backtest_command must not be empty")
	}
	if c.Branch.LogPrefix == "" {
		return fmt.Errorf("branch.log_prefix must not be empty")
	}
	return nil
}

// Init wires viper to the config file and environment. An explicit
// cfgFile wins over discovery in the standard locations.
func Init(cfgFile string) {
	SetDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("triald")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(ConfigDir())
		viper.AddConfigPath("$HOME/.config/triald")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TRIALD")
	// TRIALD_TRIAL_TIMEOUT_SECONDS for trial.timeout_seconds
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Missing config file is fine; defaults apply.
	_ = viper.ReadInConfig()
}

// Watch re-loads the configuration whenever the config file changes and
// hands the result to onChange. Reload failures are reported to onError
// and the previous configuration stays in effect — notably, this lets
// the classifier rule tables be tuned against a running daemon.
func Watch(onChange func(Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("config reload from %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// ConfigDir returns the triald configuration directory.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "triald")
}
