package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantaalpha/triald/internal/config"
	"github.com/quantaalpha/triald/internal/logging"
	"github.com/quantaalpha/triald/internal/orchestrator"
)

var backtestFlags struct {
	factorJSON   string
	factorFile   string
	factorSource string
	configPath   string
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a single-factor backtest in the foreground",
	RunE:  runBacktest,
}

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVar(&backtestFlags.factorJSON, "factor-json", "", "factor definition as inline JSON")
	backtestCmd.Flags().StringVar(&backtestFlags.factorFile, "factor-file", "", "file holding the factor definition JSON")
	backtestCmd.Flags().StringVar(&backtestFlags.factorSource, "factor-source", "", "factor origin label")
	backtestCmd.Flags().StringVar(&backtestFlags.configPath, "config-path", "", "backtest configuration file passed to the trial")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	factorJSON := backtestFlags.factorJSON
	if backtestFlags.factorFile != "" {
		raw, err := os.ReadFile(backtestFlags.factorFile)
		if err != nil {
			return fmt.Errorf("failed to read factor file: %w", err)
		}
		factorJSON = string(raw)
	}
	if factorJSON == "" {
		return fmt.Errorf("either --factor-json or --factor-file is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Close()

	orch, err := newOrchestrator(cfg, logger)
	if err != nil {
		return err
	}

	id, err := orch.StartBacktest(orchestrator.BacktestRequest{
		FactorJSON:   factorJSON,
		FactorSource: backtestFlags.factorSource,
		ConfigPath:   backtestFlags.configPath,
	})
	if err != nil {
		return err
	}

	snap, err := runForeground(orch, id)
	if err != nil {
		return err
	}
	return finish(snap)
}
