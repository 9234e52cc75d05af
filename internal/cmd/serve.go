package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quantaalpha/triald/internal/config"
	"github.com/quantaalpha/triald/internal/logging"
	"github.com/quantaalpha/triald/internal/orchestrator"
	"github.com/quantaalpha/triald/internal/process"
	"github.com/quantaalpha/triald/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the triald API server",
	Long: `Serve runs the task lifecycle API and WebSocket event stream until
interrupted. Edits to the config file are picked up while running; in
particular the classifier rule tables can be tuned against a live
daemon.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
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

	config.Watch(func(newCfg config.Config) {
		orch.SetRules(newCfg.Classifier)
		logger.Info("configuration reloaded")
	}, func(err error) {
		logger.Warn("configuration reload rejected", "error", err)
	})

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(addr, orch, logger)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// newOrchestrator assembles an orchestrator from the loaded config.
func newOrchestrator(cfg config.Config, logger *logging.Logger) (*orchestrator.Orchestrator, error) {
	exec, err := process.NewExecutor(cfg.Trial.Executor)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Options{
		Executor: exec,
		Rules:    cfg.Classifier,
		Logger:   logger,
		Trial:    cfg.Trial,
		Branch:   cfg.Branch,
	}), nil
}
