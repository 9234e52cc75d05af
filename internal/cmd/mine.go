package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quantaalpha/triald/internal/config"
	"github.com/quantaalpha/triald/internal/logging"
	"github.com/quantaalpha/triald/internal/orchestrator"
)

var mineFlags struct {
	direction            string
	directions           []string
	numDirections        int
	maxRounds            int
	maxLoops             int
	factorsPerHypothesis int
	librarySuffix        string
	parallel             bool
}

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Run a factor-mining trial in the foreground",
	Long: `Mine starts a mining task and supervises it until it finishes,
printing classified trial output as it streams. Multiple --directions
run as independent branches. Interrupting cancels the task.`,
	RunE: runMine,
}

func init() {
	rootCmd.AddCommand(mineCmd)

	mineCmd.Flags().StringVarP(&mineFlags.direction, "direction", "d", "", "research direction seed")
	mineCmd.Flags().StringSliceVar(&mineFlags.directions, "directions", nil, "explicit direction per branch")
	mineCmd.Flags().IntVar(&mineFlags.numDirections, "num-directions", 0, "number of branches seeded from --direction")
	mineCmd.Flags().IntVar(&mineFlags.maxRounds, "max-rounds", 0, "mining rounds per branch")
	mineCmd.Flags().IntVar(&mineFlags.maxLoops, "max-loops", 0, "evolution loops per round")
	mineCmd.Flags().IntVar(&mineFlags.factorsPerHypothesis, "factors-per-hypothesis", 0, "factors proposed per hypothesis")
	mineCmd.Flags().StringVar(&mineFlags.librarySuffix, "library-suffix", "", "factor library namespace suffix")
	mineCmd.Flags().BoolVar(&mineFlags.parallel, "parallel", false, "run branches concurrently")
}

func runMine(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if mineFlags.parallel {
		cfg.Branch.Parallel = true
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

	id, err := orch.StartMining(orchestrator.MiningRequest{
		Direction:            mineFlags.direction,
		Directions:           mineFlags.directions,
		NumDirections:        mineFlags.numDirections,
		MaxRounds:            mineFlags.maxRounds,
		MaxLoops:             mineFlags.maxLoops,
		FactorsPerHypothesis: mineFlags.factorsPerHypothesis,
		LibrarySuffix:        mineFlags.librarySuffix,
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
