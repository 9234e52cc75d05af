package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quantaalpha/triald/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "triald",
	Short: "Trial supervision daemon for factor research",
	Long: `Triald launches and supervises factor-mining and backtest trials:
it enforces wall-clock deadlines, classifies trial output into phases
and metrics, and streams structured task events to API clients.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(func() {
		config.Init(cfgFile)
	})

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default is $HOME/.config/triald/triald.yaml)")
}
