package main

import (
	"github.com/spf13/cobra"
)

var (
	flagConfigPath string
	flagVerbosity  int
	flagPretty     bool
)

// newRootCommand builds the cobra command tree per §6's CLI surface
// table, grounded on the teacher's root-command + subcommand wiring
// and context-with-timeout usage.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "perpbacktest",
		Short:         "Backtest perpetual-futures strategies against historical exchange data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagConfigPath, "config", "config.yaml", "path to the root config file")
	root.PersistentFlags().CountVarP(&flagVerbosity, "verbose", "v", "increase log verbosity (-v, -vv)")
	root.PersistentFlags().BoolVar(&flagPretty, "pretty", true, "human-readable console logging instead of JSON")

	root.AddCommand(
		newListCommand(),
		newInfoCommand(),
		newRunCommand(),
		newPortfolioCommand(),
		newExperimentCommand(),
		newUniverseCommand(),
		newVerifyCommand(),
		newServeCommand(),
	)
	return root
}
