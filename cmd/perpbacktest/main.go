// Command perpbacktest is the CLI surface over the backtest engine,
// data pipeline, experiment runner, and result analyzer: list/info for
// strategy discovery, run/portfolio for single and batch backtests,
// experiment for parameter sweeps, universe as an out-of-scope stub,
// and verify as a self-test.
package main

import (
	"fmt"
	"os"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
