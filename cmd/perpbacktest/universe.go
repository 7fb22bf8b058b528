package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newUniverseCommand stubs the universe-construction surface. Symbol
// universe curation (liquidity screening, listing/delisting tracking)
// is an external collaborator's concern, out of this tool's core scope;
// the subcommand tree exists so scripts invoking it fail loudly with a
// clear message rather than "unknown command".
func newUniverseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "universe",
		Short: "Universe construction (build/show/export/list) is not implemented in core",
	}
	notImplemented := func(sub string) *cobra.Command {
		return &cobra.Command{
			Use:   sub,
			Short: fmt.Sprintf("universe %s is not implemented in core", sub),
			RunE: func(cmd *cobra.Command, args []string) error {
				return &userError{fmt.Errorf("cli: universe %s is not implemented in core; use an external universe-curation tool and pass symbols directly to run/portfolio/experiment", sub)}
			},
		}
	}
	cmd.AddCommand(notImplemented("build"), notImplemented("show"), notImplemented("export"), notImplemented("list"))
	return cmd
}
