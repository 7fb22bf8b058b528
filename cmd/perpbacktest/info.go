package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newInfoCommand() *cobra.Command {
	var strategyID string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print a strategy's metadata and parameter schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := builtinRegistry()
			if err != nil {
				return &runtimeError{err}
			}
			d, err := registry.Get(strategyID)
			if err != nil {
				return &userError{err}
			}
			fmt.Printf("%s (%s) v%s\n", d.Metadata.Name, d.ID, d.Metadata.Version)
			if d.Metadata.Description != "" {
				fmt.Println(d.Metadata.Description)
			}
			names := make([]string, 0, len(d.Parameters))
			for name := range d.Parameters {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Println("\nparameters:")
			for _, name := range names {
				p := d.Parameters[name]
				switch {
				case len(p.Choices) > 0:
					fmt.Printf("  %-16s %-8s default=%v choices=%v\n", name, p.Type, p.Default, p.Choices)
				case p.Min != 0 || p.Max != 0:
					fmt.Printf("  %-16s %-8s default=%v range=[%v,%v]\n", name, p.Type, p.Default, p.Min, p.Max)
				default:
					fmt.Printf("  %-16s %-8s default=%v\n", name, p.Type, p.Default)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&strategyID, "strategy", "s", "", "strategy ID (see list)")
	cmd.MarkFlagRequired("strategy")
	return cmd
}
