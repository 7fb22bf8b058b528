package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	var detailed bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Enumerate registered strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := builtinRegistry()
			if err != nil {
				return &runtimeError{err}
			}
			metas := registry.List()
			sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
			for _, m := range metas {
				if detailed {
					fmt.Printf("%-16s %-20s v%-8s %s\n", m.ID, m.Name, m.Version, m.Description)
				} else {
					fmt.Println(m.ID)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&detailed, "detailed", false, "print name, version, and description alongside each ID")
	return cmd
}
