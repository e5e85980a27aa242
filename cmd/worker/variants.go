package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "List the workflow variants this build knows about",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry, err := loadRegistry(cfg)
		if err != nil {
			return err
		}
		for _, name := range registry.Names() {
			v, _ := registry.Lookup(name)
			marker := " "
			if name == cfg.Variant {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %-20s %d assets  %s\n", marker, name, len(v.Assets), v.Description)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(variantsCmd)
}
