package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Rewrite drifted checksums to match the scripts on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return reportErr(cmd, err)
		}
		orch, err := buildOrchestrator(cmd.Context(), cfg)
		if err != nil {
			return reportErr(cmd, err)
		}
		result, err := orch.Repair(cmd.Context())
		if err != nil {
			return reportErr(cmd, err)
		}
		fmt.Printf("repaired %d checksum(s) across %d schema(s) in %dms\n", result.Reparations, len(result.Schemas), result.TotalTimeElapsedMS)
		return nil
	},
}
