package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check applied migrations against the scripts on disk without modifying anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return reportErr(cmd, err)
		}
		orch, err := buildOrchestrator(cmd.Context(), cfg)
		if err != nil {
			return reportErr(cmd, err)
		}
		result, err := orch.Validate(cmd.Context())
		if err != nil {
			return reportErr(cmd, err)
		}
		fmt.Printf("validated %d schema(s) in %dms\n", len(result.Schemas), result.TotalTimeElapsedMS)
		return nil
	},
}
