package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Drop every schema this engine created or adopted as empty",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return reportErr(cmd, err)
		}
		orch, err := buildOrchestrator(cmd.Context(), cfg)
		if err != nil {
			return reportErr(cmd, err)
		}
		result, err := orch.Erase(cmd.Context())
		if err != nil {
			return reportErr(cmd, err)
		}
		fmt.Printf("erased %d schema(s), skipped %d not owned by this engine, in %dms\n",
			result.SchemasErased, result.SchemasSkippedOnErase, result.TotalTimeElapsedMS)
		return nil
	},
}
