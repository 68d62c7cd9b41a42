package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sqlkeeper/keeper/internal/render"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the reconciliation plan for every configured schema without applying it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return reportErr(cmd, err)
		}
		orch, err := buildOrchestrator(cmd.Context(), cfg)
		if err != nil {
			return reportErr(cmd, err)
		}
		results, err := orch.Info(cmd.Context())
		if err != nil {
			return reportErr(cmd, err)
		}
		for schemaName, result := range results {
			render.WriteInfo(os.Stdout, schemaName, result)
		}
		return nil
	},
}
