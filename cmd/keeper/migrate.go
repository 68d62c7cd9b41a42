package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sqlkeeper/keeper/internal/render"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending versioned and repeatable migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return reportErr(cmd, err)
		}
		orch, err := buildOrchestrator(cmd.Context(), cfg)
		if err != nil {
			return reportErr(cmd, err)
		}

		if flagDryRun {
			results, err := orch.Info(cmd.Context())
			if err != nil {
				return reportErr(cmd, err)
			}
			for schemaName, result := range results {
				render.WriteInfo(os.Stdout, schemaName, result)
			}
			return nil
		}

		result, err := orch.Migrate(cmd.Context())
		if err != nil {
			return reportErr(cmd, err)
		}
		fmt.Printf("applied %d migration(s) and %d repeatable migration(s) across %d schema(s) in %dms\n",
			len(result.MigrationsApplied), len(result.RepeatableApplied), len(result.Schemas), result.TotalTimeElapsedMS)
		return nil
	},
}
