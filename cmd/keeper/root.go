package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sqlkeeper/keeper/internal/config"
	"github.com/sqlkeeper/keeper/internal/driver"
	cassandradrv "github.com/sqlkeeper/keeper/internal/driver/cassandra"
	mysqldrv "github.com/sqlkeeper/keeper/internal/driver/mysql"
	postgresdrv "github.com/sqlkeeper/keeper/internal/driver/postgres"
	sqlitedrv "github.com/sqlkeeper/keeper/internal/driver/sqlite"
	"github.com/sqlkeeper/keeper/internal/metadata"
	"github.com/sqlkeeper/keeper/internal/migration"
	"github.com/sqlkeeper/keeper/internal/orchestrate"
	"github.com/sqlkeeper/keeper/pkg/fns"
	"github.com/sqlkeeper/keeper/pkg/option"
)

var (
	flagConfigPath  string
	flagStartVer    option.Option[string]
	flagTargetVer   option.Option[string]
	flagOutOfOrder  bool
	flagDryRun      bool
)

var rootCmd = &cobra.Command{
	Use:   "keeper",
	Short: "Reconciles a database schema against a directory of versioned and repeatable SQL scripts",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to a keeper.toml configuration file")
	rootCmd.PersistentFlags().Var(&startVerFlag{}, "start-version", "override the configured start version")
	rootCmd.PersistentFlags().Var(&targetVerFlag{}, "target-version", "override the configured target version")
	rootCmd.PersistentFlags().BoolVar(&flagOutOfOrder, "out-of-order", false, "apply pending migrations below the last applied version")
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "resolve and print the plan without applying it (honored by migrate only)")

	rootCmd.AddCommand(migrateCmd, validateCmd, repairCmd, eraseCmd, infoCmd)
}

// startVerFlag/targetVerFlag adapt pflag.Value to set an
// option.Option[string], so loadConfig can distinguish "the user
// passed an empty override" from "no override was given" the same way
// spec section 6's optional fields are meant to be distinguished.
type startVerFlag struct{}

func (f *startVerFlag) String() string { v, _ := flagStartVer.Get(); return v }
func (f *startVerFlag) Set(s string) error {
	flagStartVer = option.Some(s)
	return nil
}
func (f *startVerFlag) Type() string { return "string" }

type targetVerFlag struct{}

func (f *targetVerFlag) String() string { v, _ := flagTargetVer.Get(); return v }
func (f *targetVerFlag) Set(s string) error {
	flagTargetVer = option.Some(s)
	return nil
}
func (f *targetVerFlag) Type() string { return "string" }

// loadConfig layers the CLI flag overrides on top of the loaded file/env config.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if v, ok := flagStartVer.Get(); ok {
		cfg.StartVersionLabel = v
	}
	if v, ok := flagTargetVer.Get(); ok {
		cfg.TargetVersionLabel = v
	}
	if flagOutOfOrder {
		cfg.OutOfOrder = true
	}
	return cfg, nil
}

// buildOrchestrator wires a driver, a script loader, and a
// metadata.Store factory from cfg, dispatching on cfg.Dialect.
func buildOrchestrator(ctx context.Context, cfg config.Config) (*orchestrate.Orchestrator, error) {
	naming := migration.NamingConvention{
		MigrationPrefix:           cfg.SQLMigrationPrefix,
		RepeatableMigrationPrefix: cfg.SQLRepeatableMigrationPrefix,
		Separator:                 cfg.SQLMigrationSeparator,
		Suffix:                    cfg.SQLMigrationSuffix,
		RepeatAlwaysMarker:        "!",
	}
	loader := buildLoader(naming, cfg)

	drv, newStore, err := buildDriver(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &orchestrate.Orchestrator{
		Driver:   drv,
		Loader:   loader,
		Config:   cfg,
		NewStore: newStore,
	}, nil
}

// buildLoader resolves the script source per cfg: embeddedResourceAssemblies
// (spec section 6), when set, name one or more directories baked into
// the binary's working tree that stand in for .NET's embedded resource
// assemblies; each becomes its own fs.FS root via os.DirFS, filtered by
// embeddedResourceFilters, and merged with migration.MultiLoader. With
// no assemblies configured, locations is read straight off disk.
func buildLoader(naming migration.NamingConvention, cfg config.Config) migration.Loader {
	if len(cfg.EmbeddedResourceAssemblies) == 0 {
		return migration.NewLoader(naming, cfg.Locations, nil, "", nil)
	}

	loaders := fns.Map(cfg.EmbeddedResourceAssemblies, func(assembly string) migration.Loader {
		return migration.NewEmbeddedLoader(os.DirFS(assembly), ".", naming, cfg.EmbeddedResourceFilters...)
	})
	return &migration.MultiLoader{Loaders: loaders}
}

func buildDriver(ctx context.Context, cfg config.Config) (driver.Driver, func(schema string) metadata.Store, error) {
	switch cfg.Dialect {
	case "postgresql", "postgres", "":
		d, err := postgresdrv.New(ctx, cfg.ConnectionURI, lockKeyFor(cfg), logger())
		if err != nil {
			return nil, nil, err
		}
		newStore := func(schemaName string) metadata.Store {
			tableSchema := cfg.MetadataTableSchema
			if tableSchema == "" {
				tableSchema = schemaName
			}
			return &metadata.SQLStore{
				DB:        d.DB,
				Schema:    tableSchema,
				Table:     cfg.MetadataTableName,
				Quote:     d,
				Ctx:       ctx,
				AutoIncPK: "BIGSERIAL",
				Dialect:   "postgresql",
			}
		}
		return d, newStore, nil

	case "mysql":
		d, err := mysqldrv.New(ctx, cfg.ConnectionURI, cfg.MetadataTableName, logger())
		if err != nil {
			return nil, nil, err
		}
		newStore := func(schemaName string) metadata.Store {
			tableSchema := cfg.MetadataTableSchema
			if tableSchema == "" {
				tableSchema = schemaName
			}
			return &metadata.SQLStore{
				DB:        d.DB,
				Schema:    tableSchema,
				Table:     cfg.MetadataTableName,
				Quote:     d,
				Ctx:       ctx,
				AutoIncPK: "BIGINT AUTO_INCREMENT",
				Dialect:   "mysql",
			}
		}
		return d, newStore, nil

	case "sqlite":
		d, err := sqlitedrv.New(ctx, cfg.ConnectionURI, logger())
		if err != nil {
			return nil, nil, err
		}
		newStore := func(schemaName string) metadata.Store {
			return &metadata.SQLStore{
				DB:        d.DB,
				Schema:    "main",
				Table:     cfg.MetadataTableName,
				Quote:     d,
				Ctx:       ctx,
				AutoIncPK: "INTEGER",
				Dialect:   "sqlite",
			}
		}
		return d, newStore, nil

	case "cassandra":
		d, err := cassandradrv.New(ctx, cfg.Locations, cfg.MetadataTableSchema, logger())
		if err != nil {
			return nil, nil, err
		}
		newStore := func(schemaName string) metadata.Store {
			return &cassandradrv.Store{
				CQLSession: d.CQLSession,
				Table:      cfg.MetadataTableName,
				Holder:     schemaName,
			}
		}
		return d, newStore, nil

	default:
		return nil, nil, errors.Newf("unsupported dialect %q", cfg.Dialect)
	}
}

func logger() zerolog.Logger { return log.Logger }

func lockKeyFor(cfg config.Config) int64 {
	var key int64
	for _, r := range cfg.MetadataTableName {
		key = key*31 + int64(r)
	}
	return key
}

func reportErr(cmd *cobra.Command, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", cmd.Name(), err)
}
