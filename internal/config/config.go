// Package config loads the engine's configuration options (spec
// section 6), layering a TOML file with environment variables and CLI
// flags, in the teacher's internal/userconfig idiom (koanf + struct
// tags).
package config

import (
	"io/fs"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/sqlkeeper/keeper/internal/semver"
)

// TransactionMode selects how applied scripts commit, per spec section 6.
type TransactionMode string

const (
	CommitEach  TransactionMode = "commit-each"
	CommitAll   TransactionMode = "commit-all"
	RollbackAll TransactionMode = "rollback-all"
)

// Config holds every overridable option named in spec section 6.
type Config struct {
	Schemas             []string `koanf:"schemas"`
	MetadataTableName   string   `koanf:"metadata_table_name" default:"changelog"`
	MetadataTableSchema string   `koanf:"metadata_table_schema"`

	Locations                  []string `koanf:"locations"`
	EmbeddedResourceAssemblies []string `koanf:"embedded_resource_assemblies"`
	EmbeddedResourceFilters    []string `koanf:"embedded_resource_filters"`

	StartVersionLabel  string `koanf:"start_version"`
	TargetVersionLabel string `koanf:"target_version"`

	OutOfOrder bool   `koanf:"out_of_order" default:"false"`
	Encoding   string `koanf:"encoding" default:"UTF-8"`

	TransactionMode   TransactionMode `koanf:"transaction_mode" default:"commit-each"`
	EnableClusterMode bool            `koanf:"enable_cluster_mode" default:"true"`

	IsEraseDisabled             bool `koanf:"is_erase_disabled" default:"false"`
	MustEraseOnValidationError  bool `koanf:"must_erase_on_validation_error" default:"false"`

	RetryRepeatableMigrationsUntilNoError bool `koanf:"retry_repeatable_migrations_until_no_error" default:"false"`
	SkipNextMigrations                    bool `koanf:"skip_next_migrations" default:"false"`

	CommandTimeoutSeconds            int `koanf:"command_timeout_seconds"`
	AmbientTransactionTimeoutSeconds int `koanf:"ambient_transaction_timeout_seconds"`

	LockAcquisitionDeadlineSeconds int `koanf:"lock_acquisition_deadline_seconds" default:"300"`

	SQLMigrationPrefix           string `koanf:"sql_migration_prefix" default:"V"`
	SQLRepeatableMigrationPrefix string `koanf:"sql_repeatable_migration_prefix" default:"R"`
	SQLMigrationSeparator        string `koanf:"sql_migration_separator" default:"__"`
	SQLMigrationSuffix           string `koanf:"sql_migration_suffix" default:".sql"`

	PlaceholderPrefix string            `koanf:"placeholder_prefix" default:"${"`
	PlaceholderSuffix string            `koanf:"placeholder_suffix" default:"}"`
	Placeholders      map[string]string `koanf:"placeholders"`

	ConnectionURI string `koanf:"connection_uri"`
	Dialect       string `koanf:"dialect"`
}

// StartVersion parses StartVersionLabel, defaulting to semver.MinVersion.
func (c Config) StartVersion() (semver.Version, error) {
	if c.StartVersionLabel == "" {
		return semver.MinVersion, nil
	}
	return semver.Parse(c.StartVersionLabel)
}

// TargetVersion parses TargetVersionLabel, defaulting to semver.MaxVersion.
func (c Config) TargetVersion() (semver.Version, error) {
	if c.TargetVersionLabel == "" {
		return semver.MaxVersion, nil
	}
	return semver.Parse(c.TargetVersionLabel)
}

// CommandTimeout returns the configured statement timeout, or zero
// (meaning no timeout) when unset.
func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// AmbientTransactionTimeout returns the configured ambient transaction
// timeout, or zero when unset.
func (c Config) AmbientTransactionTimeout() time.Duration {
	return time.Duration(c.AmbientTransactionTimeoutSeconds) * time.Second
}

// LockAcquisitionDeadline bounds the lock-acquisition spin loop (spec
// section 9's REDESIGN FLAG).
func (c Config) LockAcquisitionDeadline() time.Duration {
	return time.Duration(c.LockAcquisitionDeadlineSeconds) * time.Second
}

// Default returns a Config populated with every documented default.
func Default() Config {
	return Config{
		MetadataTableName:              "changelog",
		Encoding:                       "UTF-8",
		TransactionMode:                CommitEach,
		EnableClusterMode:              true,
		LockAcquisitionDeadlineSeconds: 300,
		SQLMigrationPrefix:             "V",
		SQLRepeatableMigrationPrefix:   "R",
		SQLMigrationSeparator:          "__",
		SQLMigrationSuffix:             ".sql",
		PlaceholderPrefix:              "${",
		PlaceholderSuffix:              "}",
	}
}

// Load layers a TOML file (if present) and KEEPER_-prefixed
// environment variables over the documented defaults, matching the
// teacher's internal/userconfig.newInstance layering order.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	cfg := Default()
	if err := k.Load(structDefaultsProvider(cfg), nil); err != nil {
		return Config{}, errors.Wrap(err, "load config defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, errors.Wrapf(err, "load config file %s", path)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: "KEEPER_",
		TransformFunc: func(key, value string) (string, interface{}) {
			return envKeyToKoanf(key), value
		},
	}), nil); err != nil {
		return Config{}, errors.Wrap(err, "load environment overrides")
	}

	out := Config{}
	if err := k.UnmarshalWithConf("", &out, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	return out, nil
}
