package config

import (
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/sqlkeeper/keeper/internal/semver"
)

func TestDefaultConfig(t *testing.T) {
	c := qt.New(t)
	cfg := Default()

	c.Assert(cfg.MetadataTableName, qt.Equals, "changelog")
	c.Assert(cfg.TransactionMode, qt.Equals, CommitEach)
	c.Assert(cfg.EnableClusterMode, qt.Equals, true)
	c.Assert(cfg.LockAcquisitionDeadlineSeconds, qt.Equals, 300)
	c.Assert(cfg.SQLMigrationPrefix, qt.Equals, "V")
	c.Assert(cfg.SQLRepeatableMigrationPrefix, qt.Equals, "R")
	c.Assert(cfg.PlaceholderPrefix, qt.Equals, "${")
	c.Assert(cfg.PlaceholderSuffix, qt.Equals, "}")
}

func TestStartAndTargetVersionDefaults(t *testing.T) {
	c := qt.New(t)
	cfg := Default()

	start, err := cfg.StartVersion()
	c.Assert(err, qt.IsNil)
	c.Assert(start.String(), qt.Equals, semver.MinVersion.String())

	target, err := cfg.TargetVersion()
	c.Assert(err, qt.IsNil)
	c.Assert(target.String(), qt.Equals, semver.MaxVersion.String())
}

func TestStartAndTargetVersionParsed(t *testing.T) {
	c := qt.New(t)
	cfg := Default()
	cfg.StartVersionLabel = "1.2"
	cfg.TargetVersionLabel = "3.0"

	start, err := cfg.StartVersion()
	c.Assert(err, qt.IsNil)
	c.Assert(start.String(), qt.Equals, "1.2")

	target, err := cfg.TargetVersion()
	c.Assert(err, qt.IsNil)
	c.Assert(target.String(), qt.Equals, "3.0")
}

func TestTimeoutHelpers(t *testing.T) {
	c := qt.New(t)
	cfg := Default()
	cfg.CommandTimeoutSeconds = 30
	cfg.AmbientTransactionTimeoutSeconds = 60
	cfg.LockAcquisitionDeadlineSeconds = 120

	c.Assert(cfg.CommandTimeout().Seconds(), qt.Equals, float64(30))
	c.Assert(cfg.AmbientTransactionTimeout().Seconds(), qt.Equals, float64(60))
	c.Assert(cfg.LockAcquisitionDeadline().Seconds(), qt.Equals, float64(120))
}

func TestLoadWithNoFileUsesDefaults(t *testing.T) {
	c := qt.New(t)

	cfg, err := Load("")
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.MetadataTableName, qt.Equals, "changelog")
	c.Assert(cfg.TransactionMode, qt.Equals, CommitEach)
}

func TestLoadMissingFilePathFallsBackToDefaults(t *testing.T) {
	c := qt.New(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.MetadataTableName, qt.Equals, "changelog")
}

func TestLoadLayersTOMLOverDefaults(t *testing.T) {
	c := qt.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "keeper.toml")
	contents := `
schemas = ["public", "audit"]
metadata_table_name = "schema_history"
out_of_order = true
transaction_mode = "rollback-all"
`
	c.Assert(os.WriteFile(path, []byte(contents), 0o644), qt.IsNil)

	cfg, err := Load(path)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Schemas, qt.DeepEquals, []string{"public", "audit"})
	c.Assert(cfg.MetadataTableName, qt.Equals, "schema_history")
	c.Assert(cfg.OutOfOrder, qt.Equals, true)
	c.Assert(cfg.TransactionMode, qt.Equals, RollbackAll)
	// fields untouched by the file keep their documented default.
	c.Assert(cfg.SQLMigrationPrefix, qt.Equals, "V")
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	c := qt.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "keeper.toml")
	c.Assert(os.WriteFile(path, []byte(`metadata_table_name = "from_file"`), 0o644), qt.IsNil)

	t.Setenv("KEEPER_METADATA_TABLE_NAME", "from_env")
	t.Setenv("KEEPER_OUT_OF_ORDER", "true")

	cfg, err := Load(path)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.MetadataTableName, qt.Equals, "from_env")
	c.Assert(cfg.OutOfOrder, qt.Equals, true)
}

func TestEnvKeyToKoanf(t *testing.T) {
	c := qt.New(t)
	c.Assert(envKeyToKoanf("KEEPER_METADATA_TABLE_NAME"), qt.Equals, "metadata_table_name")
	c.Assert(envKeyToKoanf("KEEPER_DIALECT"), qt.Equals, "dialect")
}
