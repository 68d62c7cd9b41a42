// Package metadata implements the persisted migration history table
// abstraction (spec section 3 / section 6's MetadataStore capability).
package metadata

import (
	"database/sql"
	"time"

	"github.com/sqlkeeper/keeper/internal/semver"
)

// EntryType enumerates the kinds of rows stored in the history table.
type EntryType string

const (
	NewSchema           EntryType = "NewSchema"
	EmptySchema         EntryType = "EmptySchema"
	StartVersion        EntryType = "StartVersion"
	Migration           EntryType = "Migration"
	RepeatableMigration EntryType = "RepeatableMigration"
	Lock                EntryType = "Lock"
)

// Entry is one row of the persisted migration history.
type Entry struct {
	ID          int64 // monotonic except on Cassandra; see Capabilities.HasMonotonicID
	Type        EntryType
	Version     *semver.Version // set for Migration and StartVersion
	Name        string          // script name for migration types; schema name for schema types
	Description string
	Checksum    string // set for migration types
	InstalledOn time.Time
	InstalledBy string
	Success     *bool // set for migration types
	ExecutionMS int64 // set when Success != nil
}

// IsSuccessfulMigration reports whether e is a successfully applied
// versioned migration entry.
func (e Entry) IsSuccessfulMigration() bool {
	return e.Type == Migration && e.Success != nil && *e.Success
}

// IsSuccessfulRepeatable reports whether e is a successfully applied
// repeatable migration entry.
func (e Entry) IsSuccessfulRepeatable() bool {
	return e.Type == RepeatableMigration && e.Success != nil && *e.Success
}

// Store is the persisted-history capability the orchestrator depends
// on (spec section 6's MetadataStore).
type Store interface {
	// IsExists reports whether the underlying table has been created.
	IsExists() (bool, error)
	// IsEvolveInitialized reports whether the table exists and has at
	// least one entry (distinguishing a freshly created, empty table
	// from one that has recorded prior runs).
	IsEvolveInitialized() (bool, error)

	// Create creates the history table if it does not already exist.
	Create() error

	// FindLastAppliedVersion returns the max version over successful
	// Migration entries, or semver.MinVersion if there are none.
	FindLastAppliedVersion() (semver.Version, error)
	// FindStartVersion returns the persisted StartVersion entry's
	// version, if one exists.
	FindStartVersion() (semver.Version, bool, error)

	GetAllMetadata() ([]Entry, error)
	GetAllAppliedMigration() ([]Entry, error)
	GetAllAppliedRepeatableMigration() ([]Entry, error)

	// Save appends a non-migration entry (NewSchema, EmptySchema, StartVersion, Lock).
	Save(entryType EntryType, version *semver.Version, description, name string) (Entry, error)
	// SaveMigration appends a Migration or RepeatableMigration entry.
	SaveMigration(category string, version *semver.Version, name, description, checksum string, success bool, executionMS int64) (Entry, error)
	// UpdateChecksum rewrites the checksum of an existing entry (Repair mode only).
	UpdateChecksum(id int64, checksum string) error

	// CanDropSchema / CanEraseSchema report the Evolve-created /
	// Adopted-empty lifecycle markers for Erase (spec section 4.3 / 3).
	CanDropSchema(schemaName string) (bool, error)
	CanEraseSchema(schemaName string) (bool, error)
	IsEmptySchemaMetadataExists(schemaName string) (bool, error)

	// TryLock / ReleaseLock implement the metadata-table lock (spec
	// section 5's second nested lock).
	TryLock(holder string) (bool, error)
	ReleaseLock(holder string) error
}

// TransactionBinder is an optional Store capability for SQL-backed
// stores whose writes can ride a caller-supplied *sql.Tx instead of the
// connection pool, so metadata entries commit or roll back atomically
// with the ambient transaction the orchestrator runs commit-all /
// rollback-all scripts under. Cassandra's Store has no transaction
// concept and does not implement this.
type TransactionBinder interface {
	BindTx(tx *sql.Tx)
}

// ChecksumReplacer is an optional Store capability for backends with no
// stable per-row id to key UpdateChecksum's UPDATE on (spec section 9's
// HasMonotonicID=false case, e.g. Cassandra). Repair re-inserts a
// corrected entry via ReplaceChecksum instead of updating one in place.
type ChecksumReplacer interface {
	ReplaceChecksum(entry Entry, checksum string) error
}
