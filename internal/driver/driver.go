// Package driver defines the DatabaseDriver capability set that the
// orchestrator consumes (spec section 6). Each supported DBMS is a
// variant providing these capabilities, per spec section 9's
// "polymorphism over driver dialects" design note: a capability set,
// not a monolithic struct with per-DBMS type switches.
package driver

import (
	"context"
	"database/sql"
	"time"
)

// Statement is one executable unit produced by splitting a script body.
type Statement struct {
	SQL                      string
	MustExecuteInTransaction bool
}

// StatementBuilder splits a script body into statements and applies
// placeholder substitution, per spec section 6.
type StatementBuilder interface {
	LoadSQLStatements(body []byte, placeholders map[string]string) ([]Statement, error)
}

// Schema abstracts one logical database schema's lifecycle operations.
type Schema interface {
	Name() string
	Exists(ctx context.Context) (bool, error)
	IsEmpty(ctx context.Context) (bool, error)
	Create(ctx context.Context) error
	Drop(ctx context.Context) error
	Erase(ctx context.Context) error
}

// Session is a single live connection/session bound to the driver.
// All calls are synchronous; suspension only happens inside them
// (spec section 5).
type Session interface {
	// TryBeginTransaction starts a transaction if the driver supports one.
	TryBeginTransaction(ctx context.Context) error
	TryCommit(ctx context.Context) error
	TryRollback(ctx context.Context) error
	// InTransaction reports whether a transaction is currently open.
	InTransaction() bool
	// ExecuteNonQuery executes sql with the given per-statement timeout.
	ExecuteNonQuery(ctx context.Context, sql string, timeout time.Duration) error
	// UseAmbientTransaction binds the session to a pre-existing,
	// process-scoped transaction for commit-all/rollback-all modes.
	UseAmbientTransaction(ctx context.Context, timeout time.Duration) error
	// Close releases the session's underlying resources.
	Close(ctx context.Context) error
}

// TxProvider is an optional Session capability exposing the session's
// live *sql.Tx once UseAmbientTransaction has bound one, so a
// metadata.Store can be bound to ride the same transaction
// (commit-all / rollback-all modes). Cassandra's session has no
// *sql.Tx and does not implement this.
type TxProvider interface {
	Tx() *sql.Tx
}

// SessionLock is the cluster-coordination capability: an
// application-wide advisory lock held directly on the database server,
// independent of the metadata table (spec section 5).
type SessionLock interface {
	TryAcquireApplicationLock(ctx context.Context) (bool, error)
	ReleaseApplicationLock(ctx context.Context) error
}

// Capabilities describes DBMS-specific behavioral flags (spec section 9).
type Capabilities struct {
	// HasMonotonicID reports whether the metadata store can assign a
	// monotonically increasing id to each entry. False for Cassandra.
	HasMonotonicID bool
	// SupportsTransactions reports whether the driver can wrap
	// statements in transactions at all. False for Cassandra.
	SupportsTransactions bool
}

// Driver is the capability set the orchestrator depends on for one DBMS.
type Driver interface {
	SessionLock
	StatementBuilder

	// Dialect names the driver for logging and Info rendering.
	Dialect() string
	Capabilities() Capabilities

	// CurrentSchemaName reports the connection's default schema, used
	// when no schemas are explicitly configured.
	CurrentSchemaName(ctx context.Context) (string, error)

	// Schema returns a handle for the named logical schema.
	Schema(name string) Schema

	// Session opens a new live session against the given schema.
	Session(ctx context.Context, schema string) (Session, error)

	// QuoteIdentifier quotes name per the dialect's identifier rules.
	QuoteIdentifier(name string) string
}
