// Package sqlite adapts the driver.Driver capability set to SQLite.
// SQLite has no server-side advisory lock, so the cluster lock is a
// sibling lock file guarded by github.com/gofrs/flock, the same
// file-locking idiom blueman82-conductor uses for its own single-writer
// coordination.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/sqlkeeper/keeper/internal/driver"
)

// Driver implements driver.Driver against a single SQLite file.
type Driver struct {
	DB       *sql.DB
	Log      zerolog.Logger
	lockFile *flock.Flock
}

// New opens path (a filesystem path to the SQLite database file) and
// prepares the sibling ".lock" file used for application-lock coordination.
func New(ctx context.Context, path string, log zerolog.Logger) (*Driver, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite connection")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "ping sqlite")
	}
	// SQLite allows only one writer at a time; force the pool down to a
	// single connection so the engine's own transaction boundaries hold.
	db.SetMaxOpenConns(1)
	return &Driver{DB: db, Log: log, lockFile: flock.New(path + ".lock")}, nil
}

func (d *Driver) Dialect() string { return "sqlite" }

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{HasMonotonicID: true, SupportsTransactions: true}
}

func (d *Driver) CurrentSchemaName(ctx context.Context) (string, error) {
	return "main", nil
}

func (d *Driver) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *Driver) Schema(name string) driver.Schema {
	return &schema{db: d.DB, name: name}
}

func (d *Driver) Session(ctx context.Context, schemaName string) (driver.Session, error) {
	conn, err := d.DB.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire sqlite session")
	}
	return &session{conn: conn}, nil
}

func (d *Driver) TryAcquireApplicationLock(ctx context.Context) (bool, error) {
	locked, err := d.lockFile.TryLockContext(ctx, 0)
	if err != nil {
		return false, errors.Wrap(err, "try file lock")
	}
	return locked, nil
}

func (d *Driver) ReleaseApplicationLock(ctx context.Context) error {
	return errors.Wrap(d.lockFile.Unlock(), "unlock file")
}

// LoadSQLStatements splits on semicolons; SQLite migration bodies in
// this engine's expected usage are plain DDL/DML, no trigger blocks.
func (d *Driver) LoadSQLStatements(body []byte, placeholders map[string]string) ([]driver.Statement, error) {
	text := string(body)
	for k, v := range placeholders {
		text = strings.ReplaceAll(text, "${"+k+"}", v)
	}
	var out []driver.Statement
	for _, raw := range strings.SplitAfter(text, ";") {
		s := strings.TrimSpace(raw)
		if strings.TrimSpace(strings.TrimSuffix(s, ";")) == "" {
			continue
		}
		out = append(out, driver.Statement{SQL: s, MustExecuteInTransaction: true})
	}
	return out, nil
}

type session struct {
	conn *sql.Conn
	tx   *sql.Tx
}

func (s *session) TryBeginTransaction(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	s.tx = tx
	return nil
}

func (s *session) TryCommit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

func (s *session) TryRollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Wrap(err, "rollback transaction")
	}
	return nil
}

func (s *session) InTransaction() bool { return s.tx != nil }

// Tx exposes the live transaction, if any, so a metadata.Store can be
// bound to it for commit-all / rollback-all modes (driver.TxProvider).
func (s *session) Tx() *sql.Tx { return s.tx }

func (s *session) ExecuteNonQuery(ctx context.Context, query string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var err error
	if s.tx != nil {
		_, err = s.tx.ExecContext(ctx, query)
	} else {
		_, err = s.conn.ExecContext(ctx, query)
	}
	return errors.Wrap(err, "execute statement")
}

func (s *session) UseAmbientTransaction(ctx context.Context, timeout time.Duration) error {
	if s.tx != nil {
		return nil
	}
	return s.TryBeginTransaction(ctx)
}

func (s *session) Close(ctx context.Context) error {
	if s.tx != nil {
		_ = s.tx.Rollback()
	}
	return s.conn.Close()
}

// schema is a no-op concept for SQLite: a single file has one
// implicit "main" schema. Create is a no-op, and Drop and Erase both
// drop the user tables instead of a schema namespace.
type schema struct {
	db   *sql.DB
	name string
}

func (s *schema) Name() string { return s.name }

func (s *schema) Exists(ctx context.Context) (bool, error) { return true, nil }

func (s *schema) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE type='table'").Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "count tables")
	}
	return count == 0, nil
}

func (s *schema) Create(ctx context.Context) error { return nil }

func (s *schema) Drop(ctx context.Context) error {
	return s.Erase(ctx)
}

func (s *schema) Erase(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return errors.Wrap(err, "list tables")
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan table name")
		}
		names = append(names, n)
	}
	rows.Close()
	for _, n := range names {
		q := `"` + strings.ReplaceAll(n, `"`, `""`) + `"`
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", q)); err != nil {
			return errors.Wrapf(err, "drop table %s", n)
		}
	}
	return nil
}
