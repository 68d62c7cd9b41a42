// Package mysql adapts the driver.Driver capability set to MySQL /
// MariaDB, following the same database/sql session shape as
// internal/driver/postgres but with MySQL's backtick identifiers and
// named advisory-lock functions.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/sqlkeeper/keeper/internal/driver"
)

// Driver implements driver.Driver against a MySQL database/sql pool.
type Driver struct {
	DB      *sql.DB
	Log     zerolog.Logger
	lockKey string // GET_LOCK name, derived from the metadata table name
}

func New(ctx context.Context, dsn string, lockKey string, log zerolog.Logger) (*Driver, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open mysql connection")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "ping mysql")
	}
	return &Driver{DB: db, Log: log, lockKey: lockKey}, nil
}

func (d *Driver) Dialect() string { return "mysql" }

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{HasMonotonicID: true, SupportsTransactions: true}
}

func (d *Driver) CurrentSchemaName(ctx context.Context) (string, error) {
	var name string
	if err := d.DB.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&name); err != nil {
		return "", errors.Wrap(err, "read current database")
	}
	return name, nil
}

func (d *Driver) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *Driver) Schema(name string) driver.Schema {
	return &schema{db: d.DB, name: name, quote: d.QuoteIdentifier}
}

func (d *Driver) Session(ctx context.Context, schemaName string) (driver.Session, error) {
	conn, err := d.DB.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire mysql session")
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("USE %s", d.QuoteIdentifier(schemaName))); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "use database %s", schemaName)
	}
	return &session{conn: conn}, nil
}

// TryAcquireApplicationLock uses MySQL's named lock functions, the
// closest MySQL equivalent to Postgres's advisory locks.
func (d *Driver) TryAcquireApplicationLock(ctx context.Context) (bool, error) {
	var acquired int
	err := d.DB.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", d.lockKey).Scan(&acquired)
	if err != nil {
		return false, errors.Wrap(err, "get named lock")
	}
	return acquired == 1, nil
}

func (d *Driver) ReleaseApplicationLock(ctx context.Context) error {
	var released int
	if err := d.DB.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", d.lockKey).Scan(&released); err != nil {
		return errors.Wrap(err, "release named lock")
	}
	return nil
}

// LoadSQLStatements splits on semicolons. MySQL migration bodies rarely
// use DELIMITER blocks in this engine's expected usage (stored-routine
// definitions are out of scope), so a plain split suffices.
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

type schema struct {
	db    *sql.DB
	name  string
	quote func(string) string
}

func (s *schema) Name() string { return s.name }

func (s *schema) Exists(ctx context.Context) (bool, error) {
	var dummy int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM information_schema.schemata WHERE schema_name = ?", s.name).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "check schema existence")
	}
	return true, nil
}

func (s *schema) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.tables WHERE table_schema = ?", s.name).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "count schema tables")
	}
	return count == 0, nil
}

func (s *schema) Create(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.quote(s.name)))
	return errors.Wrap(err, "create schema")
}

func (s *schema) Drop(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", s.quote(s.name)))
	return errors.Wrap(err, "drop schema")
}

func (s *schema) Erase(ctx context.Context) error {
	if err := s.Drop(ctx); err != nil {
		return err
	}
	return s.Create(ctx)
}
