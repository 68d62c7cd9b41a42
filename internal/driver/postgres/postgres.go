// Package postgres adapts the driver.Driver capability set to
// PostgreSQL, reusing the teacher's pgx-based connection and
// identifier-sanitization idiom.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/sqlkeeper/keeper/internal/driver"
)

// lockNamespace is the advisory-lock key space reserved for the engine,
// so its cluster lock never collides with application-level advisory
// locks taken by other code against the same database.
const lockNamespace int64 = 0x4b_45_45_50 // "KEEP" in hex, arbitrary but stable

// Driver implements driver.Driver against a PostgreSQL database/sql pool.
type Driver struct {
	DB      *sql.DB
	Log     zerolog.Logger
	lockKey int64 // derived from the configured metadata table name
}

// New opens a pgx-backed driver. uri is a standard postgres:// DSN.
func New(ctx context.Context, uri string, lockKey int64, log zerolog.Logger) (*Driver, error) {
	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres connection")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &Driver{DB: db, Log: log, lockKey: lockKey}, nil
}

func (d *Driver) Dialect() string { return "postgresql" }

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{HasMonotonicID: true, SupportsTransactions: true}
}

func (d *Driver) CurrentSchemaName(ctx context.Context) (string, error) {
	var name string
	if err := d.DB.QueryRowContext(ctx, "SELECT current_schema()").Scan(&name); err != nil {
		return "", errors.Wrap(err, "read current schema")
	}
	return name, nil
}

// QuoteIdentifier sanitizes name the way the teacher sanitizes database
// and role names before interpolating them into DDL.
func (d *Driver) QuoteIdentifier(name string) string {
	return (pgx.Identifier{name}).Sanitize()
}

func (d *Driver) Schema(name string) driver.Schema {
	return &schema{db: d.DB, name: name, quote: d.QuoteIdentifier}
}

func (d *Driver) Session(ctx context.Context, schemaName string) (driver.Session, error) {
	conn, err := d.DB.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire postgres session")
	}
	quoted := d.QuoteIdentifier(schemaName)
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", quoted)); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "set search_path to %s", schemaName)
	}
	return &session{conn: conn}, nil
}

// TryAcquireApplicationLock takes a session-level advisory lock, giving
// every process in the cluster a shared rendezvous point independent of
// the metadata table (spec section 5's outer lock).
func (d *Driver) TryAcquireApplicationLock(ctx context.Context) (bool, error) {
	var acquired bool
	err := d.DB.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1, $2)", lockNamespace, d.lockKey).Scan(&acquired)
	if err != nil {
		return false, errors.Wrap(err, "try advisory lock")
	}
	return acquired, nil
}

func (d *Driver) ReleaseApplicationLock(ctx context.Context) error {
	var released bool
	err := d.DB.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1, $2)", lockNamespace, d.lockKey).Scan(&released)
	if err != nil {
		return errors.Wrap(err, "release advisory lock")
	}
	return nil
}

// LoadSQLStatements splits body on semicolon-terminated statements,
// skipping blank/comment-only fragments, and substitutes placeholders
// of the form ${name}. PostgreSQL's dollar-quoted function bodies
// (CREATE FUNCTION ... AS $$ ... $$) are kept as one statement.
func (d *Driver) LoadSQLStatements(body []byte, placeholders map[string]string) ([]driver.Statement, error) {
	text := substitutePlaceholders(string(body), placeholders)
	return splitStatements(text), nil
}

func substitutePlaceholders(text string, placeholders map[string]string) string {
	for k, v := range placeholders {
		text = strings.ReplaceAll(text, "${"+k+"}", v)
	}
	return text
}

// splitStatements performs a dollar-quote-aware split on ';', matching
// the class of migration-splitting logic the pack's migration tools
// implement for Postgres function bodies.
func splitStatements(text string) []driver.Statement {
	var out []driver.Statement
	var buf strings.Builder
	inDollar := false
	var dollarTag string

	flush := func() {
		s := strings.TrimSpace(buf.String())
		if s != "" {
			out = append(out, driver.Statement{SQL: s, MustExecuteInTransaction: true})
		}
		buf.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if !inDollar && c == '$' {
			if tag, ok := matchDollarTag(runes, i); ok {
				inDollar = true
				dollarTag = tag
				buf.WriteString(tag)
				i += len(tag) - 1
				continue
			}
		} else if inDollar && c == '$' {
			if tag, ok := matchDollarTag(runes, i); ok && tag == dollarTag {
				inDollar = false
				buf.WriteString(tag)
				i += len(tag) - 1
				continue
			}
		}
		if !inDollar && c == ';' {
			buf.WriteRune(c)
			flush()
			continue
		}
		buf.WriteRune(c)
	}
	flush()
	return out
}

func matchDollarTag(runes []rune, start int) (string, bool) {
	end := start + 1
	for end < len(runes) && runes[end] != '$' {
		if !isIdentRune(runes[end]) {
			return "", false
		}
		end++
	}
	if end >= len(runes) {
		return "", false
	}
	return string(runes[start : end+1]), true
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
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
	if err != nil {
		return errors.Wrap(err, "execute statement")
	}
	return nil
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
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM information_schema.schemata WHERE schema_name = $1", s.name).Scan(&dummy)
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
		"SELECT count(*) FROM information_schema.tables WHERE table_schema = $1", s.name).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "count schema tables")
	}
	return count == 0, nil
}

func (s *schema) Create(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", s.quote(s.name)))
	return errors.Wrap(err, "create schema")
}

func (s *schema) Drop(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", s.quote(s.name)))
	return errors.Wrap(err, "drop schema")
}

func (s *schema) Erase(ctx context.Context) error {
	if err := s.Drop(ctx); err != nil {
		return err
	}
	return s.Create(ctx)
}
