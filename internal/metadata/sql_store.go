package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/sqlkeeper/keeper/internal/semver"
)

// Quoter quotes a schema-qualified identifier per a dialect's rules.
// Implemented by each internal/driver/<dialect> package.
type Quoter interface {
	QuoteIdentifier(name string) string
}

// SQLStore is a database/sql-backed Store implementation shared by the
// Postgres, MySQL, and SQLite drivers (Cassandra requires its own,
// since it lacks monotonic ids and orderable transactions; see
// internal/driver/cassandra).
type SQLStore struct {
	DB        *sql.DB
	Schema    string
	Table     string
	Quote     Quoter
	Ctx       context.Context
	AutoIncPK string // e.g. "BIGSERIAL" (postgres), "BIGINT AUTO_INCREMENT" (mysql), "INTEGER" (sqlite rowid)

	// Dialect selects parameter placeholder syntax and how an inserted
	// row's id is recovered: "postgresql" and "sqlite" bind $N and
	// support INSERT ... RETURNING id; "mysql" binds ? and has no
	// RETURNING, so insert falls back to LastInsertId.
	Dialect string

	// tx, when bound via BindTx, receives every query this store issues
	// instead of DB, so metadata writes ride the orchestrator's ambient
	// transaction (commit-all / rollback-all modes).
	tx *sql.Tx
}

// execer is the subset of *sql.DB / *sql.Tx this store needs.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// BindTx routes subsequent queries through tx instead of DB (metadata.TransactionBinder).
// Passing nil reverts to DB.
func (s *SQLStore) BindTx(tx *sql.Tx) { s.tx = tx }

func (s *SQLStore) execer() execer {
	if s.tx != nil {
		return s.tx
	}
	return s.DB
}

func (s *SQLStore) qualified() string {
	return s.Quote.QuoteIdentifier(s.Schema) + "." + s.Quote.QuoteIdentifier(s.Table)
}

// placeholder returns the bind marker for the i'th (1-based) parameter
// in s.Dialect's syntax.
func (s *SQLStore) placeholder(i int) string {
	if s.Dialect == "mysql" {
		return "?"
	}
	return fmt.Sprintf("$%d", i)
}

func (s *SQLStore) ctx() context.Context {
	if s.Ctx != nil {
		return s.Ctx
	}
	return context.Background()
}

func (s *SQLStore) IsExists() (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", s.qualified())
	row := s.execer().QueryRowContext(s.ctx(), query)
	var dummy int
	scanErr := row.Scan(&dummy)
	if scanErr == sql.ErrNoRows {
		return true, nil
	}
	if scanErr != nil {
		if isMissingTable(scanErr) {
			return false, nil
		}
		return false, errors.Wrap(scanErr, "check metadata table existence")
	}
	return true, nil
}

func (s *SQLStore) IsEvolveInitialized() (bool, error) {
	exists, err := s.IsExists()
	if err != nil || !exists {
		return false, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.qualified())
	var count int64
	if err := s.execer().QueryRowContext(s.ctx(), query).Scan(&count); err != nil {
		return false, errors.Wrap(err, "count metadata entries")
	}
	return count > 0, nil
}

func (s *SQLStore) Create() error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id %s PRIMARY KEY,
		type VARCHAR(32) NOT NULL,
		version VARCHAR(128),
		name VARCHAR(512) NOT NULL,
		description VARCHAR(1024),
		checksum VARCHAR(128),
		installed_on TIMESTAMP NOT NULL,
		installed_by VARCHAR(256) NOT NULL,
		success BOOLEAN,
		execution_ms BIGINT
	)`, s.qualified(), s.AutoIncPK)
	if _, err := s.execer().ExecContext(s.ctx(), query); err != nil {
		return errors.Wrap(err, "create metadata table")
	}
	return nil
}

func (s *SQLStore) FindLastAppliedVersion() (semver.Version, error) {
	entries, err := s.GetAllAppliedMigration()
	if err != nil {
		return semver.Version{}, err
	}
	last := semver.MinVersion
	for _, e := range entries {
		if e.IsSuccessfulMigration() && e.Version != nil && e.Version.GreaterThan(last) {
			last = *e.Version
		}
	}
	return last, nil
}

func (s *SQLStore) FindStartVersion() (semver.Version, bool, error) {
	all, err := s.GetAllMetadata()
	if err != nil {
		return semver.Version{}, false, err
	}
	for _, e := range all {
		if e.Type == StartVersion && e.Version != nil {
			return *e.Version, true, nil
		}
	}
	return semver.Version{}, false, nil
}

func (s *SQLStore) GetAllMetadata() ([]Entry, error) {
	query := fmt.Sprintf(`SELECT id, type, version, name, description, checksum, installed_on, installed_by, success, execution_ms
		FROM %s ORDER BY id ASC`, s.qualified())
	rows, err := s.execer().QueryContext(s.ctx(), query)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "query metadata")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                     Entry
			versionStr            sql.NullString
			description, checksum sql.NullString
			success               sql.NullBool
			executionMS           sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Type, &versionStr, &e.Name, &description, &checksum, &e.InstalledOn, &e.InstalledBy, &success, &executionMS); err != nil {
			return nil, errors.Wrap(err, "scan metadata row")
		}
		if versionStr.Valid && versionStr.String != "" {
			v, perr := semver.Parse(versionStr.String)
			if perr == nil {
				e.Version = &v
			}
		}
		e.Description = description.String
		e.Checksum = checksum.String
		if success.Valid {
			b := success.Bool
			e.Success = &b
		}
		e.ExecutionMS = executionMS.Int64
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetAllAppliedMigration() ([]Entry, error) {
	all, err := s.GetAllMetadata()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if e.Type == Migration {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *SQLStore) GetAllAppliedRepeatableMigration() ([]Entry, error) {
	all, err := s.GetAllMetadata()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if e.Type == RepeatableMigration {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *SQLStore) Save(entryType EntryType, version *semver.Version, description, name string) (Entry, error) {
	return s.insert(entryType, version, name, description, "", nil, 0)
}

func (s *SQLStore) SaveMigration(category string, version *semver.Version, name, description, checksum string, success bool, executionMS int64) (Entry, error) {
	entryType := Migration
	if category == "Repeatable" {
		entryType = RepeatableMigration
	}
	return s.insert(entryType, version, name, description, checksum, &success, executionMS)
}

func (s *SQLStore) insert(entryType EntryType, version *semver.Version, name, description, checksum string, success *bool, executionMS int64) (Entry, error) {
	var versionStr interface{}
	if version != nil {
		versionStr = version.String()
	}
	now := time.Now().UTC()
	installedBy := runnerIdentity()

	args := []interface{}{entryType, versionStr, name, description, nullIfEmpty(checksum), now, installedBy, success, executionMS}
	cols := "type, version, name, description, checksum, installed_on, installed_by, success, execution_ms"
	marks := make([]string, len(args))
	for i := range args {
		marks[i] = s.placeholder(i + 1)
	}
	values := "(" + strings.Join(marks, ",") + ")"

	var id int64
	if s.Dialect == "mysql" {
		query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s`, s.qualified(), cols, values)
		res, err := s.execer().ExecContext(s.ctx(), query, args...)
		if err != nil {
			return Entry{}, errors.Wrapf(err, "insert %s metadata entry", entryType)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return Entry{}, errors.Wrapf(err, "read id of inserted %s metadata entry", entryType)
		}
	} else {
		query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s RETURNING id`, s.qualified(), cols, values)
		row := s.execer().QueryRowContext(s.ctx(), query, args...)
		if err := row.Scan(&id); err != nil {
			return Entry{}, errors.Wrapf(err, "insert %s metadata entry", entryType)
		}
	}
	return Entry{
		ID: id, Type: entryType, Version: version, Name: name, Description: description,
		Checksum: checksum, InstalledOn: now, InstalledBy: installedBy, Success: success, ExecutionMS: executionMS,
	}, nil
}

func (s *SQLStore) UpdateChecksum(id int64, checksum string) error {
	query := fmt.Sprintf(`UPDATE %s SET checksum=%s WHERE id=%s`, s.qualified(), s.placeholder(1), s.placeholder(2))
	_, err := s.execer().ExecContext(s.ctx(), query, checksum, id)
	if err != nil {
		return errors.Wrapf(err, "update checksum for entry %d", id)
	}
	return nil
}

func (s *SQLStore) CanDropSchema(schemaName string) (bool, error) {
	return s.schemaEntryOfType(schemaName, NewSchema)
}

func (s *SQLStore) CanEraseSchema(schemaName string) (bool, error) {
	return s.schemaEntryOfType(schemaName, EmptySchema)
}

func (s *SQLStore) IsEmptySchemaMetadataExists(schemaName string) (bool, error) {
	return s.schemaEntryOfType(schemaName, EmptySchema)
}

func (s *SQLStore) schemaEntryOfType(schemaName string, t EntryType) (bool, error) {
	all, err := s.GetAllMetadata()
	if err != nil {
		return false, err
	}
	for _, e := range all {
		if e.Type == t && e.Name == schemaName {
			return true, nil
		}
	}
	return false, nil
}

func (s *SQLStore) TryLock(holder string) (bool, error) {
	query := fmt.Sprintf(`INSERT INTO %s (type, name, installed_on, installed_by)
		SELECT 'Lock', 'lock', %s, %s
		WHERE NOT EXISTS (SELECT 1 FROM %s WHERE type='Lock')`, s.qualified(), s.placeholder(1), s.placeholder(2), s.qualified())
	res, err := s.execer().ExecContext(s.ctx(), query, time.Now().UTC(), holder)
	if err != nil {
		return false, errors.Wrap(err, "try acquire metadata lock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "check metadata lock result")
	}
	return n == 1, nil
}

func (s *SQLStore) ReleaseLock(holder string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE type='Lock' AND installed_by=%s`, s.qualified(), s.placeholder(1))
	_, err := s.execer().ExecContext(s.ctx(), query, holder)
	if err != nil {
		return errors.Wrap(err, "release metadata lock")
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// runnerIdentity is overridden in tests; production callers get hostname:pid.
var runnerIdentity = defaultRunnerIdentity
