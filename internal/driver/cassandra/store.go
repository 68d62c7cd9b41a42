package cassandra

import (
	"strings"
	"time"

	"github.com/apache/cassandra-gocql-driver/v2"
	"github.com/cockroachdb/errors"

	"github.com/sqlkeeper/keeper/internal/metadata"
	"github.com/sqlkeeper/keeper/internal/semver"
)

// Store implements metadata.Store against a Cassandra table. Unlike
// internal/metadata.SQLStore it cannot hand out a monotonically
// increasing numeric id (spec section 9): entry identity is a
// gocql.TimeUUID, and the int64 id the Store interface returns is a
// process-local sequence number assigned on read, stable only for the
// lifetime of one GetAllMetadata call.
type Store struct {
	CQLSession *gocql.Session
	Table      string
	Holder     string
}

type row struct {
	id          gocql.UUID
	entryType   metadata.EntryType
	version     string
	name        string
	description string
	checksum    string
	installedOn time.Time
	installedBy string
	success     *bool
	executionMS int64
}

func (s *Store) allRows() ([]row, error) {
	iter := s.CQLSession.Query(
		`SELECT id, type, version, name, description, checksum, installed_on, installed_by, success, execution_ms FROM ` + s.Table,
	).Iter()

	var out []row
	var r row
	var successVal *bool
	for iter.Scan(&r.id, &r.entryType, &r.version, &r.name, &r.description, &r.checksum, &r.installedOn, &r.installedBy, &successVal, &r.executionMS) {
		r.success = successVal
		out = append(out, r)
		successVal = nil
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "scan cassandra metadata rows")
	}
	return out, nil
}

func toEntry(seq int64, r row) metadata.Entry {
	e := metadata.Entry{
		ID:          seq,
		Type:        r.entryType,
		Name:        r.name,
		Description: r.description,
		Checksum:    r.checksum,
		InstalledOn: r.installedOn,
		InstalledBy: r.installedBy,
		Success:     r.success,
		ExecutionMS: r.executionMS,
	}
	if r.version != "" {
		if v, err := semver.Parse(r.version); err == nil {
			e.Version = &v
		}
	}
	return e
}

func (s *Store) IsExists() (bool, error) {
	if _, err := s.allRows(); err != nil {
		if isMissingTable(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) IsEvolveInitialized() (bool, error) {
	rows, err := s.allRows()
	if err != nil {
		if isMissingTable(err) {
			return false, nil
		}
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *Store) Create() error {
	stmt := `CREATE TABLE IF NOT EXISTS ` + s.Table + ` (
		id uuid PRIMARY KEY,
		type text,
		version text,
		name text,
		description text,
		checksum text,
		installed_on timestamp,
		installed_by text,
		success boolean,
		execution_ms bigint
	)`
	return errors.Wrap(s.CQLSession.Query(stmt).Exec(), "create cassandra metadata table")
}

func (s *Store) GetAllMetadata() ([]metadata.Entry, error) {
	rows, err := s.allRows()
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	// Cassandra has no server-assigned ordering; sort by installed_on so
	// the orchestrator sees entries in application order, same as the
	// ORDER BY id ASC the SQL-backed Store relies on.
	sortByInstalledOn(rows)
	out := make([]metadata.Entry, len(rows))
	for i, r := range rows {
		out[i] = toEntry(int64(i+1), r)
	}
	return out, nil
}

func sortByInstalledOn(rows []row) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].installedOn.Before(rows[j-1].installedOn); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

func (s *Store) FindLastAppliedVersion() (semver.Version, error) {
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

func (s *Store) FindStartVersion() (semver.Version, bool, error) {
	all, err := s.GetAllMetadata()
	if err != nil {
		return semver.Version{}, false, err
	}
	for _, e := range all {
		if e.Type == metadata.StartVersion && e.Version != nil {
			return *e.Version, true, nil
		}
	}
	return semver.Version{}, false, nil
}

func (s *Store) GetAllAppliedMigration() ([]metadata.Entry, error) {
	all, err := s.GetAllMetadata()
	if err != nil {
		return nil, err
	}
	var out []metadata.Entry
	for _, e := range all {
		if e.Type == metadata.Migration {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) GetAllAppliedRepeatableMigration() ([]metadata.Entry, error) {
	all, err := s.GetAllMetadata()
	if err != nil {
		return nil, err
	}
	var out []metadata.Entry
	for _, e := range all {
		if e.Type == metadata.RepeatableMigration {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) Save(entryType metadata.EntryType, version *semver.Version, description, name string) (metadata.Entry, error) {
	return s.insert(entryType, version, name, description, "", nil, 0)
}

func (s *Store) SaveMigration(category string, version *semver.Version, name, description, checksum string, success bool, executionMS int64) (metadata.Entry, error) {
	entryType := metadata.Migration
	if category == "Repeatable" {
		entryType = metadata.RepeatableMigration
	}
	return s.insert(entryType, version, name, description, checksum, &success, executionMS)
}

func (s *Store) insert(entryType metadata.EntryType, version *semver.Version, name, description, checksum string, success *bool, executionMS int64) (metadata.Entry, error) {
	id := gocql.TimeUUID()
	var versionStr string
	if version != nil {
		versionStr = version.String()
	}
	now := time.Now().UTC()
	stmt := `INSERT INTO ` + s.Table + ` (id, type, version, name, description, checksum, installed_on, installed_by, success, execution_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	err := s.CQLSession.Query(stmt, id, entryType, versionStr, name, description, checksum, now, s.Holder, success, executionMS).Exec()
	if err != nil {
		return metadata.Entry{}, errors.Wrapf(err, "insert %s metadata entry", entryType)
	}
	return metadata.Entry{
		Type: entryType, Version: version, Name: name, Description: description,
		Checksum: checksum, InstalledOn: now, InstalledBy: s.Holder, Success: success, ExecutionMS: executionMS,
	}, nil
}

// UpdateChecksum is unsupported: Cassandra rows are keyed by a fresh
// TimeUUID on every insert and there is no stable numeric id to key an
// UPDATE on (spec section 9's HasMonotonicID=false consequence). Repair
// instead re-inserts a corrected entry: when Capabilities.HasMonotonicID
// is false, the orchestrator's repair path calls ReplaceChecksum (the
// metadata.ChecksumReplacer capability) rather than UpdateChecksum on
// this Store.
func (s *Store) UpdateChecksum(id int64, checksum string) error {
	return errors.New("cassandra metadata store has no stable entry id to update; repair via re-insert instead")
}

// ReplaceChecksum implements metadata.ChecksumReplacer: it re-inserts
// entry with the corrected checksum rather than updating the existing
// row in place. The stale row is left behind; GetAllMetadata sorts by
// installed_on, so the new row sorts after it and wins the by-version
// lookup reconcile.WalkAndValidate performs, making repair idempotent.
func (s *Store) ReplaceChecksum(entry metadata.Entry, checksum string) error {
	success := true
	if entry.Success != nil {
		success = *entry.Success
	}
	_, err := s.insert(entry.Type, entry.Version, entry.Name, entry.Description, checksum, &success, entry.ExecutionMS)
	return err
}

func (s *Store) CanDropSchema(schemaName string) (bool, error) {
	return s.schemaEntryOfType(schemaName, metadata.NewSchema)
}

func (s *Store) CanEraseSchema(schemaName string) (bool, error) {
	return s.schemaEntryOfType(schemaName, metadata.EmptySchema)
}

func (s *Store) IsEmptySchemaMetadataExists(schemaName string) (bool, error) {
	return s.schemaEntryOfType(schemaName, metadata.EmptySchema)
}

func (s *Store) schemaEntryOfType(schemaName string, t metadata.EntryType) (bool, error) {
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

// TryLock and ReleaseLock mirror the application lock but record the
// hold as a metadata row: the Lock row always uses the same fixed id,
// so a second holder's conditional insert is rejected until
// ReleaseLock deletes the row.
func (s *Store) TryLock(holder string) (bool, error) {
	applied, err := s.CQLSession.Query(
		`INSERT INTO `+s.Table+` (id, type, name, installed_on, installed_by) VALUES (?, 'Lock', 'lock', ?, ?) IF NOT EXISTS`,
		gocql.UUID{}, time.Now().UTC(), holder,
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, errors.Wrap(err, "try acquire cassandra metadata lock")
	}
	return applied, nil
}

func (s *Store) ReleaseLock(holder string) error {
	rows, err := s.allRows()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.entryType == metadata.Lock && r.installedBy == holder {
			if err := s.CQLSession.Query(`DELETE FROM `+s.Table+` WHERE id = ?`, r.id).Exec(); err != nil {
				return errors.Wrap(err, "release cassandra metadata lock")
			}
		}
	}
	return nil
}

func isMissingTable(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unconfigured table")
}
