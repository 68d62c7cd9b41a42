package metadata

import (
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	qt "github.com/frankban/quicktest"
	"github.com/stretchr/testify/require"

	"github.com/sqlkeeper/keeper/internal/semver"
)

// doubleQuoter is a minimal Quoter standing in for a real dialect
// driver, matching the double-quote identifier style internal/driver's
// Postgres and SQLite drivers actually use.
type doubleQuoter struct{}

func (doubleQuoter) QuoteIdentifier(name string) string { return `"` + name + `"` }

func newStore(t *testing.T, dialect string) (*SQLStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &SQLStore{DB: db, Schema: "public", Table: "keeper_history", Quote: doubleQuoter{}, Dialect: dialect}, mock
}

func TestIsExists(t *testing.T) {
	c := qt.New(t)

	t.Run("table present", func(t *testing.T) {
		store, mock := newStore(t, "postgresql")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM "public"."keeper_history" LIMIT 1`)).
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		exists, err := store.IsExists()
		c.Assert(err, qt.IsNil)
		c.Assert(exists, qt.Equals, true)
		c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
	})

	t.Run("table missing", func(t *testing.T) {
		store, mock := newStore(t, "postgresql")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM "public"."keeper_history" LIMIT 1`)).
			WillReturnError(&pqMissingTableStub{})

		exists, err := store.IsExists()
		c.Assert(err, qt.IsNil)
		c.Assert(exists, qt.Equals, false)
	})
}

// pqMissingTableStub satisfies error with a message isMissingTable
// recognizes via its generic substring fallback, without depending on
// the exact lib/pq or pgx error types.
type pqMissingTableStub struct{}

func (*pqMissingTableStub) Error() string { return `no such table: keeper_history` }

func TestCreate(t *testing.T) {
	c := qt.New(t)
	store, mock := newStore(t, "mysql")
	store.AutoIncPK = "BIGINT AUTO_INCREMENT"

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "public"."keeper_history"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Create()
	c.Assert(err, qt.IsNil)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestGetAllMetadata(t *testing.T) {
	c := qt.New(t)
	store, mock := newStore(t, "postgresql")

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "type", "version", "name", "description", "checksum", "installed_on", "installed_by", "success", "execution_ms"}).
		AddRow(int64(1), string(Migration), "1.0", "V1__a.sql", "a", "chk", now, "host:1", true, int64(12)).
		AddRow(int64(2), string(StartVersion), "2.0", "<< Flyway Baseline >>", "", nil, now, "host:1", nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, type, version, name, description, checksum, installed_on, installed_by, success, execution_ms`)).
		WillReturnRows(rows)

	entries, err := store.GetAllMetadata()
	c.Assert(err, qt.IsNil)
	c.Assert(len(entries), qt.Equals, 2)
	c.Assert(entries[0].Type, qt.Equals, Migration)
	c.Assert(entries[0].Version.String(), qt.Equals, "1.0")
	c.Assert(*entries[0].Success, qt.Equals, true)
	c.Assert(entries[1].Type, qt.Equals, StartVersion)
	c.Assert(entries[1].Success, qt.IsNil)
}

func TestGetAllMetadataTableMissingReturnsEmpty(t *testing.T) {
	c := qt.New(t)
	store, mock := newStore(t, "postgresql")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, type, version, name, description, checksum, installed_on, installed_by, success, execution_ms`)).
		WillReturnError(&pqMissingTableStub{})

	entries, err := store.GetAllMetadata()
	c.Assert(err, qt.IsNil)
	c.Assert(len(entries), qt.Equals, 0)
}

func TestInsertPostgresUsesReturning(t *testing.T) {
	c := qt.New(t)
	store, mock := newStore(t, "postgresql")
	runnerIdentity = func() string { return "test-runner" }
	t.Cleanup(func() { runnerIdentity = defaultRunnerIdentity })

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "public"."keeper_history"`) + `.*\$1,\$2,\$3,\$4,\$5,\$6,\$7,\$8,\$9.*RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	entry, err := store.Save(NewSchema, nil, "", "public")
	c.Assert(err, qt.IsNil)
	c.Assert(entry.ID, qt.Equals, int64(9))
	c.Assert(entry.InstalledBy, qt.Equals, "test-runner")
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestInsertMySQLUsesLastInsertID(t *testing.T) {
	c := qt.New(t)
	store, mock := newStore(t, "mysql")
	runnerIdentity = func() string { return "test-runner" }
	t.Cleanup(func() { runnerIdentity = defaultRunnerIdentity })

	v := semver.MustParse("1.0")
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "public"."keeper_history"`) + `.*\?,\?,\?,\?,\?,\?,\?,\?,\?.*`).
		WillReturnResult(sqlmock.NewResult(42, 1))

	entry, err := store.SaveMigration("Versioned", &v, "V1__a.sql", "a", "chk", true, 100)
	c.Assert(err, qt.IsNil)
	c.Assert(entry.ID, qt.Equals, int64(42))
	c.Assert(entry.Type, qt.Equals, Migration)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestUpdateChecksumPlaceholderStyle(t *testing.T) {
	c := qt.New(t)

	t.Run("postgresql binds $N", func(t *testing.T) {
		store, mock := newStore(t, "postgresql")
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "public"."keeper_history" SET checksum=$1 WHERE id=$2`)).
			WithArgs("newsum", int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.UpdateChecksum(7, "newsum")
		c.Assert(err, qt.IsNil)
		c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
	})

	t.Run("mysql binds ?", func(t *testing.T) {
		store, mock := newStore(t, "mysql")
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "public"."keeper_history" SET checksum=? WHERE id=?`)).
			WithArgs("newsum", int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.UpdateChecksum(7, "newsum")
		c.Assert(err, qt.IsNil)
		c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
	})
}

func TestTryLock(t *testing.T) {
	c := qt.New(t)

	t.Run("acquired", func(t *testing.T) {
		store, mock := newStore(t, "postgresql")
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "public"."keeper_history"`) + `.*`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		ok, err := store.TryLock("holder-a")
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.Equals, true)
	})

	t.Run("already held", func(t *testing.T) {
		store, mock := newStore(t, "postgresql")
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "public"."keeper_history"`) + `.*`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := store.TryLock("holder-a")
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.Equals, false)
	})
}

func TestReleaseLock(t *testing.T) {
	c := qt.New(t)
	store, mock := newStore(t, "postgresql")
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."keeper_history" WHERE type='Lock' AND installed_by=$1`)).
		WithArgs("holder-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.ReleaseLock("holder-a")
	c.Assert(err, qt.IsNil)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestSchemaEntryOfType(t *testing.T) {
	c := qt.New(t)
	store, mock := newStore(t, "postgresql")

	rows := sqlmock.NewRows([]string{"id", "type", "version", "name", "description", "checksum", "installed_on", "installed_by", "success", "execution_ms"}).
		AddRow(int64(1), string(NewSchema), nil, "public", nil, nil, time.Now(), "host:1", nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, type, version, name, description, checksum, installed_on, installed_by, success, execution_ms`)).
		WillReturnRows(rows)

	can, err := store.CanDropSchema("public")
	c.Assert(err, qt.IsNil)
	c.Assert(can, qt.Equals, true)
}

func TestBindTxRoutesQueriesThroughTheBoundTransaction(t *testing.T) {
	c := qt.New(t)
	store, mock := newStore(t, "postgresql")

	mock.ExpectBegin()
	tx, err := store.DB.Begin()
	c.Assert(err, qt.IsNil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM "public"."keeper_history" LIMIT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	store.BindTx(tx)
	exists, err := store.IsExists()
	c.Assert(err, qt.IsNil)
	c.Assert(exists, qt.Equals, true)

	store.BindTx(nil)
	c.Assert(store.execer() == store.DB, qt.Equals, true)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}
