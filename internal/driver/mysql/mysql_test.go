package mysql

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	qt "github.com/frankban/quicktest"

	"github.com/sqlkeeper/keeper/internal/driver"
)

func newMockDriver(t *testing.T) (*Driver, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Driver{DB: db, lockKey: "keeper_lock"}, mock
}

func TestDialectAndCapabilities(t *testing.T) {
	c := qt.New(t)
	d := &Driver{}
	c.Assert(d.Dialect(), qt.Equals, "mysql")
	c.Assert(d.Capabilities(), qt.Equals, driver.Capabilities{HasMonotonicID: true, SupportsTransactions: true})
}

func TestQuoteIdentifier(t *testing.T) {
	c := qt.New(t)
	d := &Driver{}
	c.Assert(d.QuoteIdentifier("app"), qt.Equals, "`app`")
	c.Assert(d.QuoteIdentifier("we`ird"), qt.Equals, "`we``ird`")
}

func TestLoadSQLStatementsSplitsAndSubstitutes(t *testing.T) {
	c := qt.New(t)
	d := &Driver{}

	stmts, err := d.LoadSQLStatements([]byte("CREATE TABLE ${table} (id int);\nINSERT INTO ${table} VALUES (1);"),
		map[string]string{"table": "widgets"})
	c.Assert(err, qt.IsNil)
	c.Assert(len(stmts), qt.Equals, 2)
	c.Assert(stmts[0].SQL, qt.Equals, "CREATE TABLE widgets (id int);")
	c.Assert(stmts[1].SQL, qt.Equals, "INSERT INTO widgets VALUES (1);")
}

func TestLoadSQLStatementsSkipsBlank(t *testing.T) {
	c := qt.New(t)
	d := &Driver{}

	stmts, err := d.LoadSQLStatements([]byte("SELECT 1;\n\n   ;\nSELECT 2;"), nil)
	c.Assert(err, qt.IsNil)
	c.Assert(len(stmts), qt.Equals, 2)
}

func TestCurrentSchemaName(t *testing.T) {
	c := qt.New(t)
	d, mock := newMockDriver(t)

	mock.ExpectQuery("SELECT DATABASE\\(\\)").
		WillReturnRows(sqlmock.NewRows([]string{"database"}).AddRow("app"))

	name, err := d.CurrentSchemaName(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(name, qt.Equals, "app")
}

func TestTryAcquireApplicationLock(t *testing.T) {
	c := qt.New(t)
	d, mock := newMockDriver(t)

	mock.ExpectQuery("SELECT GET_LOCK\\(\\?, 0\\)").
		WithArgs("keeper_lock").
		WillReturnRows(sqlmock.NewRows([]string{"get_lock"}).AddRow(1))

	ok, err := d.TryAcquireApplicationLock(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.Equals, true)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestTryAcquireApplicationLockContended(t *testing.T) {
	c := qt.New(t)
	d, mock := newMockDriver(t)

	mock.ExpectQuery("SELECT GET_LOCK\\(\\?, 0\\)").
		WithArgs("keeper_lock").
		WillReturnRows(sqlmock.NewRows([]string{"get_lock"}).AddRow(0))

	ok, err := d.TryAcquireApplicationLock(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.Equals, false)
}

func TestReleaseApplicationLock(t *testing.T) {
	c := qt.New(t)
	d, mock := newMockDriver(t)

	mock.ExpectQuery("SELECT RELEASE_LOCK\\(\\?\\)").
		WithArgs("keeper_lock").
		WillReturnRows(sqlmock.NewRows([]string{"release_lock"}).AddRow(1))

	err := d.ReleaseApplicationLock(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestSchemaLifecycle(t *testing.T) {
	c := qt.New(t)
	d, mock := newMockDriver(t)
	s := d.Schema("app").(*schema)

	mock.ExpectQuery("SELECT 1 FROM information_schema.schemata").
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	exists, err := s.Exists(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(exists, qt.Equals, true)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM information_schema.tables").
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	empty, err := s.IsEmpty(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(empty, qt.Equals, false)

	mock.ExpectExec("CREATE DATABASE IF NOT EXISTS `app`").WillReturnResult(sqlmock.NewResult(0, 0))
	c.Assert(s.Create(context.Background()), qt.IsNil)

	mock.ExpectExec("DROP DATABASE IF EXISTS `app`").WillReturnResult(sqlmock.NewResult(0, 0))
	c.Assert(s.Drop(context.Background()), qt.IsNil)

	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}
