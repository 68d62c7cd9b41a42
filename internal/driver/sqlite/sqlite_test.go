package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	qt "github.com/frankban/quicktest"
	"github.com/gofrs/flock"

	"github.com/sqlkeeper/keeper/internal/driver"
)

func newMockDriver(t *testing.T) (*Driver, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Driver{DB: db}, mock
}

func TestDialectAndCapabilities(t *testing.T) {
	c := qt.New(t)
	d := &Driver{}
	c.Assert(d.Dialect(), qt.Equals, "sqlite")
	c.Assert(d.Capabilities(), qt.Equals, driver.Capabilities{HasMonotonicID: true, SupportsTransactions: true})
}

func TestCurrentSchemaNameIsAlwaysMain(t *testing.T) {
	c := qt.New(t)
	d := &Driver{}
	name, err := d.CurrentSchemaName(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(name, qt.Equals, "main")
}

func TestQuoteIdentifier(t *testing.T) {
	c := qt.New(t)
	d := &Driver{}
	c.Assert(d.QuoteIdentifier("app"), qt.Equals, `"app"`)
	c.Assert(d.QuoteIdentifier(`we"ird`), qt.Equals, `"we""ird"`)
}

func TestLoadSQLStatementsSplits(t *testing.T) {
	c := qt.New(t)
	d := &Driver{}

	stmts, err := d.LoadSQLStatements([]byte("CREATE TABLE ${t} (id int);\nINSERT INTO ${t} VALUES(1);"),
		map[string]string{"t": "widgets"})
	c.Assert(err, qt.IsNil)
	c.Assert(len(stmts), qt.Equals, 2)
	c.Assert(stmts[0].SQL, qt.Equals, "CREATE TABLE widgets (id int);")
}

func TestApplicationLockViaRealFile(t *testing.T) {
	c := qt.New(t)
	dbPath := filepath.Join(t.TempDir(), "keeper.db")
	d := &Driver{lockFile: flock.New(dbPath + ".lock")}

	ok, err := d.TryAcquireApplicationLock(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.Equals, true)

	// a second flock handle on the same file should observe it held.
	other := flock.New(dbPath + ".lock")
	locked, err := other.TryLock()
	c.Assert(err, qt.IsNil)
	c.Assert(locked, qt.Equals, false)

	c.Assert(d.ReleaseApplicationLock(context.Background()), qt.IsNil)

	locked, err = other.TryLock()
	c.Assert(err, qt.IsNil)
	c.Assert(locked, qt.Equals, true)
	other.Unlock()
}

func TestSchemaIsEmptyAndErase(t *testing.T) {
	c := qt.New(t)
	d, mock := newMockDriver(t)
	s := d.Schema("main").(*schema)

	exists, err := s.Exists(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(exists, qt.Equals, true)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM sqlite_master WHERE type='table'").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	empty, err := s.IsEmpty(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(empty, qt.Equals, true)

	mock.ExpectQuery("SELECT name FROM sqlite_master WHERE type='table'").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("widgets").AddRow("gadgets"))
	mock.ExpectExec(`DROP TABLE IF EXISTS "widgets"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP TABLE IF EXISTS "gadgets"`).WillReturnResult(sqlmock.NewResult(0, 0))

	c.Assert(s.Erase(context.Background()), qt.IsNil)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}
