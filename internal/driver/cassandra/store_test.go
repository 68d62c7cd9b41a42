package cassandra

import (
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/sqlkeeper/keeper/internal/metadata"
)

func TestIsMissingTable(t *testing.T) {
	c := qt.New(t)
	c.Assert(isMissingTable(errors.New("unconfigured table keeper_history")), qt.Equals, true)
	c.Assert(isMissingTable(errors.New("unconfigured Table keeper_history")), qt.Equals, true)
	c.Assert(isMissingTable(errors.New("timeout")), qt.Equals, false)
	c.Assert(isMissingTable(nil), qt.Equals, false)
}

func TestSortByInstalledOn(t *testing.T) {
	c := qt.New(t)
	t0 := time.Now()
	rows := []row{
		{name: "third", installedOn: t0.Add(2 * time.Second)},
		{name: "first", installedOn: t0},
		{name: "second", installedOn: t0.Add(time.Second)},
	}
	sortByInstalledOn(rows)
	c.Assert(rows[0].name, qt.Equals, "first")
	c.Assert(rows[1].name, qt.Equals, "second")
	c.Assert(rows[2].name, qt.Equals, "third")
}

func TestToEntryParsesVersionWhenPresent(t *testing.T) {
	c := qt.New(t)
	success := true
	r := row{
		entryType: metadata.Migration, version: "1.2", name: "V1_2__a.cql", checksum: "abc",
		installedOn: time.Now(), installedBy: "host:1", success: &success, executionMS: 15,
	}

	e := toEntry(3, r)
	c.Assert(e.ID, qt.Equals, int64(3))
	c.Assert(e.Version.String(), qt.Equals, "1.2")
	c.Assert(*e.Success, qt.Equals, true)
}

func TestToEntryLeavesVersionNilWhenBlank(t *testing.T) {
	c := qt.New(t)
	e := toEntry(1, row{entryType: metadata.NewSchema, name: "app"})
	c.Assert(e.Version, qt.IsNil)
}

func TestUpdateChecksumIsUnsupported(t *testing.T) {
	c := qt.New(t)
	s := &Store{}
	err := s.UpdateChecksum(1, "newsum")
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestStoreSatisfiesChecksumReplacerInterface(t *testing.T) {
	var _ metadata.ChecksumReplacer = (*Store)(nil)
}
