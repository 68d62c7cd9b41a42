package render

import (
	"bytes"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/sqlkeeper/keeper/internal/migration"
	"github.com/sqlkeeper/keeper/internal/reconcile"
	"github.com/sqlkeeper/keeper/internal/semver"
)

func TestWriteInfoListsEachNonEmptyCategory(t *testing.T) {
	c := qt.New(t)
	v1 := semver.MustParse("1.0")
	v2 := semver.MustParse("2.0")

	result := reconcile.Result{
		PendingForward: []*migration.Script{
			{Version: &v1, Name: "V1__create_users.sql", Description: "create users"},
			{Version: &v2, Name: "V2__add_index.sql", Description: "add index"},
		},
		PendingRepeatable: []*migration.Script{
			{Name: "R__refresh_view.sql", Description: "refresh view"},
		},
		EffectiveStartVersion: semver.MinVersion,
		LastAppliedVersion:    v1,
	}

	var buf bytes.Buffer
	WriteInfo(&buf, "public", result)

	out := buf.String()
	c.Assert(out, qt.Contains, "public")
	c.Assert(out, qt.Contains, "V1__create_users.sql")
	c.Assert(out, qt.Contains, "V2__add_index.sql")
	c.Assert(out, qt.Contains, "R__refresh_view.sql")
	c.Assert(out, qt.Contains, "Pending")
	c.Assert(out, qt.Contains, "Pending (repeatable)")
}

func TestWriteInfoOmitsEmptyCategories(t *testing.T) {
	c := qt.New(t)
	result := reconcile.Result{
		EffectiveStartVersion: semver.MinVersion,
		LastAppliedVersion:    semver.MinVersion,
	}

	var buf bytes.Buffer
	WriteInfo(&buf, "app", result)

	out := buf.String()
	c.Assert(out, qt.Contains, "app")
	c.Assert(out, qt.Not(qt.Contains), "Lost (out of order, not applied)")
}

func TestColorsEnabledIsFalseForNonFileWriter(t *testing.T) {
	c := qt.New(t)
	var buf bytes.Buffer
	c.Assert(colorsEnabled(&buf), qt.Equals, false)
}
