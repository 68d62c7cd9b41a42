// Package render turns a reconcile.Result into Info's table: six row
// categories, one per script set the Result carries, with Category,
// Version, Name and Description columns. Executed migrations, pending
// schema actions and other metadata entries are not listed. It uses the
// same table/color stack
// the teacher's CLI reaches for elsewhere in the pack (tablewriter +
// aurora, as seen in internal/optracker's use of aurora for progress
// coloring).
package render

import (
	"fmt"
	"io"
	"os"

	"github.com/logrusorgru/aurora/v3"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/sqlkeeper/keeper/internal/migration"
	"github.com/sqlkeeper/keeper/internal/reconcile"
)

// colorsEnabled mirrors the isatty check the CLI stack uses elsewhere
// in the pack to decide whether ANSI color codes are safe to emit: a
// human terminal gets them, a pipe or file redirect does not.
func colorsEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// category names one of the six rows Info prints, in the fixed order
// of the categories slice below.
type category struct {
	label   string
	colorOf func(au aurora.Aurora, v interface{}) aurora.Value
	scripts func(reconcile.Result) []*migration.Script
}

var categories = []category{
	{"Ignored (before start version)", func(au aurora.Aurora, v interface{}) aurora.Value { return au.Faint(v) },
		func(r reconcile.Result) []*migration.Script { return r.IgnoredBeforeStart }},
	{"Pending", func(au aurora.Aurora, v interface{}) aurora.Value { return au.Blue(v) },
		func(r reconcile.Result) []*migration.Script { return r.PendingForward }},
	{"Pending (out of order)", func(au aurora.Aurora, v interface{}) aurora.Value { return au.Yellow(v) },
		func(r reconcile.Result) []*migration.Script { return r.OutOfOrderPending }},
	{"Lost (out of order, not applied)", func(au aurora.Aurora, v interface{}) aurora.Value { return au.Red(v) },
		func(r reconcile.Result) []*migration.Script { return r.LostOutOfOrder }},
	{"Off target", func(au aurora.Aurora, v interface{}) aurora.Value { return au.Faint(v) },
		func(r reconcile.Result) []*migration.Script { return r.OffTarget }},
	{"Pending (repeatable)", func(au aurora.Aurora, v interface{}) aurora.Value { return au.Cyan(v) },
		func(r reconcile.Result) []*migration.Script { return r.PendingRepeatable }},
}

// WriteInfo renders one schema's reconcile.Result as a table to w.
func WriteInfo(w io.Writer, schemaName string, result reconcile.Result) {
	au := aurora.NewAurora(colorsEnabled(w))

	fmt.Fprintf(w, "%s\n", au.Bold(schemaName))
	fmt.Fprintf(w, "  effective start version: %s\n", result.EffectiveStartVersion)
	fmt.Fprintf(w, "  last applied version:    %s\n", result.LastAppliedVersion)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Category", "Version", "Name", "Description"})
	table.SetAutoWrapText(false)

	for _, cat := range categories {
		scripts := cat.scripts(result)
		if len(scripts) == 0 {
			continue
		}
		for i, s := range scripts {
			label := ""
			if i == 0 {
				label = cat.label
			}
			version := ""
			if s.Version != nil {
				version = s.Version.String()
			}
			table.Append([]string{
				fmt.Sprint(cat.colorOf(au, label)),
				version,
				s.Name,
				s.Description,
			})
		}
	}
	table.Render()
}
