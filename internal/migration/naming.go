package migration

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/sqlkeeper/keeper/internal/semver"
)

// NamingConvention holds the overridable prefix/separator/suffix tokens
// used to parse script file names into (category, version, description).
type NamingConvention struct {
	MigrationPrefix           string // default "V"
	RepeatableMigrationPrefix string // default "R"
	Separator                 string // default "__"
	Suffix                    string // default ".sql"
	RepeatAlwaysMarker        string // description suffix marking mustRepeatAlways, default "!"
}

// DefaultNaming returns the default naming convention from spec section 6.
func DefaultNaming() NamingConvention {
	return NamingConvention{
		MigrationPrefix:           "V",
		RepeatableMigrationPrefix: "R",
		Separator:                 "__",
		Suffix:                    ".sql",
		RepeatAlwaysMarker:        "!",
	}
}

// Parse decodes a file name into its migration metadata according to
// the naming convention. It returns an error if the name matches
// neither the versioned nor the repeatable pattern.
func (nc NamingConvention) Parse(fileName string) (category Category, version *semver.Version, description string, mustRepeatAlways bool, err error) {
	if !strings.HasSuffix(fileName, nc.Suffix) {
		return 0, nil, "", false, errors.Newf("script %q does not end with suffix %q", fileName, nc.Suffix)
	}
	stem := strings.TrimSuffix(fileName, nc.Suffix)

	switch {
	case strings.HasPrefix(stem, nc.MigrationPrefix):
		rest := strings.TrimPrefix(stem, nc.MigrationPrefix)
		idx := strings.Index(rest, nc.Separator)
		if idx < 0 {
			return 0, nil, "", false, errors.Newf("script %q is missing separator %q", fileName, nc.Separator)
		}
		verLabel, desc := rest[:idx], rest[idx+len(nc.Separator):]
		v, perr := semver.Parse(strings.ReplaceAll(verLabel, "_", "."))
		if perr != nil {
			return 0, nil, "", false, errors.Wrapf(perr, "script %q has invalid version", fileName)
		}
		desc, always := nc.splitRepeatMarker(desc)
		return Versioned, &v, humanize(desc), always, nil

	case strings.HasPrefix(stem, nc.RepeatableMigrationPrefix):
		rest := strings.TrimPrefix(stem, nc.RepeatableMigrationPrefix)
		idx := strings.Index(rest, nc.Separator)
		if idx < 0 {
			return 0, nil, "", false, errors.Newf("script %q is missing separator %q", fileName, nc.Separator)
		}
		desc := rest[idx+len(nc.Separator):]
		desc, always := nc.splitRepeatMarker(desc)
		return Repeatable, nil, humanize(desc), always, nil

	default:
		return 0, nil, "", false, errors.Newf("script %q matches neither the versioned nor repeatable naming convention", fileName)
	}
}

// splitRepeatMarker strips a trailing RepeatAlwaysMarker from desc, if present.
func (nc NamingConvention) splitRepeatMarker(desc string) (string, bool) {
	if nc.RepeatAlwaysMarker != "" && strings.HasSuffix(desc, nc.RepeatAlwaysMarker) {
		return strings.TrimSuffix(desc, nc.RepeatAlwaysMarker), true
	}
	return desc, false
}

// humanize turns "add_users_table" into "add users table".
func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
