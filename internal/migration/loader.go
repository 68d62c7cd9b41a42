package migration

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
)

// Loader enumerates the versioned and repeatable scripts available to
// a run. Implementations are chosen once at construction time (never
// lazily re-resolved), per the design note in spec section 9.
type Loader interface {
	// Migrations returns versioned scripts in ascending version order.
	Migrations() ([]*Script, error)
	// RepeatableMigrations returns repeatable scripts in any stable order.
	RepeatableMigrations() ([]*Script, error)
}

// FileLoader discovers scripts on the local filesystem under one or
// more root locations, matching the teacher's OsMigrationReader
// approach of reading file bodies lazily by relative path.
type FileLoader struct {
	Locations []string
	Naming    NamingConvention
}

// NewFileLoader constructs a FileLoader rooted at the given directories.
func NewFileLoader(naming NamingConvention, locations ...string) *FileLoader {
	return &FileLoader{Locations: locations, Naming: naming}
}

func (l *FileLoader) scan() (versioned, repeatable []*Script, err error) {
	seenNames := map[string]string{} // name -> location, to detect cross-category collisions
	for _, root := range l.Locations {
		entries, rerr := os.ReadDir(root)
		if rerr != nil {
			if os.IsNotExist(rerr) {
				continue
			}
			return nil, nil, errors.Wrapf(rerr, "read migration location %s", root)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			category, version, desc, always, perr := l.Naming.Parse(name)
			if perr != nil {
				continue // not a migration script; ignore non-matching files
			}
			if prevRoot, dup := seenNames[name]; dup {
				return nil, nil, errors.Newf("script name %q found in both %s and %s", name, prevRoot, root)
			}
			seenNames[name] = root

			path := filepath.Join(root, name)
			script := New(category, version, name, desc, always, "", fileBodyLoader(path))
			if category == Versioned {
				versioned = append(versioned, script)
			} else {
				repeatable = append(repeatable, script)
			}
		}
	}

	sort.Slice(versioned, func(i, j int) bool { return versioned[i].Version.Less(*versioned[j].Version) })
	for i := 1; i < len(versioned); i++ {
		if versioned[i-1].Version.Equal(*versioned[i].Version) {
			return nil, nil, errors.Newf("duplicate version %s: %s and %s", versioned[i].Version, versioned[i-1].Name, versioned[i].Name)
		}
	}
	return versioned, repeatable, nil
}

func (l *FileLoader) Migrations() ([]*Script, error) {
	v, _, err := l.scan()
	return v, err
}

func (l *FileLoader) RepeatableMigrations() ([]*Script, error) {
	_, r, err := l.scan()
	return r, err
}

func fileBodyLoader(path string) BodyLoader {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

// EmbeddedLoader discovers scripts inside an fs.FS (typically produced
// by Go's //go:embed), for the embeddedResourceAssemblies /
// embeddedResourceFilters configuration keys named in spec section 6.
type EmbeddedLoader struct {
	FS      fs.FS
	Root    string
	Naming  NamingConvention
	Filters []string // glob filters against the file name; empty means all
}

func NewEmbeddedLoader(fsys fs.FS, root string, naming NamingConvention, filters ...string) *EmbeddedLoader {
	return &EmbeddedLoader{FS: fsys, Root: root, Naming: naming, Filters: filters}
}

func (l *EmbeddedLoader) scan() (versioned, repeatable []*Script, err error) {
	entries, rerr := fs.ReadDir(l.FS, l.Root)
	if rerr != nil {
		return nil, nil, errors.Wrapf(rerr, "read embedded migration root %s", l.Root)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !l.matchesFilters(name) {
			continue
		}
		category, version, desc, always, perr := l.Naming.Parse(name)
		if perr != nil {
			continue
		}
		path := filepath.ToSlash(filepath.Join(l.Root, name))
		script := New(category, version, name, desc, always, "", embeddedBodyLoader(l.FS, path))
		if category == Versioned {
			versioned = append(versioned, script)
		} else {
			repeatable = append(repeatable, script)
		}
	}
	sort.Slice(versioned, func(i, j int) bool { return versioned[i].Version.Less(*versioned[j].Version) })
	return versioned, repeatable, nil
}

func (l *EmbeddedLoader) matchesFilters(name string) bool {
	if len(l.Filters) == 0 {
		return true
	}
	for _, f := range l.Filters {
		if ok, _ := filepath.Match(f, name); ok {
			return true
		}
	}
	return false
}

func (l *EmbeddedLoader) Migrations() ([]*Script, error) {
	v, _, err := l.scan()
	return v, err
}

func (l *EmbeddedLoader) RepeatableMigrations() ([]*Script, error) {
	_, r, err := l.scan()
	return r, err
}

func embeddedBodyLoader(fsys fs.FS, path string) BodyLoader {
	return func() (io.ReadCloser, error) {
		return fsys.Open(path)
	}
}

// NewLoader picks the concrete Loader once, explicitly, per spec
// section 9's lazy-loader design note: an embedded loader when any
// embedded filesystem is supplied, else a file loader over locations.
func NewLoader(naming NamingConvention, locations []string, embedded fs.FS, embeddedRoot string, embeddedFilters []string) Loader {
	if embedded != nil {
		return NewEmbeddedLoader(embedded, embeddedRoot, naming, embeddedFilters...)
	}
	return NewFileLoader(naming, locations...)
}

// MultiLoader concatenates the versioned and repeatable scripts of
// several Loaders, in order, the same way FileLoader already merges
// several Locations. It lets embeddedResourceAssemblies (spec section
// 6) name more than one embedded root without inventing a union fs.FS.
type MultiLoader struct {
	Loaders []Loader
}

func (l *MultiLoader) Migrations() ([]*Script, error) {
	var out []*Script
	for _, sub := range l.Loaders {
		v, err := sub.Migrations()
		if err != nil {
			return nil, err
		}
		out = append(out, v...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version.Less(*out[j].Version) })
	return out, nil
}

func (l *MultiLoader) RepeatableMigrations() ([]*Script, error) {
	var out []*Script
	for _, sub := range l.Loaders {
		r, err := sub.RepeatableMigrations()
		if err != nil {
			return nil, err
		}
		out = append(out, r...)
	}
	return out, nil
}

var _ Loader = (*FileLoader)(nil)
var _ Loader = (*EmbeddedLoader)(nil)
var _ Loader = (*MultiLoader)(nil)
