// Package semver implements the dotted numeric version labels used to
// order migration scripts (e.g. "1.2.3"). It is intentionally narrower
// than full SemVer: components are non-negative integers compared
// lexicographically, with no pre-release or build-metadata concept.
package semver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Version is an immutable, totally ordered dotted numeric version label.
type Version struct {
	parts []uint64
}

// Parse parses a dotted numeric version label such as "1.2.3" or "14".
func Parse(label string) (Version, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Version{}, errors.New("empty version label")
	}
	segs := strings.Split(label, ".")
	parts := make([]uint64, len(segs))
	for i, s := range segs {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Version{}, errors.Wrapf(err, "invalid version component %q in %q", s, label)
		}
		parts[i] = n
	}
	return Version{parts: parts}, nil
}

// MustParse is like Parse but panics on error; used for constants.
func MustParse(label string) Version {
	v, err := Parse(label)
	if err != nil {
		panic(err)
	}
	return v
}

var (
	// MinVersion is the sentinel lower than every parseable version.
	MinVersion = Version{parts: nil}
	// MaxVersion is the sentinel higher than every parseable version.
	MaxVersion = Version{parts: []uint64{^uint64(0)}}
)

// IsMin reports whether v is the MinVersion sentinel.
func (v Version) IsMin() bool { return len(v.parts) == 0 && !v.isMax() }

func (v Version) isMax() bool {
	return len(v.parts) == 1 && v.parts[0] == ^uint64(0)
}

// IsMax reports whether v is the MaxVersion sentinel.
func (v Version) IsMax() bool { return v.isMax() }

// String renders the version in dotted form. The sentinels render as
// "min" and "max" since they have no natural dotted representation.
func (v Version) String() string {
	switch {
	case v.IsMin():
		return "min"
	case v.isMax():
		return "max"
	}
	segs := make([]string, len(v.parts))
	for i, p := range v.parts {
		segs[i] = strconv.FormatUint(p, 10)
	}
	return strings.Join(segs, ".")
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater
// than other, comparing components lexicographically. Missing trailing
// components compare as zero (so "1.2" == "1.2.0").
func (v Version) Compare(other Version) int {
	if v.isMax() || other.isMax() {
		switch {
		case v.isMax() && other.isMax():
			return 0
		case v.isMax():
			return 1
		default:
			return -1
		}
	}
	if v.IsMin() || other.IsMin() {
		switch {
		case v.IsMin() && other.IsMin():
			return 0
		case v.IsMin():
			return -1
		default:
			return 1
		}
	}
	n := len(v.parts)
	if len(other.parts) > n {
		n = len(other.parts)
	}
	for i := 0; i < n; i++ {
		var a, b uint64
		if i < len(v.parts) {
			a = v.parts[i]
		}
		if i < len(other.parts) {
			b = other.parts[i]
		}
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less reports whether v < other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

// Equal reports whether v == other.
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

// LessOrEqual reports whether v <= other.
func (v Version) LessOrEqual(other Version) bool { return v.Compare(other) <= 0 }

// GreaterThan reports whether v > other.
func (v Version) GreaterThan(other Version) bool { return v.Compare(other) > 0 }

// MarshalText implements encoding.TextMarshaler, for config and metadata storage.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	s := string(text)
	switch s {
	case "", "min":
		*v = MinVersion
		return nil
	case "max":
		*v = MaxVersion
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Max returns the greater of a and b.
func Max(a, b Version) Version {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the lesser of a and b.
func Min(a, b Version) Version {
	if a.Less(b) {
		return a
	}
	return b
}

var _ fmt.Stringer = Version{}
