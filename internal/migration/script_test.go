package migration

import (
	"io"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/sqlkeeper/keeper/internal/semver"
)

func stringBodyLoader(s string) BodyLoader {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(stringReader(s)), nil
	}
}

type stringReader string

func (s stringReader) Read(p []byte) (int, error) {
	n := copy(p, s)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func TestChecksumStableAcrossCRLF(t *testing.T) {
	c := qt.New(t)

	lf := New(Versioned, nil, "V1__x.sql", "x", false, "", stringBodyLoader("select 1;\nselect 2;\n"))
	crlf := New(Versioned, nil, "V1__x.sql", "x", false, "", stringBodyLoader("select 1;\r\nselect 2;\r\n"))

	lfSum, err := lf.Checksum()
	c.Assert(err, qt.IsNil)
	crlfSum, err := crlf.Checksum()
	c.Assert(err, qt.IsNil)
	c.Assert(lfSum, qt.Equals, crlfSum)
}

func TestChecksumStripsBOM(t *testing.T) {
	c := qt.New(t)

	withBOM := New(Versioned, nil, "V1__x.sql", "x", false, "", stringBodyLoader("\xef\xbb\xbfselect 1;\n"))
	withoutBOM := New(Versioned, nil, "V1__x.sql", "x", false, "", stringBodyLoader("select 1;\n"))

	a, err := withBOM.Checksum()
	c.Assert(err, qt.IsNil)
	b, err := withoutBOM.Checksum()
	c.Assert(err, qt.IsNil)
	c.Assert(a, qt.Equals, b)
}

func TestChecksumCached(t *testing.T) {
	c := qt.New(t)

	calls := 0
	s := New(Versioned, nil, "V1__x.sql", "x", false, "", func() (io.ReadCloser, error) {
		calls++
		return io.NopCloser(stringReader("select 1;")), nil
	})

	_, err := s.Checksum()
	c.Assert(err, qt.IsNil)
	_, err = s.Checksum()
	c.Assert(err, qt.IsNil)
	c.Assert(calls, qt.Equals, 1)
}

func TestKey(t *testing.T) {
	c := qt.New(t)

	v := semver.MustParse("1.0")
	versioned := New(Versioned, &v, "V1__x.sql", "x", false, "", nil)
	repeatable := New(Repeatable, nil, "R__y.sql", "y", false, "", nil)

	c.Assert(versioned.Key(), qt.Equals, "v:1.0")
	c.Assert(repeatable.Key(), qt.Equals, "r:R__y.sql")
}
