package semver

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestCompare(t *testing.T) {
	c := qt.New(t)

	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0", "1.0.0", 0},
		{"1.0.1", "1.0.0", 1},
		{"1.0.0", "1.0.1", -1},
		{"2.0", "1.9.9", 1},
		{"1", "1.0.0.0", 0},
	}
	for _, test := range tests {
		c.Run(test.a+"_vs_"+test.b, func(c *qt.C) {
			a, err := Parse(test.a)
			c.Assert(err, qt.IsNil)
			b, err := Parse(test.b)
			c.Assert(err, qt.IsNil)
			c.Assert(a.Compare(b), qt.Equals, test.want)
		})
	}
}

func TestSentinels(t *testing.T) {
	c := qt.New(t)

	v := MustParse("1.2.3")
	c.Assert(MinVersion.Less(v), qt.Equals, true)
	c.Assert(v.Less(MaxVersion), qt.Equals, true)
	c.Assert(MinVersion.IsMin(), qt.Equals, true)
	c.Assert(MaxVersion.IsMax(), qt.Equals, true)
	c.Assert(MinVersion.String(), qt.Equals, "min")
	c.Assert(MaxVersion.String(), qt.Equals, "max")
}

func TestParseErrors(t *testing.T) {
	c := qt.New(t)

	_, err := Parse("")
	c.Assert(err, qt.ErrorMatches, "empty version label")

	_, err = Parse("1.a.0")
	c.Assert(err, qt.ErrorMatches, `invalid version component "a".*`)
}

func TestUnmarshalText(t *testing.T) {
	c := qt.New(t)

	var v Version
	c.Assert(v.UnmarshalText([]byte("min")), qt.IsNil)
	c.Assert(v.IsMin(), qt.Equals, true)

	c.Assert(v.UnmarshalText([]byte("max")), qt.IsNil)
	c.Assert(v.IsMax(), qt.Equals, true)

	c.Assert(v.UnmarshalText([]byte("3.4")), qt.IsNil)
	c.Assert(v.String(), qt.Equals, "3.4")
}

func TestMaxMin(t *testing.T) {
	c := qt.New(t)

	a := MustParse("1.0")
	b := MustParse("2.0")
	c.Assert(Max(a, b).Equal(b), qt.Equals, true)
	c.Assert(Min(a, b).Equal(a), qt.Equals, true)
}
