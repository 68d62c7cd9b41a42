package fns

import (
	"strconv"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestMapTransformsInOrder(t *testing.T) {
	c := qt.New(t)

	out := Map([]int{1, 2, 3}, func(v int) string { return strconv.Itoa(v * 2) })
	c.Assert(out, qt.DeepEquals, []string{"2", "4", "6"})
}

func TestMapEmptySlice(t *testing.T) {
	c := qt.New(t)

	out := Map([]int{}, func(v int) int { return v })
	c.Assert(len(out), qt.Equals, 0)
}
