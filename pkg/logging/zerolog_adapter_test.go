package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"
)

func TestNewZeroLogAdapterForwardsMessageAndLevel(t *testing.T) {
	c := qt.New(t)
	var buf bytes.Buffer
	zl := zerolog.New(&buf)

	adapter := NewZeroLogAdapter(zl, zerolog.WarnLevel)
	adapter.Print("disk usage high")

	var entry map[string]interface{}
	c.Assert(json.Unmarshal(buf.Bytes(), &entry), qt.IsNil)
	c.Assert(entry["level"], qt.Equals, "warn")
	c.Assert(entry["message"], qt.Contains, "disk usage high")
}

func TestNewZeroLogAdapterUsesGivenLevel(t *testing.T) {
	c := qt.New(t)
	var buf bytes.Buffer
	zl := zerolog.New(&buf)

	adapter := NewZeroLogAdapter(zl, zerolog.ErrorLevel)
	adapter.Print("boom")

	var entry map[string]interface{}
	c.Assert(json.Unmarshal(buf.Bytes(), &entry), qt.IsNil)
	c.Assert(entry["level"], qt.Equals, "error")
}
