package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLogger_JSONEntry(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf})

	l.With(map[string]any{"worker": 3}).WithCycle("c-1").Infof("region freed", map[string]any{"region": 7})

	var e Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &e))
	assert.Equal(t, "info", e.Level)
	assert.Equal(t, "region freed", e.Message)
	assert.Equal(t, "c-1", e.Cycle)
	assert.EqualValues(t, 3, e.Fields["worker"])
	assert.EqualValues(t, 7, e.Fields["region"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Format: FormatText, Output: &buf})
	derived := l.With(map[string]any{"k": "v"})

	derived.Info("dropped")
	assert.Zero(t, buf.Len())

	l.SetLevel(LevelDebug)
	derived.Debug("kept")
	assert.Contains(t, buf.String(), "[debug] kept k=v")
}

func TestLogger_TextSortsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatText, Output: &buf})
	l.Infof("cycle", map[string]any{"b": 2, "a": "x"})

	line := buf.String()
	assert.Less(t, strings.Index(line, "a=x"), strings.Index(line, "b=2"))
}

func TestContextLogger_CarriesCycle(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: LevelInfo, Format: FormatText, Output: &buf})
	ctx := WithCycleID(context.Background(), "abc")

	ContextLogger(ctx, base).Info("hello")
	assert.Contains(t, buf.String(), "cycle=abc")
	assert.Equal(t, "abc", CycleIDFromCtx(ctx))
	assert.Equal(t, base, ContextLogger(context.Background(), base))
}

func TestConfigure_SetsGlobal(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	l := Configure("debug", "text")
	assert.Same(t, l, Global())
	assert.Equal(t, LevelDebug, l.Level())
}
