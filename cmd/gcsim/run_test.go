package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/gcengine/gc"
	"github.com/kolkov/gcengine/internal/logging"
)

func runBasic(t *testing.T) *Report {
	t.Helper()
	s, err := LoadScenario("testdata/basic.yaml")
	require.NoError(t, err)
	rep, err := RunScenario(context.Background(), s, gc.WithLogger(logging.Discard()))
	require.NoError(t, err)
	return rep
}

// ============================================================================
// Runner Tests
// ============================================================================

func TestRunScenario_Basic(t *testing.T) {
	rep := runBasic(t)
	require.Len(t, rep.Steps, 6)

	young := rep.Steps[0]
	assert.Equal(t, "young", young.Action)
	assert.Equal(t, uint64(4), young.Detail["survivors"], "a, b, c and d survive; garbage does not")
	assert.Equal(t, false, young.Detail["promotionFailed"])

	churn := rep.Steps[1]
	assert.Equal(t, 4, churn.Detail["kept"])

	assert.Equal(t, uint64(10), rep.Steps[2].Detail["marked"])
	assert.Equal(t, uint64(8), rep.Steps[4].Detail["marked"], "the table and d died with the table root")

	assert.Equal(t, uint64(1), rep.YoungCycles)
	assert.Equal(t, uint64(2), rep.FullCycles)
	assert.Zero(t, rep.PromotionFailures)
	assert.Less(t, rep.Steps[4].UsedWordsAfter, rep.Steps[4].UsedWordsBefore)
	for i, s := range rep.Steps {
		assert.Equal(t, i+1, s.Index)
	}
}

func TestReport_WriteText(t *testing.T) {
	rep := runBasic(t)
	var buf bytes.Buffer
	require.NoError(t, rep.WriteText(&buf))

	out := buf.String()
	assert.Contains(t, out, "scenario: basic")
	assert.Contains(t, out, "STEP")
	assert.Contains(t, out, "survivors=4")
	assert.Contains(t, out, "cycles: 1 young, 2 full, 0 promotion failures")
}

func TestReport_WriteJSON(t *testing.T) {
	rep := runBasic(t)
	var buf bytes.Buffer
	require.NoError(t, rep.WriteJSON(&buf))

	var decoded struct {
		Scenario string `json:"scenario"`
		Steps    []struct {
			Action string `json:"action"`
		} `json:"steps"`
		FullCycles int `json:"fullCycles"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "basic", decoded.Scenario)
	assert.Len(t, decoded.Steps, 6)
	assert.Equal(t, "verify", decoded.Steps[5].Action)
	assert.Equal(t, 2, decoded.FullCycles)
}

// ============================================================================
// Command Tests
// ============================================================================

func TestDispatch(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		code   int
		stdout string
		stderr string
	}{
		{"no args", nil, 1, "", "USAGE"},
		{"help", []string{"help"}, 0, "COMMANDS", ""},
		{"version", []string{"version"}, 0, "gcsim version " + gc.Version, ""},
		{"unknown", []string{"frobnicate"}, 1, "", "Unknown command: frobnicate"},
		{"run without file", []string{"run"}, 2, "", "exactly one scenario"},
		{"run bad format", []string{"run", "-format", "xml", "testdata/basic.yaml"}, 2, "", "unknown format"},
		{"run missing file", []string{"run", "testdata/none.yaml"}, 1, "", "read scenario"},
		{"run text", []string{"run", "-log-level", "error", "testdata/basic.yaml"}, 0, "cycles: 1 young, 2 full", ""},
		{"run json", []string{"run", "-format", "json", "testdata/basic.yaml"}, 0, `"scenario": "basic"`, ""},
		{"config", []string{"config"}, 0, "regionWords: 4096", ""},
		{"config missing file", []string{"config", "-f", "testdata/none.yaml"}, 1, "", "config: read"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := dispatch(tt.args, &stdout, &stderr)
			assert.Equal(t, tt.code, code, "stderr: %s", stderr.String())
			if tt.stdout != "" {
				assert.Contains(t, stdout.String(), tt.stdout)
			}
			if tt.stderr != "" {
				assert.Contains(t, stderr.String(), tt.stderr)
			}
		})
	}
}

func TestRunCommand_ServesMetrics(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := dispatch([]string{"run", "-metrics", "127.0.0.1:0", "testdata/basic.yaml"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "scenario: basic")
}
