package main

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Parsing Tests
// ============================================================================

func TestLoadScenario_Basic(t *testing.T) {
	s, err := LoadScenario("testdata/basic.yaml")
	require.NoError(t, err)

	assert.Equal(t, "basic", s.Name)
	assert.Len(t, s.Types, 4)
	assert.Len(t, s.Objects, 7)
	assert.Equal(t, map[int]string{0: "a", 2: "d"}, s.Objects[3].Refs)
	assert.Equal(t, "young", s.Steps[0].Action)
	assert.Equal(t, 200, s.Steps[1].Count)
	assert.Equal(t, 36, s.Steps[1].pos.line)

	cfg, err := s.RuntimeConfig()
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Heap.RegionWords)
	assert.Equal(t, 5, cfg.Collector.DeadRatioPercent, "unset fields keep defaults")
}

func TestParseScenario_Errors(t *testing.T) {
	const header = "version: v1.0.0\ntypes:\n  - {name: node, words: 2, refs: [0]}\n"
	tests := []struct {
		name    string
		src     string
		line    int
		message string
	}{
		{"empty", "", 0, "empty scenario"},
		{"missing version", "steps: [full]\n", 1, "missing version"},
		{"not semver", "version: one\nsteps: [full]\n", 1, "not a semantic version"},
		{"other major", "version: v2.0.0\nsteps: [full]\n", 1, "unsupported format version"},
		{"newer minor", "version: 1.9.0\nsteps: [full]\n", 1, "newer than"},
		{"bad config", "version: v1.0.0\nconfig:\n  heap: {regionWords: 100}\nsteps: [full]\n", 3, "regionWords"},
		{"yaml type", "version: v1.0.0\nsteps: 7\n", 2, "cannot unmarshal"},
		{"unknown type", header + "objects:\n  - {id: a, type: nope}\nsteps: [full]\n", 5, `unknown type "nope"`},
		{"duplicate object", header + "objects:\n  - {id: a, type: node}\n  - {id: a, type: node}\nsteps: [full]\n", 6, "duplicate object id"},
		{"unknown target", header + "objects:\n  - {id: a, type: node, refs: {0: zz}}\nsteps: [full]\n", 5, `unknown object "zz"`},
		{"data in ref slot", header + "objects:\n  - {id: a, type: node, data: {0: 1}}\nsteps: [full]\n", 5, "is a reference"},
		{"field out of range", header + "objects:\n  - {id: a, type: node, data: {2: 1}}\nsteps: [full]\n", 5, "outside the 2 payload words"},
		{"length on instance", header + "objects:\n  - {id: a, type: node, length: 4}\nsteps: [full]\n", 5, "non-array"},
		{"bad thread", header + "objects:\n  - {id: a, type: node}\nroots:\n  - {object: a, thread: 9}\nsteps: [full]\n", 7, "thread 9 out of range"},
		{"no steps", header, 1, "no steps"},
		{"unknown action", header + "steps:\n  - explode\n", 5, `unknown action "explode"`},
		{"drop unknown root", header + "steps:\n  - {action: drop, root: r}\n", 5, "unknown root"},
		{"churn count", header + "steps:\n  - {action: churn, type: node}\n", 5, "positive count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario("s.yaml", []byte(tt.src))
			require.Error(t, err)
			var se *ScenarioError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "s.yaml", se.File)
			assert.Equal(t, tt.line, se.Line)
			assert.Contains(t, se.Message, tt.message)
		})
	}
}

func TestParseScenario_ErrorColumn(t *testing.T) {
	src := "version: v1.0.0\nobjects:\n  - {id: a, type: nope}\nsteps: [full]\n"
	_, err := ParseScenario("s.yaml", []byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s.yaml:3:5: unknown type")
	assert.Contains(t, err.Error(), "Suggestion:")
}

// ============================================================================
// Compression Tests
// ============================================================================

func TestLoadScenario_Compressed(t *testing.T) {
	plain, err := os.ReadFile("testdata/basic.yaml")
	require.NoError(t, err)

	tests := []struct {
		ext      string
		compress func(t *testing.T, data []byte) []byte
	}{
		{".gz", func(t *testing.T, data []byte) []byte {
			var buf bytes.Buffer
			w := gzip.NewWriter(&buf)
			_, err := w.Write(data)
			require.NoError(t, err)
			require.NoError(t, w.Close())
			return buf.Bytes()
		}},
		{".sz", func(_ *testing.T, data []byte) []byte {
			return snappy.Encode(nil, data)
		}},
		{".lz4", func(t *testing.T, data []byte) []byte {
			var buf bytes.Buffer
			w := lz4.NewWriter(&buf)
			_, err := w.Write(data)
			require.NoError(t, err)
			require.NoError(t, w.Close())
			return buf.Bytes()
		}},
		{".zst", func(t *testing.T, data []byte) []byte {
			var buf bytes.Buffer
			w, err := zstd.NewWriter(&buf)
			require.NoError(t, err)
			_, err = w.Write(data)
			require.NoError(t, err)
			require.NoError(t, w.Close())
			return buf.Bytes()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "basic.yaml"+tt.ext)
			require.NoError(t, os.WriteFile(path, tt.compress(t, plain), 0o600))

			s, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, "basic", s.Name)
			assert.Len(t, s.Steps, 6)
		})
	}
}

func TestLoadScenario_CorruptCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml.gz")
	require.NoError(t, os.WriteFile(path, []byte("not gzip"), 0o600))

	_, err := LoadScenario(path)
	var se *ScenarioError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "gzip")
}
