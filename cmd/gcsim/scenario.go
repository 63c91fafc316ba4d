package main

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/kolkov/gcengine/internal/config"
)

// FormatVersion is the newest scenario format this build understands.
// Scenarios declaring the same major version and an equal or older minor
// version are accepted.
const FormatVersion = "v1.1.0"

// Scenario describes a heap, the object graph to build in it and the
// collections to run.
type Scenario struct {
	Version string `yaml:"version"`
	Name    string `yaml:"name"`

	// Config overrides the defaults of internal/config.
	Config yaml.Node `yaml:"config"`

	Types   []TypeSpec   `yaml:"types"`
	Objects []ObjectSpec `yaml:"objects"`
	Roots   []RootSpec   `yaml:"roots"`
	Steps   []StepSpec   `yaml:"steps"`

	file string
	pos  pos
}

// pos is a position inside the scenario file.
type pos struct {
	line, column int
}

func nodePos(n *yaml.Node) pos { return pos{line: n.Line, column: n.Column} }

// TypeSpec declares an object type. Array is "refs" or "data" for array
// types; otherwise Words and Refs give the payload size and the
// reference fields.
type TypeSpec struct {
	Name  string `yaml:"name"`
	Words int    `yaml:"words"`
	Refs  []int  `yaml:"refs"`
	Array string `yaml:"array"`

	pos pos
}

// UnmarshalYAML records the position of the type declaration.
func (t *TypeSpec) UnmarshalYAML(n *yaml.Node) error {
	type plain TypeSpec
	if err := n.Decode((*plain)(t)); err != nil {
		return err
	}
	t.pos = nodePos(n)
	return nil
}

// ObjectSpec declares one object of the initial graph.
type ObjectSpec struct {
	ID     string         `yaml:"id"`
	Type   string         `yaml:"type"`
	Length int            `yaml:"length"`
	Space  string         `yaml:"space"`
	Hash   uint32         `yaml:"hash"`
	Data   map[int]uint64 `yaml:"data"`
	Refs   map[int]string `yaml:"refs"`

	pos pos
}

// UnmarshalYAML records the position of the object declaration.
func (o *ObjectSpec) UnmarshalYAML(n *yaml.Node) error {
	type plain ObjectSpec
	if err := n.Decode((*plain)(o)); err != nil {
		return err
	}
	o.pos = nodePos(n)
	return nil
}

// RootSpec names a root referencing an object of the initial graph. Kind
// is "local" (default), "global" or "weak".
type RootSpec struct {
	Name   string `yaml:"name"`
	Object string `yaml:"object"`
	Kind   string `yaml:"kind"`
	Thread int    `yaml:"thread"`

	pos pos
}

// UnmarshalYAML records the position of the root declaration.
func (r *RootSpec) UnmarshalYAML(n *yaml.Node) error {
	type plain RootSpec
	if err := n.Decode((*plain)(r)); err != nil {
		return err
	}
	r.pos = nodePos(n)
	return nil
}

// StepSpec is one action of the run.
//
// Actions:
//   - young, full: run a collection
//   - verify: check heap consistency
//   - drop: clear the root named Root
//   - churn: allocate Count young objects of Type, keeping every Keep-th
//     one reachable from a new global root (Keep 0 keeps none)
type StepSpec struct {
	Action string `yaml:"action"`
	Root   string `yaml:"root"`
	Type   string `yaml:"type"`
	Length int    `yaml:"length"`
	Count  int    `yaml:"count"`
	Keep   int    `yaml:"keep"`

	pos pos
}

// UnmarshalYAML accepts both the mapping form and a bare action name.
func (s *StepSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		s.Action = n.Value
	} else {
		type plain StepSpec
		if err := n.Decode((*plain)(s)); err != nil {
			return err
		}
	}
	s.pos = nodePos(n)
	return nil
}

// LoadScenario reads, decompresses, decodes and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	data, err := decompress(path, raw)
	if err != nil {
		return nil, &ScenarioError{File: path, Message: err.Error(), Suggestion: "check that the file extension matches its compression"}
	}
	return ParseScenario(path, data)
}

// ParseScenario decodes and validates scenario data. file is used in
// error messages only.
func ParseScenario(file string, data []byte) (*Scenario, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fromYAML(file, err)
	}
	if len(doc.Content) == 0 {
		return nil, &ScenarioError{File: file, Message: "empty scenario", Suggestion: "start from gcsim help for the format"}
	}
	s := &Scenario{file: file, pos: nodePos(doc.Content[0])}
	if err := doc.Content[0].Decode(s); err != nil {
		return nil, fromYAML(file, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// decompress picks a codec by file extension: .gz, .sz (snappy), .lz4 or
// .zst. Other files are returned as is.
func decompress(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(reader)
	case ".sz", ".snappy":
		return snappy.Decode(nil, data)
	case ".lz4":
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	case ".zst", ".zstd":
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer decoder.Close()
		return io.ReadAll(decoder)
	default:
		return data, nil
	}
}

// RuntimeConfig returns the defaults overlaid with the scenario's config
// section, validated.
func (s *Scenario) RuntimeConfig() (*config.Config, error) {
	cfg := config.Default()
	if !s.Config.IsZero() {
		if err := s.Config.Decode(cfg); err != nil {
			return nil, fromYAML(s.file, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errorAt(s.file, nodePos(&s.Config), err.Error(), "")
	}
	return cfg, nil
}

func (s *Scenario) validate() error {
	v := s.Version
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	switch {
	case v == "":
		return errorAt(s.file, s.pos, "missing version", fmt.Sprintf("add version: %s", FormatVersion))
	case !semver.IsValid(v):
		return errorAt(s.file, s.pos, fmt.Sprintf("version %q is not a semantic version", s.Version), fmt.Sprintf("use a version like %s", FormatVersion))
	case semver.Major(v) != semver.Major(FormatVersion):
		return errorAt(s.file, s.pos, fmt.Sprintf("unsupported format version %s", s.Version), fmt.Sprintf("this gcsim reads %s.x scenarios", semver.Major(FormatVersion)))
	case semver.Compare(v, FormatVersion) > 0:
		return errorAt(s.file, s.pos, fmt.Sprintf("format version %s is newer than %s", s.Version, FormatVersion), "upgrade gcsim")
	}
	types := map[string]TypeSpec{"": {}}
	for _, t := range s.Types {
		if _, dup := types[t.Name]; dup {
			return errorAt(s.file, t.pos, fmt.Sprintf("duplicate or empty type name %q", t.Name), "")
		}
		switch t.Array {
		case "", "refs", "data":
		default:
			return errorAt(s.file, t.pos, fmt.Sprintf("unknown array kind %q", t.Array), `use "refs" or "data"`)
		}
		types[t.Name] = t
	}
	delete(types, "")

	objects := make(map[string]ObjectSpec, len(s.Objects))
	for _, o := range s.Objects {
		if o.ID == "" {
			return errorAt(s.file, o.pos, "object without id", "")
		}
		if _, dup := objects[o.ID]; dup {
			return errorAt(s.file, o.pos, fmt.Sprintf("duplicate object id %q", o.ID), "")
		}
		t, ok := types[o.Type]
		if !ok {
			return errorAt(s.file, o.pos, fmt.Sprintf("unknown type %q", o.Type), suggestNames("declare the type under types: or use one of", types))
		}
		switch o.Space {
		case "", "young", "old", "archive":
		default:
			return errorAt(s.file, o.pos, fmt.Sprintf("unknown space %q", o.Space), `use "young", "old" or "archive"`)
		}
		if t.Array == "" && o.Length != 0 {
			return errorAt(s.file, o.pos, fmt.Sprintf("length given for non-array type %q", o.Type), "")
		}
		objects[o.ID] = o
	}
	for _, o := range s.Objects {
		t := types[o.Type]
		for field := range o.Data {
			if err := s.checkField(t, o, field, false); err != nil {
				return err
			}
		}
		for field, target := range o.Refs {
			if err := s.checkField(t, o, field, true); err != nil {
				return err
			}
			if _, ok := objects[target]; !ok {
				return errorAt(s.file, o.pos, fmt.Sprintf("field %d references unknown object %q", field, target), "")
			}
		}
	}

	cfg, err := s.RuntimeConfig()
	if err != nil {
		return err
	}
	roots := make(map[string]bool, len(s.Roots))
	for _, r := range s.Roots {
		if r.Thread < 0 || r.Thread >= cfg.Heap.Threads {
			return errorAt(s.file, r.pos, fmt.Sprintf("thread %d out of range", r.Thread), fmt.Sprintf("config.heap.threads is %d", cfg.Heap.Threads))
		}
		if _, ok := objects[r.Object]; !ok {
			return errorAt(s.file, r.pos, fmt.Sprintf("root references unknown object %q", r.Object), "")
		}
		switch r.Kind {
		case "", "local", "global", "weak":
		default:
			return errorAt(s.file, r.pos, fmt.Sprintf("unknown root kind %q", r.Kind), `use "local", "global" or "weak"`)
		}
		if r.Name != "" {
			roots[r.Name] = true
		}
	}

	if len(s.Steps) == 0 {
		return errorAt(s.file, s.pos, "no steps", "add steps: [young, full]")
	}
	for _, st := range s.Steps {
		switch st.Action {
		case "young", "full", "verify":
		case "drop":
			if !roots[st.Root] {
				return errorAt(s.file, st.pos, fmt.Sprintf("drop of unknown root %q", st.Root), "name the root under roots:")
			}
		case "churn":
			if _, ok := types[st.Type]; !ok {
				return errorAt(s.file, st.pos, fmt.Sprintf("unknown type %q", st.Type), suggestNames("use one of", types))
			}
			if types[st.Type].Array == "" && st.Length != 0 {
				return errorAt(s.file, st.pos, fmt.Sprintf("length given for non-array type %q", st.Type), "")
			}
			if st.Count < 1 || st.Keep < 0 {
				return errorAt(s.file, st.pos, "churn needs a positive count and a non-negative keep", "")
			}
		default:
			return errorAt(s.file, st.pos, fmt.Sprintf("unknown action %q", st.Action), "use young, full, verify, drop or churn")
		}
	}
	return nil
}

// checkField rejects payload fields outside the object and data stored
// into reference slots or the other way round.
func (s *Scenario) checkField(t TypeSpec, o ObjectSpec, field int, ref bool) error {
	payload, isRef := t.Words, slices.Contains(t.Refs, field)
	if t.Array != "" {
		payload, isRef = o.Length, t.Array == "refs"
	}
	switch {
	case field < 0 || field >= payload:
		return errorAt(s.file, o.pos, fmt.Sprintf("field %d outside the %d payload words of %q", field, payload, o.ID), "")
	case ref && !isRef:
		return errorAt(s.file, o.pos, fmt.Sprintf("field %d of %q is not a reference", field, o.ID), "move it under data:")
	case !ref && isRef:
		return errorAt(s.file, o.pos, fmt.Sprintf("field %d of %q is a reference", field, o.ID), "move it under refs:")
	}
	return nil
}

func suggestNames[V any](prefix string, m map[string]V) string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s %v", prefix, names)
}
