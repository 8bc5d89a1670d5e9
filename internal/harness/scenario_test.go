package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Valid(t *testing.T) {
	yamlContent := `
name: parse
description: parses every step type
config:
  global_prefix: "_"
setup:
  - key: m
    ir: |
      define void @f() {
      entry:
        ret void
      }
flow:
  - lookup: [_f]
    expect:
      names: [_f]
  - remove: [_f]
    library: main
    expect:
      error: SYMBOLS_NOT_FOUND
  - add:
      object:
        - {name: g, kind: data, bind: weak, size: 4}
assertions:
  - type: event_count
    kind: added
    count: 2
`
	s, err := ParseScenario([]byte(yamlContent))
	require.NoError(t, err)
	assert.Equal(t, "parse", s.Name)
	require.Len(t, s.Setup, 1)
	require.Len(t, s.Flow, 3)
	assert.Equal(t, []string{"_f"}, s.Flow[0].Lookup)
	assert.Equal(t, "SYMBOLS_NOT_FOUND", s.Flow[1].Expect.Error)
	require.NotNil(t, s.Flow[2].Add)
	assert.Equal(t, ObjectSymbol{Name: "g", Kind: "data", Bind: "weak", Size: 4}, s.Flow[2].Add.Object[0])

	cfg, err := s.ResolveConfig()
	require.NoError(t, err)
	assert.Equal(t, "_", cfg.GlobalPrefix)
}

func TestParseScenario_Invalid(t *testing.T) {
	base := "name: n\ndescription: d\n"
	okFlow := "flow:\n  - lookup: [a]\n"
	okAssert := "assertions:\n  - type: event_count\n    kind: added\n"

	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "description: d\n" + okFlow + okAssert, "name is required"},
		{"missing description", "name: n\n" + okFlow + okAssert, "description is required"},
		{"missing flow", base + okAssert, "flow list is required"},
		{"missing assertions", base + okFlow, "assertions list is required"},
		{"unknown field", base + okFlow + okAssert + "assertion: []\n", "field assertion not found"},
		{"two actions", base + "flow:\n  - lookup: [a]\n    remove: [a]\n" + okAssert, "exactly one of add, lookup or remove"},
		{"no action", base + "flow:\n  - library: main\n" + okAssert, "exactly one of add, lookup or remove"},
		{"unit without source", base + "setup:\n  - key: k\n" + okFlow + okAssert, "exactly one of ir, ir_file or object"},
		{"unit with two sources", base + "setup:\n  - ir: x\n    ir_file: y.ll\n" + okFlow + okAssert, "exactly one of ir, ir_file or object"},
		{"bad object kind", base + "setup:\n  - object: [{name: a, kind: tls}]\n" + okFlow + okAssert, `unknown kind "tls"`},
		{"bad object bind", base + "setup:\n  - object: [{name: a, bind: strong}]\n" + okFlow + okAssert, `unknown bind "strong"`},
		{"unnamed object symbol", base + "setup:\n  - object: [{kind: data}]\n" + okFlow + okAssert, "name is required"},
		{"unknown assertion", base + okFlow + "assertions:\n  - type: trace_contains\n", "unknown assertion type"},
		{"assertion without type", base + okFlow + "assertions:\n  - kind: added\n", "type is required"},
		{"contains without kind", base + okFlow + "assertions:\n  - type: event_contains\n", "kind is required for event_contains"},
		{"order without key", base + okFlow + "assertions:\n  - type: event_order\n    kinds: [added]\n", "key is required for event_order"},
		{"order without kinds", base + okFlow + "assertions:\n  - type: event_order\n    key: k\n", "kinds list is required"},
		{"count without kind", base + okFlow + "assertions:\n  - type: event_count\n", "kind is required for event_count"},
		{"negative count", base + okFlow + "assertions:\n  - type: event_count\n    kind: added\n    count: -1\n", "count must be non-negative"},
		{"state without states", base + okFlow + "assertions:\n  - type: final_state\n", "states is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadScenario_ResolvesIRFileRelativeToScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.ll"), []byte("define void @g() {\nentry:\n  ret void\n}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s.yaml"), []byte(`
name: file
description: ir_file is read relative to the scenario
setup:
  - key: m
    ir_file: m.ll
flow:
  - lookup: [g]
assertions:
  - type: final_state
    states: {g: emitted}
`), 0o644))

	s, err := LoadScenario(filepath.Join(dir, "s.yaml"))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestLoadScenario_Errors(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")

	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: file
description: missing ir file
flow:
  - add: {ir_file: nowhere.ll}
assertions:
  - type: event_count
    kind: added
`), 0o644))
	_, err = LoadScenario(path)
	assert.ErrorContains(t, err, "ir_file not found")

	require.NoError(t, os.WriteFile(path, []byte("name: [unterminated"), 0o644))
	_, err = LoadScenario(path)
	assert.ErrorContains(t, err, "failed to parse YAML")
}
