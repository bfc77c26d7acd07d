package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(strings.TrimSuffix(filepath.Base(path), ".yaml"), func(t *testing.T) {
			sc, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, sc)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	sc, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return sc
}

func TestRun_AcceptPredicate(t *testing.T) {
	sc := mustParse(t, `
name: accept
description: "availability follows the enabled flag"
steps:
  - { op: create, path: /h }
  - { op: create, path: /h/enabled }
  - op: pattern
    name: heater
    path: /h
    pattern:
      fields:
        - { name: enabled, path: enabled, required: true, notify: true }
      accept: { field: enabled, equals: true }
  - { op: set, path: /h/enabled, value: true }
  - { op: set, path: /h/enabled, value: false }
assertions:
  - { type: pattern, name: heater, available: false, callbacks: 2 }
  - type: trace_order
    entries:
      - "step set /h/enabled true"
      - "pattern available heater /h"
      - "step set /h/enabled false"
      - "pattern unavailable heater /h"
`)
	result, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_NestedPatternAndRecursiveActivation(t *testing.T) {
	sc := mustParse(t, `
name: nested
description: "nested fields resolve below their parent field"
steps:
  - { op: create, path: /z/heater/setpoint }
  - op: pattern
    name: zone
    path: /z
    pattern:
      fields:
        - name: heater
          path: heater
          required: true
          nested:
            fields:
              - { name: setpoint, path: setpoint, required: true }
  - { op: deactivate, path: /z/heater, recursive: true }
  - { op: activate, path: /z/heater }
  - { op: activate, path: /z/heater/setpoint }
assertions:
  - { type: pattern, name: zone, available: true, callbacks: 3 }
  - { type: node, path: /z/heater/setpoint, state: real, active: true }
`)
	result, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{
		"step create /z/heater/setpoint",
		"step pattern zone /z",
		"pattern available zone /z",
		"step deactivate /z/heater recursive",
		"pattern unavailable zone /z",
		"step activate /z/heater",
		"step activate /z/heater/setpoint",
		"pattern available zone /z",
	}, result.Lines())
}

func TestRun_VirtualNodesAreReported(t *testing.T) {
	sc := mustParse(t, `
name: virtual
description: "a pattern on a missing root pins virtual nodes"
steps:
  - op: pattern
    name: p
    path: /a/b
    pattern:
      fields:
        - { name: c, path: c, required: true }
  - { op: set, path: /a/b, value: 1, error: VIRTUAL }
  - { op: destroy, name: p }
assertions:
  - { type: node, path: /a/b, state: absent }
  - { type: pattern, name: p, available: false, callbacks: 0 }
`)
	result, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FailingStepsAndAssertions(t *testing.T) {
	sc := mustParse(t, `
name: failing
description: "failures are collected in the result"
steps:
  - { op: delete, path: /missing }
  - { op: create, path: /a, error: NOT_FOUND }
  - { op: create, path: /a, type: other, error: INVALID_PATH }
assertions:
  - { type: node, path: /a, state: virtual }
  - { type: trace_contains, entry: "pattern available nobody /" }
  - { type: timer, name: nothing }
  - { type: trace_count, entry: "step create /a", count: 1 }
`)
	result, err := Run(sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "steps[0] delete")
	assert.Contains(t, result.Errors[1], "expected error NOT_FOUND, got success")
	assert.Contains(t, result.Errors[2], "expected error INVALID_PATH, got TYPE_CONFLICT")
	assert.Contains(t, result.Errors[3], "Expected: /a virtual")
	assert.Contains(t, result.Errors[4], "not found in trace")
	assert.Contains(t, result.Errors[5], "no such timer")
}

func TestRun_DuplicateNames(t *testing.T) {
	sc := mustParse(t, `
name: dup
description: "names are unique per kind"
steps:
  - { op: create, path: /a }
  - { op: listen, name: l, path: /a }
  - { op: listen, name: l, path: /a, error: DUPLICATE_NAME }
  - { op: unlisten, name: l }
  - { op: unlisten, name: l, error: UNKNOWN_NAME }
  - { op: timer, name: t, period: 1s }
  - { op: timer, name: t, period: 1s, error: DUPLICATE_NAME }
  - { op: retime, name: t, period: 2s }
  - { op: destroy, name: nope, error: UNKNOWN_NAME }
  - { op: create, path: /a/b }
assertions:
  - { type: trace_count, entry: "event l subresource-added /a/b", count: 0 }
  - { type: timer, name: t, fires: 0, running: true }
`)
	result, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing name":      "description: d\nsteps: [{op: create, path: /a}]\nassertions: [{type: node, path: /a}]\n",
		"missing steps":     "name: n\ndescription: d\nassertions: [{type: node, path: /a}]\n",
		"missing asserts":   "name: n\ndescription: d\nsteps: [{op: create, path: /a}]\n",
		"unknown field":     "name: n\ndescription: d\nstep: []\n",
		"unknown op":        "name: n\ndescription: d\nsteps: [{op: explode}]\nassertions: [{type: node, path: /a}]\n",
		"create no path":    "name: n\ndescription: d\nsteps: [{op: create}]\nassertions: [{type: node, path: /a}]\n",
		"reference target":  "name: n\ndescription: d\nsteps: [{op: reference, path: /a}]\nassertions: [{type: node, path: /a}]\n",
		"bad period":        "name: n\ndescription: d\nsteps: [{op: timer, name: t, period: soon}]\nassertions: [{type: node, path: /a}]\n",
		"negative advance":  "name: n\ndescription: d\nsteps: [{op: advance, by: -1s}]\nassertions: [{type: node, path: /a}]\n",
		"bad jump":          "name: n\ndescription: d\nsteps: [{op: jump, at: later}]\nassertions: [{type: node, path: /a}]\n",
		"listen kind":       "name: n\ndescription: d\nsteps: [{op: listen, name: l, kind: loud, path: /a}]\nassertions: [{type: node, path: /a}]\n",
		"pattern body":      "name: n\ndescription: d\nsteps: [{op: pattern, name: p, path: /a}]\nassertions: [{type: node, path: /a}]\n",
		"access mode":       "name: n\ndescription: d\nsteps: [{op: pattern, name: p, path: /a, pattern: {fields: [{name: f, path: f, access: total}]}}]\nassertions: [{type: node, path: /a}]\n",
		"assertion type":    "name: n\ndescription: d\nsteps: [{op: create, path: /a}]\nassertions: [{type: vibes}]\n",
		"node state":        "name: n\ndescription: d\nsteps: [{op: create, path: /a}]\nassertions: [{type: node, path: /a, state: solid}]\n",
		"trace order empty": "name: n\ndescription: d\nsteps: [{op: create, path: /a}]\nassertions: [{type: trace_order}]\n",
		"policy":            "name: n\ndescription: d\npolicy: {rules: [{effect: maybe}]}\nsteps: [{op: create, path: /a}]\nassertions: [{type: node, path: /a}]\n",
		"start":             "name: n\ndescription: d\nstart: dawn\nsteps: [{op: create, path: /a}]\nassertions: [{type: node, path: /a}]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScenario([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadScenario_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: file
description: "loaded from disk"
steps: [{op: create, path: /a}]
assertions: [{type: node, path: /a, state: real}]
`), 0o644))

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "file", sc.Name)
	require.Len(t, sc.Steps, 1)
	assert.Equal(t, OpCreate, sc.Steps[0].Op)
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceContains,
		Expected: "x",
		Actual:   "not found in trace",
		Trace:    []TraceEntry{{Kind: EntryStep, Text: "create /a"}},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_contains")
	assert.Contains(t, msg, "[1] step create /a")
}

func TestSnapshot(t *testing.T) {
	r := NewResult()
	r.Trace = append(r.Trace, TraceEntry{Kind: EntryStep, Text: "advance 1s"}, TraceEntry{Kind: EntryTimer, Text: "t #1"})
	assert.Equal(t, "scenario: s\nstep advance 1s\ntimer t #1\n", string(Snapshot("s", r)))
}
