package harness

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a trace for golden comparison: a header naming the
// scenario followed by one entry per line.
func Snapshot(name string, result *Result) []byte {
	var b strings.Builder
	b.WriteString("scenario: ")
	b.WriteString(name)
	b.WriteString("\n")
	for _, line := range result.Lines() {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result's trace against its golden
// file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(name, result))
}
