package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AllKinds(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "scenarios", "pass.yaml"), passingScenario)
	policy := writeFile(t, filepath.Join(dir, "policy.yaml"), `
default: deny
rules:
  - { owners: [system], effect: allow }
  - { paths: ["/rooms/**"], ops: [read], effect: allow }
`)
	seed := writeFile(t, filepath.Join(dir, "seed.yaml"), testSeed)

	out, err := execute(t, "validate", filepath.Join(dir, "scenarios"), "--policy", policy, "--seed", seed)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ scenario")
	assert.Contains(t, out, "✓ policy")
	assert.Contains(t, out, "✓ seed")
	assert.Contains(t, out, "3 file(s) valid")
}

func TestValidate_Invalid(t *testing.T) {
	dir := isolate(t)
	bad := writeFile(t, filepath.Join(dir, "bad.yaml"), "name: bad\ndescription: d\nsteps: [{op: explode}]\nassertions: [{type: node, path: /a}]\n")
	policy := writeFile(t, filepath.Join(dir, "policy.yaml"), "rules: [{effect: maybe}]\n")
	seed := writeFile(t, filepath.Join(dir, "seed.yaml"), "nodes: [{path: /a, reference: /b, value: 1}]\n")

	out, err := execute(t, "validate", bad, "--policy", policy, "--seed", seed)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `unknown op "explode"`)
	assert.Contains(t, out, "unknown effect")
	assert.Contains(t, out, "a reference takes no type or value")
	assert.Contains(t, out, "3 of 3 file(s) invalid")
}

func TestValidate_JSON(t *testing.T) {
	dir := isolate(t)
	policy := writeFile(t, filepath.Join(dir, "policy.yaml"), "default: sometimes\n")

	out, err := execute(t, "--format", "json", "validate", "--policy", policy)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalid, resp.Error.Code)
}

func TestValidate_NothingToDo(t *testing.T) {
	isolate(t)
	_, err := execute(t, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
