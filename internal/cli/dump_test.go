package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDump(t *testing.T) {
	dir := isolate(t)
	db := filepath.Join(dir, "graph.db")
	seed := writeFile(t, filepath.Join(dir, "seed.yaml"), testSeed)
	_, err := runFor(t, 100*time.Millisecond, "--db", db, "--seed", seed)
	require.NoError(t, err)

	out, err := execute(t, "dump", "--db", db, "--prefix", "/rooms")
	require.NoError(t, err)
	assert.Contains(t, out, "PATH")
	assert.Contains(t, out, "/rooms/a/setpoint")
	assert.Contains(t, out, "21")
	assert.NotContains(t, out, HeartbeatPath)

	out, err = execute(t, "--format", "json", "dump", "--db", db)
	require.NoError(t, err)
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Seq   int64 `json:"seq"`
			Nodes []struct {
				Path      string `json:"path"`
				Reference string `json:"reference"`
			} `json:"nodes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Positive(t, resp.Data.Seq)

	refs := map[string]string{}
	for _, n := range resp.Data.Nodes {
		refs[n.Path] = n.Reference
	}
	assert.Equal(t, "/rooms/a", refs["/favorites/a"])
	assert.Contains(t, refs, HeartbeatPath)
}

func TestDump_Errors(t *testing.T) {
	isolate(t)

	_, err := execute(t, "dump")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no database")

	_, err = execute(t, "dump", "--db", "x.db", "--prefix", "rooms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid prefix")
}
