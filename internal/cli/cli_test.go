package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The command tree is package state, so flag values carry over between
// runs. Tests below only pass flags whose leftovers cannot change the
// outcome of later tests.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("ENGINE_STORAGE", "memory")
	t.Setenv("OBSERVABILITY_LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLevels_LinearTable(t *testing.T) {
	out, err := execute(t, "levels", "--formula", "linear", "--base", "100", "--max", "4")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"LEVEL", "XP", "STEP"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"1", "0", "0"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"2", "100", "100"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"4", "300", "100"}, strings.Fields(lines[4]))
}

func TestLevels_UnknownFormula(t *testing.T) {
	_, err := execute(t, "levels", "--formula", "cubic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cubic")
}

func TestLevels_LevelForXP(t *testing.T) {
	out, err := execute(t, "levels", "--formula", "linear", "--base", "100", "--xp", "250")
	require.NoError(t, err)
	assert.Equal(t, "3", strings.TrimSpace(out))
}

func TestAward_MemoryStorage(t *testing.T) {
	out, err := execute(t, "award", "--user", "u1", "--classroom", "c1", "--amount", "10", "--by", "teacher")
	require.NoError(t, err)

	var res struct {
		Balance     int64
		Transaction struct {
			Amount int64
		}
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, int64(10), res.Balance)
	assert.Equal(t, int64(10), res.Transaction.Amount)
}

func TestGroupChanged_NeedsPreviousOrSet(t *testing.T) {
	_, err := execute(t, "group-changed", "--group-id", "g1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--previous or --set")
}

func TestAwardGroup_WithSeed(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(seed, []byte(`{
		"groups": [{
			"id": "g1",
			"classroom_id": "c1",
			"name": "Team A",
			"group_multiplier": 2,
			"members": [
				{"user_id": "u1", "status": "approved"},
				{"user_id": "u2", "status": "approved"},
				{"user_id": "u3", "status": "pending"}
			]
		}]
	}`), 0o600))

	out, err := execute(t, "--seed", seed, "award-group", "--group-id", "g1", "--amount", "10")
	require.NoError(t, err)

	var res struct {
		Succeeded int          `json:"succeeded"`
		Failed    int          `json:"failed"`
		Members   []memberView `json:"members"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, res.Failed)
	require.Len(t, res.Members, 2)
	for _, m := range res.Members {
		assert.Empty(t, m.Error)
		assert.Equal(t, int64(20), m.Balance, m.UserID)
	}
}

func TestLoadSeed_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := LoadSeed(path)
	require.Error(t, err)
}
