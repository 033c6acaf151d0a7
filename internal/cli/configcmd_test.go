package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("debounce_window_ms: 50\nbatch_size: 5\n"), 0644))
	goodCUE := filepath.Join(dir, "good.cue")
	require.NoError(t, os.WriteFile(goodCUE, []byte("error_threshold: 4\n"), 0644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("debounce_window_ms: 900\n"), 0644))

	out, err := execute(t, "config", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	_, err = execute(t, "config", "validate", goodCUE)
	require.NoError(t, err)

	out, err = execute(t, "config", "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E001]")
}

func TestConfigShowDefaults(t *testing.T) {
	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Regexp(t, `debounce_window_ms\s+100`, out)
	assert.Regexp(t, `context_scoped_cache\s+true`, out)
}

func TestConfigShowFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rollback_timeout_ms: 2000\n"), 0644))

	out, err := execute(t, "config", "show", path, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, float64(2000), resp.Data["rollback_timeout_ms"])
	assert.Equal(t, float64(100), resp.Data["debounce_window_ms"])
}
