package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefsSetThenGet(t *testing.T) {
	db := filepath.Join(t.TempDir(), "u.db")

	out, err := execute(t, "prefs", "set", "u-1", "--db", db, "--theme", "dark", "--language", "DE-ch", "--high-contrast")
	require.NoError(t, err)
	assert.Contains(t, out, "theme:          dark")
	assert.Contains(t, out, "language:       de-CH")

	_, err = execute(t, "prefs", "set", "u-1", "--db", db, "--high-contrast=false", "--large-text")
	require.NoError(t, err)

	out, err = execute(t, "prefs", "get", "u-1", "--db", db, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data struct {
			UserID      string `json:"user_id"`
			Preferences struct {
				Language      string          `json:"language"`
				Theme         string          `json:"theme"`
				Accessibility map[string]bool `json:"accessibility"`
			} `json:"preferences"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "u-1", resp.Data.UserID)
	assert.Equal(t, "dark", resp.Data.Preferences.Theme, "earlier changes are kept")
	assert.Equal(t, "de-CH", resp.Data.Preferences.Language)
	assert.False(t, resp.Data.Preferences.Accessibility["high_contrast"])
	assert.True(t, resp.Data.Preferences.Accessibility["large_text"])
}

func TestPrefsSetRejectsInvalidTheme(t *testing.T) {
	db := filepath.Join(t.TempDir(), "u.db")

	out, err := execute(t, "prefs", "set", "u-1", "--db", db, "--theme", "neon")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "invalid preferences")

	_, err = execute(t, "prefs", "get", "u-1", "--db", db)
	require.Error(t, err, "nothing was saved")
}

func TestPrefsSetNeedsAChange(t *testing.T) {
	_, err := execute(t, "prefs", "set", "u-1", "--db", filepath.Join(t.TempDir(), "u.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "nothing to change")
}

func TestPrefsGetMissing(t *testing.T) {
	out, err := execute(t, "prefs", "get", "ghost", "--db", filepath.Join(t.TempDir(), "u.db"), "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestPrefsList(t *testing.T) {
	db := filepath.Join(t.TempDir(), "u.db")

	out, err := execute(t, "prefs", "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No stored preferences.")

	for _, id := range []string{"u-2", "u-1"} {
		_, err := execute(t, "prefs", "set", id, "--db", db, "--theme", "light")
		require.NoError(t, err)
	}

	out, err = execute(t, "prefs", "list", "--db", db, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data []struct {
			UserID string `json:"user_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "u-1", resp.Data[0].UserID)
	assert.Equal(t, "u-2", resp.Data[1].UserID)
}

func TestPrefsRequiresDatabase(t *testing.T) {
	_, err := execute(t, "prefs", "get", "u-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"db" not set`)
}
