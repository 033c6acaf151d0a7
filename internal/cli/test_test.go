package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: %s
description: "signed-in user is delivered once"
provider: { id: u-1, role: user }
steps:
  - op: start
  - op: subscribe
    id: ui
  - op: advance
    ms: 200
assertions:
  - type: trace_count
    event: delivery
    subscriber: ui
    count: 1
`

const failingScenario = `name: failing
description: "expects a delivery nobody subscribed for"
steps:
  - op: start
assertions:
  - type: trace_count
    event: delivery
    count: 1
`

func writeScenario(t *testing.T, dir, file, content string) string {
	t.Helper()
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func scenarioBody(name string) string {
	return fmt.Sprintf(passingScenario, name)
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := execute(t, "test", t.TempDir(), "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTestCommandPassAndFail(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "ok.yaml", scenarioBody("ok"))
	writeScenario(t, dir, "failing.yaml", failingScenario)

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ ok")
	assert.Contains(t, out, "✗ failing")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestTestCommandGoldenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "login.yaml", scenarioBody("login"))

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")

	golden := filepath.Join(dir, "golden", "login.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name":"login"`)

	_, err = execute(t, "test", dir)
	require.NoError(t, err, "a fresh golden file matches")

	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario_name":"login","trace":[]}`), 0644))
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandJSONReportsFailures(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "failing.yaml", failingScenario)

	out, err := execute(t, "test", dir, "--format", "json")
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeScenario, resp.Error.Code)
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a.yaml", "")
	writeScenario(t, dir, "b.yml", "")
	writeScenario(t, dir, "notes.md", "")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	writeScenario(t, filepath.Join(dir, "golden"), "stale.yaml", "")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	writeScenario(t, filepath.Join(dir, "nested"), "c.yaml", "")

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Len(t, files, 3)

	files, err = findScenarioFiles(dir, "a*")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.yaml", filepath.Base(files[0]))

	_, err = findScenarioFiles(dir, "[")
	assert.Error(t, err)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "login.golden"),
		goldenFilePath(filepath.Join("scenarios", "login.yaml")))
}

func TestTestCommandRejectsZeroParallel(t *testing.T) {
	_, err := execute(t, "test", t.TempDir(), "--parallel", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandReportsInFileOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c", "a", "b"} {
		writeScenario(t, dir, name+".yaml", scenarioBody(name))
	}

	out, err := execute(t, "test", dir, "--parallel", "3")
	require.NoError(t, err)
	a, b, c := strings.Index(out, "✓ a"), strings.Index(out, "✓ b"), strings.Index(out, "✓ c")
	assert.True(t, a < b && b < c, "results out of order:\n%s", out)
}
