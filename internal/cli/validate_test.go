package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand_ValidConfigs(t *testing.T) {
	dir := t.TempDir()
	cue := writeFile(t, dir, "lazyjit.cue", []byte("workers: 4\ntarget: \"x86_64\"\n"))
	toml := writeFile(t, dir, "lazyjit.toml", []byte("log_level = \"debug\"\n"))

	out, err := execute(t, "validate", cue, toml)
	require.NoError(t, err)
	assert.Contains(t, out, "2 file(s) valid")
}

func TestValidateCommand_ReportsLine(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.cue", []byte("main_library: \"main\"\nworkers: ]\n"))

	out, err := execute(t, "--format", "json", "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string            `json:"code"`
			Details []ValidationError `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, bad, resp.Error.Details[0].File)
	assert.Equal(t, "cue", resp.Error.Details[0].Field)
	assert.Equal(t, 2, resp.Error.Details[0].Line)
}

func TestValidateCommand_TextErrors(t *testing.T) {
	dir := t.TempDir()
	yaml := writeFile(t, dir, "bad.yaml", []byte("compiler: llc\n"))
	ini := writeFile(t, dir, "bad.ini", []byte("workers=1\n"))

	out, err := execute(t, "validate", yaml, ini)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 file(s) invalid")
	assert.Contains(t, out, "✗ "+yaml)
	assert.Contains(t, out, "llc_path")
	assert.Contains(t, out, "unsupported config format")
}

func TestValidateCommand_Scenarios(t *testing.T) {
	out, err := execute(t, "validate", "--scenario",
		"../../testdata/scenarios/weak_override.yaml",
		"../../testdata/scenarios/libraries.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "2 file(s) valid")

	dir := t.TempDir()
	bad := writeFile(t, dir, "s.yaml", []byte(`name: n
description: d
config:
  workers: 0
flow:
  - lookup: [a]
assertions:
  - type: event_count
    kind: added
`))
	out, err = execute(t, "validate", "--scenario", bad)
	require.Error(t, err)
	assert.Contains(t, out, "✗ "+bad)
}
