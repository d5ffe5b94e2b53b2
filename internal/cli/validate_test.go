package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeValidate(t *testing.T, format, path string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: format}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidDataset(t *testing.T) {
	output, err := executeValidate(t, "text", filepath.Join("testdata", "dataset.yaml"))
	require.NoError(t, err)
	assert.Contains(t, output, "✓ dataset valid (3 people, 2 teams)")
}

func TestValidateValidDatasetJSON(t *testing.T) {
	output, err := executeValidate(t, "json", filepath.Join("testdata", "dataset.yaml"))
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateNonExistentDataset(t *testing.T) {
	output, err := executeValidate(t, "text", "/nonexistent/dataset.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E005")
	assert.Contains(t, output, "dataset not found")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestValidateSchemaViolations(t *testing.T) {
	bad := `
people:
  - name: ada
    age: -3
    team: compilers
`
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bad), 0644))

	output, err := executeValidate(t, "text", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E006")
	assert.Contains(t, output, "✗ dataset invalid")
}

func TestValidateSchemaViolationsJSON(t *testing.T) {
	bad := `
teams:
  - name: ""
`
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bad), 0644))

	output, err := executeValidate(t, "json", path)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeSchemaViolation, resp.Error.Code)
}
