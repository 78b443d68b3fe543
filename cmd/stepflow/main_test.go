package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/stepflow/pkg/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRunCommand_Succeeds(t *testing.T) {
	path := writeFile(t, "boot.hcl", `
batch "boot" {
  step "config" {
    kind = "value"
    args = { value = "cfg" }
  }
  step "greet" {
    kind  = "template"
    needs = ["config"]
    args  = { text = "hello {{ .config }}" }
  }
}
`)

	var stdout, stderr bytes.Buffer
	code := dispatch([]string{"run", "-log-level", "error", "-f", path}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var report domain.BatchReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.Equal(t, "boot", report.Name)
	assert.Equal(t, domain.BatchStatusSucceeded, report.Status)
	assert.Len(t, report.Steps, 2)
}

func TestRunCommand_FailedBatch(t *testing.T) {
	path := writeFile(t, "etl.json", `{
  "name": "etl",
  "steps": [
    {"id": "extract", "kind": "fail", "args": {"message": "source offline"}},
    {"id": "load", "kind": "value", "after": ["extract"]}
  ]
}`)

	var stdout, stderr bytes.Buffer
	code := dispatch([]string{"run", "-log-level", "error", path}, &stdout, &stderr)
	assert.Equal(t, 1, code)

	var report domain.BatchReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.Equal(t, domain.BatchStatusFailed, report.Status)
}

func TestRunCommand_UsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 2, dispatch([]string{"run"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "batch definition is required")

	stderr.Reset()
	assert.Equal(t, 2, dispatch([]string{"run", "-f", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr))

	stderr.Reset()
	assert.Equal(t, 2, dispatch([]string{"bogus"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unknown command")
}

func TestDispatch_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, dispatch([]string{"version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "stepflow dev")
}
