package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyValues_ParsesAndDropsMalformed(t *testing.T) {
	got := keyValues([]string{"a=1", "b=2", "nodelimiter", "c="})
	require.Equal(t, map[string]string{"a": "1", "b": "2", "c": ""}, got)
}

func TestKeyValues_NilOnEmpty(t *testing.T) {
	require.Nil(t, keyValues(nil))
}

func TestNewRunCmd_MissingRunbookFileIsUsageError(t *testing.T) {
	cfg := newTestConfig(t)
	cmd := newRunCmd(cfg)
	err := execCmd(cmd, []string{"build", "--runbook", filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	require.Equal(t, ExitUsage, exitCode(err))
}

func TestNewRunCmd_UnknownCommandIsUsageError(t *testing.T) {
	dir := t.TempDir()
	runbookPath := filepath.Join(dir, "crewd.yaml")
	require.NoError(t, os.WriteFile(runbookPath, []byte(`
commands:
  - name: build
    steps:
      - name: compile
        kind: shell
        command: "go build ./..."
`), 0o644))

	cfg := newTestConfig(t)
	cmd := newRunCmd(cfg)
	err := execCmd(cmd, []string{"deploy", "--runbook", runbookPath})
	require.Error(t, err)
	require.Equal(t, ExitUsage, exitCode(err))
	require.Contains(t, err.Error(), `unknown command "deploy"`)
}
