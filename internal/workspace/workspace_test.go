package workspace_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/workspace"
)

func TestCreate_PlainDirectoryWithoutGitProject(t *testing.T) {
	dir := t.TempDir()
	layout := config.NewLayout(dir)
	require.NoError(t, layout.EnsureDirs())

	p := workspace.New(layout, "")
	path, err := p.Create(context.Background(), "job_1", "ws_1")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(layout.Workspaces, "ws_1"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestDrop_RemovesDirectory(t *testing.T) {
	dir := t.TempDir()
	layout := config.NewLayout(dir)
	require.NoError(t, layout.EnsureDirs())

	p := workspace.New(layout, "")
	path, err := p.Create(context.Background(), "job_1", "ws_1")
	require.NoError(t, err)

	require.NoError(t, p.Drop(context.Background(), "ws_1"))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
