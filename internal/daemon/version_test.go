package daemon

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "version")
	require.NoError(t, writeVersionFile(path, "1.2.3"))

	got, err := ReadVersionFile(path)
	require.NoError(t, err)
	require.Equal(t, "1.2.3", got)
}

func TestReadVersionFile_MissingFile(t *testing.T) {
	_, err := ReadVersionFile(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
