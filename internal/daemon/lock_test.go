package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sidelinehq/crewd/internal/models"
)

func TestAcquireLock_SecondAttemptFailsWithLockHeldError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")

	first, err := acquireLock(path)
	require.NoError(t, err)
	defer first.release()

	_, err = acquireLock(path)
	require.Error(t, err)
	var held *models.LockHeldError
	require.ErrorAs(t, err, &held)
	require.Equal(t, os.Getpid(), held.PID)
}

func TestAcquireLock_ReleaseThenReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")

	first, err := acquireLock(path)
	require.NoError(t, err)
	require.NoError(t, first.release())

	second, err := acquireLock(path)
	require.NoError(t, err)
	defer second.release()
}

func TestProcessLock_ReleaseNilIsNoop(t *testing.T) {
	var l *processLock
	require.NoError(t, l.release())
}
