// Package daemon assembles every other package into the long-running
// process: replay, wiring, the reconciler pass, runbook bootstrap, the
// IPC listener, the external-queue poller, and a strictly-ordered
// shutdown. Nothing in this package implements orchestration logic
// itself — it only constructs and sequences the pieces that do.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"syscall"

	"github.com/sidelinehq/crewd/internal/models"
)

// processLock is an advisory, non-blocking exclusive lock on the state
// directory's lock file. Two daemons racing the same directory must
// never both proceed — acquisition fails fast rather than waiting, so
// the loser can exit immediately instead of corrupting shared state.
type processLock struct {
	file *os.File
	path string
}

// acquireLock opens (creating if absent) the lock file at path and takes
// a non-blocking exclusive flock. If another process already holds it,
// the held PID is read back out of the file (best-effort; 0 if stale or
// unreadable) and returned in a LockHeldError.
func acquireLock(path string) (*processLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("daemon: open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		pid := readLockPID(f)
		_ = f.Close()
		return nil, &models.LockHeldError{Path: path, PID: pid}
	}

	if err := f.Truncate(0); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("daemon: truncate lock file %s: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("daemon: write lock file %s: %w", path, err)
	}

	return &processLock{file: f, path: path}, nil
}

func readLockPID(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		return 0
	}
	pid, _ := strconv.Atoi(string(buf[:n]))
	return pid
}

// release unlocks and closes the lock file. It deliberately never
// removes the file itself — a losing contender must never clean up
// state files it doesn't own, and leaving it present is what lets the
// next daemon's acquireLock reuse the same inode rather than racing a
// delete.
func (l *processLock) release() error {
	if l == nil {
		return nil
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	return l.file.Close()
}
