package daemon

import (
	"fmt"
	"os"
	"strings"
)

// writeVersionFile records version at path so a client can detect a
// mismatch against the daemon it's about to talk to before it ever
// dials the control socket (on a mismatch the client prints a warning
// naming both versions before making the call).
func writeVersionFile(path, version string) error {
	if err := os.WriteFile(path, []byte(version+"\n"), 0o644); err != nil {
		return fmt.Errorf("daemon: write version file %s: %w", path, err)
	}
	return nil
}

// ReadVersionFile reads back the version a running daemon last wrote.
// Used by internal/cli before dialing, and by ipc.Client.DialUnix
// callers that want to fail before the first round trip rather than
// after.
func ReadVersionFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("daemon: read version file %s: %w", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}
