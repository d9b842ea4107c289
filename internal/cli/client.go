package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/daemon"
	"github.com/sidelinehq/crewd/internal/ipc"
)

// dial connects to the running daemon's control socket, failing with
// ExitUnreachable (never a generic failure) so scripts can distinguish
// "daemon not running" from every other error.
func dial(cfg config.Config) (*ipc.Client, error) {
	layout := config.NewLayout(cfg.StateDir)
	c, err := ipc.DialUnix(layout.Socket, cfg.ConnectTimeout)
	if err != nil {
		return nil, unreachableErr(fmt.Errorf("daemon unreachable at %s: %w", layout.Socket, err))
	}
	if err := c.SetDeadline(time.Now().Add(cfg.IPCTimeout)); err != nil {
		c.Close()
		return nil, unreachableErr(err)
	}
	return c, nil
}

// call dials, sends req, and closes the connection — the shape every
// one-shot CLI command needs; long-lived commands (logs --follow,
// attach) dial directly instead.
func call(cfg config.Config, req ipc.Request) (ipc.Response, error) {
	c, err := dial(cfg)
	if err != nil {
		return ipc.Response{}, err
	}
	defer c.Close()

	resp, err := c.Call(req)
	if err != nil {
		return ipc.Response{}, unreachableErr(err)
	}
	return resp, nil
}

// mustOK converts a non-ok Response into the matching cliError, rendering
// error.kind on its own line followed by message; callers that need
// resp.Data on success just check err == nil afterward.
func mustOK(resp ipc.Response) error {
	if resp.Ok {
		return nil
	}
	kind, message := "bug", "unknown error"
	if resp.Error != nil {
		kind, message = resp.Error.Kind, resp.Error.Message
	}
	printEnvelopeError(kind, message)
	if kind == "user" {
		return &cliError{code: ExitUsage, err: fmt.Errorf("%s", message)}
	}
	return genericErr(fmt.Errorf("%s: %s", kind, message))
}

// waitForSocket polls for the control socket to appear (or, more
// precisely, to answer ping) up to cfg.ConnectTimeout. On timeout it
// reads every ERROR line from the daemon log after the last "--- starting"
// marker and surfaces them, since that's the daemon's only record of why
// it never came up.
func waitForSocket(cfg config.Config) error {
	layout := config.NewLayout(cfg.StateDir)
	deadline := time.Now().Add(cfg.ConnectTimeout)
	for {
		if c, err := ipc.DialUnix(layout.Socket, cfg.ConnectPoll); err == nil {
			_, err := c.Call(ipc.Request{Type: "ping"})
			c.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return timeoutErr(fmt.Errorf("daemon did not become reachable within %s:\n%s",
				cfg.ConnectTimeout, strings.Join(tailStartupErrors(layout.DaemonLog), "\n")))
		}
		time.Sleep(cfg.ConnectPoll)
	}
}

// tailStartupErrors returns every ERROR-level log line after the last
// startup marker, bounded to the last 20 so a crash-looping daemon
// doesn't flood the terminal.
func tailStartupErrors(logPath string) []string {
	f, err := os.Open(logPath)
	if err != nil {
		return []string{"(could not read daemon log: " + err.Error() + ")"}
	}
	defer f.Close()

	var lines, errLines []string
	lastMarker := -1
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)
		if strings.HasPrefix(line, "--- starting") {
			lastMarker = len(lines) - 1
		}
	}
	for _, line := range lines[max(lastMarker, 0):] {
		if strings.Contains(line, `"level":"ERROR"`) || strings.Contains(line, "ERROR") {
			errLines = append(errLines, line)
		}
	}
	if len(errLines) > 20 {
		errLines = errLines[len(errLines)-20:]
	}
	if len(errLines) == 0 {
		return []string{"(no ERROR lines found in daemon log since startup)"}
	}
	return errLines
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// checkVersion reads the running daemon's version file and warns (does
// not fail) on mismatch against clientVersion — a stale client talking to
// a newer daemon still speaks the same wire protocol in practice, but the
// operator should know.
func checkVersion(cfg config.Config, clientVersion string) {
	layout := config.NewLayout(cfg.StateDir)
	serverVersion, err := daemon.ReadVersionFile(layout.VersionFile)
	if err != nil || serverVersion == clientVersion {
		return
	}
	fmt.Fprintf(os.Stderr, "warning: client version %s does not match daemon version %s\n", clientVersion, serverVersion)
}
