package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/ipc"
	"github.com/sidelinehq/crewd/internal/supervisor"
)

func newStartCmd(cfg *config.Config, version string) *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon for the current state directory",
		RunE: func(c *cobra.Command, args []string) error {
			layout := config.NewLayout(cfg.StateDir)
			if pid, alive := runningPID(layout.LockFile); alive {
				return usageErr("daemon already running (pid %d)", pid)
			}
			if foreground {
				return genericErr(errors.New("--foreground requires invoking the crewd daemon binary directly"))
			}
			if err := spawnDaemon(*cfg); err != nil {
				return genericErr(err)
			}
			if err := waitForSocket(*cfg); err != nil {
				return err
			}
			checkVersion(*cfg, version)
			return printData(map[string]string{"status": "started", "state_dir": cfg.StateDir})
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground instead of detaching (delegates to the crewd binary)")
	return cmd
}

// spawnDaemon launches the crewd daemon binary, detached into its own
// session so it outlives this CLI invocation, the way a real "start"
// command must — the daemon itself already writes its own log file, so
// stdout/stderr are simply discarded here rather than captured.
func spawnDaemon(cfg config.Config) error {
	bin, err := daemonBinaryPath()
	if err != nil {
		return err
	}
	cmd := exec.Command(bin, "--state-dir", cfg.StateDir)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	return cmd.Process.Release()
}

// daemonBinaryPath looks for "crewd" next to the running crew binary
// first (the common install layout — both ship from the same directory),
// falling back to $PATH.
func daemonBinaryPath() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "crewd")
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return exec.LookPath("crewd")
}

func newStopCmd(cfg *config.Config) *cobra.Command {
	var kill bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(c *cobra.Command, args []string) error {
			layout := config.NewLayout(cfg.StateDir)
			pid, alive := runningPID(layout.LockFile)
			if !alive {
				return usageErr("no daemon running for %s", cfg.StateDir)
			}
			if kill {
				proc, err := os.FindProcess(pid)
				if err != nil {
					return genericErr(err)
				}
				if err := proc.Signal(syscall.SIGKILL); err != nil {
					return genericErr(err)
				}
				return printData(map[string]string{"status": "killed", "pid": strconv.Itoa(pid)})
			}

			resp, err := call(*cfg, ipc.Request{Type: "shutdown"})
			if err != nil {
				return err
			}
			if err := mustOK(resp); err != nil {
				return err
			}
			if err := waitForExit(pid, cfg.GracefulExit); err != nil {
				return timeoutErr(err)
			}
			return printData(map[string]string{"status": "stopped"})
		},
	}
	cmd.Flags().BoolVar(&kill, "kill", false, "Send SIGKILL instead of requesting a graceful shutdown")
	return cmd
}

func newRestartCmd(cfg *config.Config, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop then start the daemon",
		RunE: func(c *cobra.Command, args []string) error {
			layout := config.NewLayout(cfg.StateDir)
			if pid, alive := runningPID(layout.LockFile); alive {
				if resp, err := call(*cfg, ipc.Request{Type: "shutdown"}); err == nil {
					_ = mustOK(resp)
					_ = waitForExit(pid, cfg.GracefulExit)
				}
			}
			if err := spawnDaemon(*cfg); err != nil {
				return genericErr(err)
			}
			if err := waitForSocket(*cfg); err != nil {
				return err
			}
			checkVersion(*cfg, version)
			return printData(map[string]string{"status": "restarted"})
		},
	}
}

func newDaemonStatusCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and summary counts",
		RunE: func(c *cobra.Command, args []string) error {
			resp, err := call(*cfg, ipc.Request{Type: "status"})
			if err != nil {
				return err
			}
			if err := mustOK(resp); err != nil {
				return err
			}
			return printJSON(envelope{Ok: true, Data: resp.Data})
		},
	}
}


// runningPID reports the pid recorded in the lock file and whether that
// process is still alive — the same liveness probe internal/supervisor
// uses to tell a live agent from a stale pid record.
func runningPID(lockPath string) (int, bool) {
	b, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(string(b))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, supervisor.ProcessAlive(pid)
}

// waitForExit polls until pid is no longer alive or timeout elapses.
func waitForExit(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for supervisor.ProcessAlive(pid) {
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon (pid %d) did not exit within %s", pid, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}
