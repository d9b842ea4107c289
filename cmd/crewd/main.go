// Command crewd is the long-running orchestration daemon: it replays the
// event log into a projection, wires the runtime/effects/supervisor/
// reconciler/queue pipeline together, and accepts control-socket
// connections from the crew CLI until asked to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/daemon"
	"github.com/sidelinehq/crewd/internal/runbook"
)

var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}

	var stateDir, project, runbookPath, metricsAddr string
	flag.StringVar(&stateDir, "state-dir", "", "State directory (default: $CREWD_STATE_DIR or a config file)")
	flag.StringVar(&project, "project", "", "Default project scope for runbook-bootstrapped queues/workers/crons")
	flag.StringVar(&runbookPath, "runbook", "", "Path to a runbook file to bootstrap at startup (optional)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Address to serve /metrics on, e.g. 127.0.0.1:9090 (empty disables it)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "crewd: load config:", err)
		os.Exit(1)
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if project != "" {
		cfg.Project = project
	}

	var def *runbook.Definition
	if runbookPath != "" {
		def, err = runbook.Load(runbookPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "crewd: load runbook:", err)
			os.Exit(1)
		}
	}

	d, err := daemon.Start(cfg, daemon.Options{
		Version:     version,
		Project:     cfg.Project,
		MetricsAddr: metricsAddr,
		Runbook:     def,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "crewd: start:", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "crewd: shutdown:", err)
		os.Exit(1)
	}
}
