package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sidelinehq/crewd/internal/bus"
	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/effects"
	"github.com/sidelinehq/crewd/internal/eventlog"
	"github.com/sidelinehq/crewd/internal/ipc"
	"github.com/sidelinehq/crewd/internal/queue"
	"github.com/sidelinehq/crewd/internal/reconciler"
	"github.com/sidelinehq/crewd/internal/runbook"
	"github.com/sidelinehq/crewd/internal/runtime"
	"github.com/sidelinehq/crewd/internal/state"
	"github.com/sidelinehq/crewd/internal/supervisor"
	"github.com/sidelinehq/crewd/internal/workspace"
)

// Daemon is the global owning structure: the log handle, state
// projection, dispatcher, supervisors, and reconciler all referenced
// from one place. Teardown (Shutdown) runs in strictly reverse order of
// Start.
type Daemon struct {
	Config config.Config
	Layout config.Layout
	Clock  Clock

	lock *processLock

	Log   *eventlog.Log
	State *state.Projection
	Bus   *bus.Bus

	Engine     *runtime.Engine
	Dispatcher *effects.Dispatcher
	Supervisor *supervisor.Supervisor
	Workspace  *workspace.Provisioner

	Server  *ipc.Server
	Poller  *queue.Poller
	metrics *metricsRecorder

	logFile    *os.File
	pollerStop context.CancelFunc

	shutdownOnce chan struct{}
}

// Options bundles what Start needs beyond the resolved Config.
type Options struct {
	Version     string
	Project     string
	Clock       Clock  // nil defaults to SystemClock
	MetricsAddr string // "" disables the /metrics endpoint; "127.0.0.1:0" picks a free port
	Runbook     *runbook.Definition
}

// Start performs the daemon's full startup sequence: acquire the lock,
// write the startup marker, replay the log into a fresh projection, wire
// every component together, start accepting IPC connections, run the
// reconciler, and bootstrap the runbook. Returns a running Daemon or an
// error describing exactly which step failed — contention
// (LockHeldError) is the one case callers must treat as "exit
// immediately, never clean up state files".
func Start(cfg config.Config, opts Options) (*Daemon, error) {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}

	layout := config.NewLayout(cfg.StateDir)
	if err := layout.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("daemon: ensure state dirs: %w", err)
	}

	lock, err := acquireLock(layout.LockFile)
	if err != nil {
		return nil, err // LockHeldError: caller must exit without touching any other state file
	}

	logFile, err := os.OpenFile(layout.DaemonLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = lock.release()
		return nil, fmt.Errorf("daemon: open daemon log: %w", err)
	}

	// The startup handshake marker is written as a bare line, ahead of
	// any structured logging, so a client polling the log for it doesn't
	// have to parse JSON to find it.
	if _, err := fmt.Fprintf(logFile, "--- starting (pid: %d)\n", os.Getpid()); err != nil {
		_ = logFile.Close()
		_ = lock.release()
		return nil, fmt.Errorf("daemon: write startup marker: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(logFile, nil)))

	if err := writeVersionFile(layout.VersionFile, opts.Version); err != nil {
		_ = logFile.Close()
		_ = lock.release()
		return nil, err
	}

	proj, log, err := loadState(layout)
	if err != nil {
		_ = logFile.Close()
		_ = lock.release()
		return nil, err
	}

	b := bus.New(log, proj)

	engine := runtime.New()
	engine.Now = clock.Now

	// effects.New's own default (15m) governs ShellTimeout; that bounds
	// a single step's shell command, not a whole run, so it is left at
	// that default rather than wired to an unrelated Config field.
	dispatcher := effects.New(b)

	sup := supervisor.New(layout, b, supervisor.Config{
		IdleAfter:   cfg.IdleGrace,
		WatcherPoll: cfg.WatcherPoll,
	})
	dispatcher.Supervisor = sup

	projectRoot, _ := os.Getwd()
	wsp := workspace.New(layout, projectRoot)
	dispatcher.Workspace = wsp

	b.Reactor = engine
	b.Dispatch = dispatcher

	handler := &ipc.Handler{
		Publisher:     b,
		Query:         proj,
		Events:        log,
		ServerVersion: opts.Version,
		StartedAt:     clock.Now(),
		PID:           os.Getpid(),
	}
	server := &ipc.Server{Handler: handler, BearerToken: cfg.BearerToken}
	if err := server.ListenUnix(layout.Socket); err != nil {
		_ = log.Close()
		_ = logFile.Close()
		_ = lock.release()
		return nil, fmt.Errorf("daemon: listen unix: %w", err)
	}
	if cfg.TCPPort > 0 {
		if err := server.ListenTCP(fmt.Sprintf("127.0.0.1:%d", cfg.TCPPort)); err != nil {
			server.Close()
			server.Wait()
			_ = log.Close()
			_ = logFile.Close()
			_ = lock.release()
			return nil, fmt.Errorf("daemon: listen tcp: %w", err)
		}
	}

	rec := reconciler.New(b, proj, sup)
	rec.Run()

	if opts.Runbook != nil {
		if err := runbook.Bootstrap(b, opts.Runbook, opts.Project); err != nil {
			server.Close()
			server.Wait()
			_ = log.Close()
			_ = logFile.Close()
			_ = lock.release()
			return nil, fmt.Errorf("daemon: bootstrap runbook: %w", err)
		}
	}

	d := &Daemon{
		Config: cfg, Layout: layout, Clock: clock,
		lock: lock, Log: log, State: proj, Bus: b,
		Engine: engine, Dispatcher: dispatcher, Supervisor: sup, Workspace: wsp,
		Server: server, logFile: logFile,
		shutdownOnce: make(chan struct{}, 1),
	}
	handler.Shutdown = func() { go d.Shutdown(context.Background()) }

	if opts.MetricsAddr != "" {
		d.metrics = newMetricsRecorder(proj, b.QueueDepth)
		b.Metrics = d.metrics
		addr, err := d.metrics.listen(opts.MetricsAddr)
		if err != nil {
			slog.Warn("daemon: metrics listener failed to start", "error", err.Error())
			d.metrics = nil
		} else {
			slog.Info("daemon: metrics listening", "addr", addr)
		}
	}

	poller := queue.New(b, proj)
	pctx, cancel := context.WithCancel(context.Background())
	d.Poller = poller
	d.pollerStop = cancel
	go poller.Run(pctx, opts.Project)

	slog.Info("daemon: started", "state_dir", layout.Root, "version", opts.Version)
	return d, nil
}

// loadState loads the most recent snapshot (if any), opens the WAL,
// replays every record with Seq greater than the snapshot's high-water
// mark directly into the projection via Apply — bypassing React
// entirely, since re-running the runtime's scheduling rules against
// historical events would re-fire effects (respawning agents, re-running
// shell commands) that already ran the first time — and primes the log's
// sequence counter to one past the highest Seq observed in either.
func loadState(layout config.Layout) (*state.Projection, *eventlog.Log, error) {
	proj := state.New()
	var upToSeq int64

	if env, body, ok, err := eventlog.LoadSnapshot(layout); err != nil {
		return nil, nil, fmt.Errorf("daemon: load snapshot: %w", err)
	} else if ok {
		if err := proj.LoadSnapshot(body, env.UpToSeq); err != nil {
			return nil, nil, fmt.Errorf("daemon: apply snapshot: %w", err)
		}
		upToSeq = env.UpToSeq
	}

	log, err := eventlog.Open(layout)
	if err != nil {
		return nil, nil, fmt.Errorf("daemon: open wal: %w", err)
	}

	events, err := eventlog.Replay(layout.WAL)
	if err != nil {
		_ = log.Close()
		return nil, nil, fmt.Errorf("daemon: replay wal: %w", err)
	}

	nextSeq := upToSeq + 1
	for _, ev := range events {
		if ev.Seq <= upToSeq {
			continue // already folded into the snapshot
		}
		proj.Apply(ev)
		if ev.Seq >= nextSeq {
			nextSeq = ev.Seq + 1
		}
	}
	log.SetNextSeq(nextSeq)

	return proj, log, nil
}

// Shutdown tears the daemon down in strict reverse order of Start:
// listener, supervisors, dispatcher, state flush, snapshot, log close,
// lock release. Safe to call more than once; only the first call acts.
func (d *Daemon) Shutdown(ctx context.Context) error {
	select {
	case d.shutdownOnce <- struct{}{}:
	default:
		return nil
	}

	slog.Info("daemon: shutting down")

	if d.pollerStop != nil {
		d.pollerStop()
	}

	d.Server.Close()
	d.Server.Wait()

	// The supervisor and dispatcher own no closable resource of their
	// own beyond the goroutines already watching each spawned process;
	// those exit on their own once the process they watch exits (an
	// agent process this daemon owns is left running across a daemon
	// restart by design — it is reattached, not killed, on the next
	// Start), so there is no explicit teardown call for either.

	if d.metrics != nil {
		_ = d.metrics.close()
	}

	body, seq, err := d.State.MarshalSnapshot()
	if err != nil {
		slog.Error("daemon: marshal snapshot failed", "error", err.Error())
	} else if err := eventlog.WriteSnapshot(d.Layout, seq, body); err != nil {
		slog.Error("daemon: write snapshot failed", "error", err.Error())
	} else if err := d.Log.TruncateUpTo(seq); err != nil {
		slog.Error("daemon: truncate wal failed", "error", err.Error())
	}

	if err := d.Log.Close(); err != nil {
		slog.Error("daemon: close wal failed", "error", err.Error())
	}

	if err := d.lock.release(); err != nil {
		slog.Error("daemon: release lock failed", "error", err.Error())
	}

	if d.logFile != nil {
		_ = d.logFile.Close()
	}

	return nil
}
