package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/models"
)

// Publisher is the one bus method the supervisor needs to report
// activity/prompt/exit transitions it observes asynchronously, outside
// any effect's own completion.
type Publisher interface {
	Publish(eventType, project string, payload interface{}) (models.Event, error)
}

// Config bounds the supervisor's activity-detection timing. Zero values
// fall back to conservative defaults.
type Config struct {
	// IdleAfter is how long a session log must go without growing before
	// the agent is reported Working -> Idle.
	IdleAfter time.Duration
	// WatcherPoll is the fallback polling interval used when fsnotify is
	// unavailable, and the tick rate used to check IdleAfter regardless.
	WatcherPoll time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleAfter <= 0 {
		c.IdleAfter = 30 * time.Second
	}
	if c.WatcherPoll <= 0 {
		c.WatcherPoll = 2 * time.Second
	}
	return c
}

// Supervisor implements internal/effects.AgentSupervisor. It spawns each
// agent's sidecar process directly — Definition names either a
// recognized agent-CLI token (see agentcli.go) or, failing that, a
// literal shell command — and watches its session log for activity:
// fsnotify where available, falling back to periodic polling.
type Supervisor struct {
	Layout    config.Layout
	Publisher Publisher
	Config    Config

	mu     sync.Mutex
	agents map[string]*liveAgent
}

type liveAgent struct {
	project string
	// process is always set; cmd/stdin are only set for an agent this
	// process itself spawned (owned == true). A reattached agent
	// (owned == false, populated by Reattach after a daemon restart)
	// has neither: Wait() isn't usable on a process we didn't fork, so
	// its exit is noticed by polling liveness in watchActivity instead,
	// and Input has no stdin pipe to write to.
	owned          bool
	process        *os.Process
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	sessionLogPath string
	socketPath     string
	stop           chan struct{}
}

func New(layout config.Layout, pub Publisher, cfg Config) *Supervisor {
	return &Supervisor{
		Layout:    layout,
		Publisher: pub,
		Config:    cfg.withDefaults(),
		agents:    make(map[string]*liveAgent),
	}
}

// Spawn starts eff.Definition as a subprocess, its stdout/stderr teed
// into a per-agent session log, and begins watching that log for
// activity. The control socket path is reserved (and would be dialed by
// Input/Kill if this sidecar spoke the protocol in protocol.go) but a
// plain shell command has no socket to speak it on, so Input/Kill below
// fall back to the process's stdin/signal instead.
func (s *Supervisor) Spawn(ctx context.Context, project string, eff models.AgentSpawnEffect) (agentID, socketPath, sessionLogPath string, pid int, err error) {
	agentID = models.NewID("agent")
	dir := filepath.Join(s.Layout.AgentsDir, agentID)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", "", "", 0, fmt.Errorf("supervisor: create agent dir: %w", err)
	}
	sessionLogPath = filepath.Join(dir, "session.log")
	socketPath = filepath.Join(dir, "control.sock")

	logFile, err := os.Create(sessionLogPath)
	if err != nil {
		return "", "", "", 0, fmt.Errorf("supervisor: create session log: %w", err)
	}

	cmd, err := buildAgentCmd(eff.Definition)
	if err != nil {
		logFile.Close()
		return "", "", "", 0, fmt.Errorf("supervisor: %w", err)
	}
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), envPairs(eff.Env)...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	stdin, err := cmd.StdinPipe()
	if err != nil {
		logFile.Close()
		return "", "", "", 0, fmt.Errorf("supervisor: stdin pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		logFile.Close()
		return "", "", "", 0, fmt.Errorf("supervisor: start agent: %w", err)
	}
	pid = cmd.Process.Pid

	la := &liveAgent{
		project: project, owned: true, process: cmd.Process, cmd: cmd, stdin: stdin,
		sessionLogPath: sessionLogPath, socketPath: socketPath, stop: make(chan struct{}),
	}
	s.mu.Lock()
	s.agents[agentID] = la
	s.mu.Unlock()

	if eff.Prime != "" {
		fmt.Fprintln(stdin, eff.Prime)
	}

	go s.waitExit(agentID, la, logFile)
	go s.watchActivity(agentID, la)
	return agentID, socketPath, sessionLogPath, pid, nil
}

// Input writes text to the agent's stdin, the same channel a human
// driving an interactive session would use.
func (s *Supervisor) Input(ctx context.Context, agentID, text string) error {
	la := s.lookup(agentID)
	if la == nil {
		return fmt.Errorf("supervisor: unknown agent %s", agentID)
	}
	if la.stdin == nil {
		return fmt.Errorf("supervisor: agent %s was reattached after a restart, its stdin is gone", agentID)
	}
	_, err := fmt.Fprintln(la.stdin, text)
	return err
}

// Kill terminates the agent's process. waitExit still reports the exit
// as agent:exited; the caller (the runtime's on_dead/on_idle escalation)
// doesn't need a distinct "killed" transition.
func (s *Supervisor) Kill(ctx context.Context, agentID string) error {
	la := s.lookup(agentID)
	if la == nil {
		return nil // already gone
	}
	if la.process == nil {
		return nil
	}
	return la.process.Kill()
}

// Reattach is how the reconciler restores watching for an agent that
// was already running when this daemon started — it was spawned by a
// previous daemon process, so there is no *exec.Cmd to Wait() on here,
// only the bare pid recorded in the projection. Returns false (and
// registers nothing) if the process is no longer alive; the reconciler
// is responsible for emitting the matching agent:exited/agent:gone in
// that case, since only it knows whether the session directory itself
// still exists.
func (s *Supervisor) Reattach(project, agentID, socketPath, sessionLogPath string, pid int) bool {
	if !ProcessAlive(pid) {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	la := &liveAgent{
		project: project, owned: false, process: proc,
		sessionLogPath: sessionLogPath, socketPath: socketPath, stop: make(chan struct{}),
	}
	s.mu.Lock()
	s.agents[agentID] = la
	s.mu.Unlock()
	go s.watchActivity(agentID, la)
	return true
}

// ProcessAlive reports whether pid names a live process using a signal-0
// probe, which checks existence/permission without affecting the process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (s *Supervisor) lookup(agentID string) *liveAgent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agents[agentID]
}

func (s *Supervisor) forget(agentID string) {
	s.mu.Lock()
	delete(s.agents, agentID)
	s.mu.Unlock()
}

func (s *Supervisor) publish(eventType, project string, payload interface{}) {
	if s.Publisher == nil {
		return
	}
	if _, err := s.Publisher.Publish(eventType, project, payload); err != nil {
		slog.Error("supervisor: publish failed", "type", eventType, "error", err.Error())
	}
}

func (s *Supervisor) waitExit(agentID string, la *liveAgent, logFile *os.File) {
	_ = la.cmd.Wait()
	close(la.stop)
	logFile.Close()
	s.forget(agentID)
	s.publish(models.EventAgentExited, la.project, models.AgentExitedPayload{AgentID: agentID})
}

// watchActivity reports Working<->Idle transitions by watching session
// log growth: fsnotify when available, a poll ticker otherwise (also
// used regardless, as the only way to notice "no event for IdleAfter").
func (s *Supervisor) watchActivity(agentID string, la *liveAgent) {
	// A reattached agent already has a phase recorded from before the
	// restart; only a freshly spawned one needs the initial transition.
	if la.owned {
		s.publish(models.EventAgentWorking, la.project, models.AgentWorkingPayload{AgentID: agentID})
	}

	watcher, werr := fsnotify.NewWatcher()
	usingNotify := werr == nil
	if usingNotify {
		if err := watcher.Add(la.sessionLogPath); err != nil {
			watcher.Close()
			usingNotify = false
		}
	}
	if usingNotify {
		defer watcher.Close()
	} else {
		slog.Warn("supervisor: fsnotify unavailable, falling back to polling", "agent_id", agentID)
	}

	ticker := time.NewTicker(s.Config.WatcherPoll)
	defer ticker.Stop()

	var lastSize int64
	lastActivity := time.Now()
	idle := false

	checkGrowth := func() {
		info, err := os.Stat(la.sessionLogPath)
		if err != nil {
			return
		}
		if info.Size() > lastSize {
			lastSize = info.Size()
			lastActivity = time.Now()
			if idle {
				idle = false
				s.publish(models.EventAgentWorking, la.project, models.AgentWorkingPayload{AgentID: agentID})
			}
		}
	}

	for {
		select {
		case <-la.stop:
			return
		case <-ticker.C:
			if !la.owned && !ProcessAlive(la.process.Pid) {
				close(la.stop)
				s.forget(agentID)
				s.publish(models.EventAgentExited, la.project, models.AgentExitedPayload{AgentID: agentID})
				return
			}
			checkGrowth()
			if !idle && time.Since(lastActivity) >= s.Config.IdleAfter {
				idle = true
				s.publish(models.EventAgentIdle, la.project, models.AgentIdlePayload{AgentID: agentID})
			}
		case ev, ok := <-notifyChan(watcher, usingNotify):
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				checkGrowth()
			}
		}
	}
}

// notifyChan returns watcher.Events when fsnotify is in use, or a nil
// channel (which blocks forever in a select) when it isn't — letting the
// poll ticker alone drive detection.
func notifyChan(watcher *fsnotify.Watcher, usingNotify bool) chan fsnotify.Event {
	if !usingNotify {
		return nil
	}
	return watcher.Events
}

func envPairs(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
