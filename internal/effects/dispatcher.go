// Package effects runs the side effects the runtime requests and reports
// their outcome back onto the bus as new events. Each effect runs on its
// own goroutine so a slow shell command or a stuck agent spawn never
// blocks another job's progress; the dispatcher itself never touches
// state.Projection directly — it only calls Publisher.Publish, the same
// serialization point the IPC layer uses.
package effects

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sidelinehq/crewd/internal/models"
)

// maxShellCommandBytes bounds a step's shell command the same way the
// teacher bounds an LLM prompt: a command this long is almost always a
// runbook authoring mistake (an inlined file, a bad template
// expansion), not a legitimate command line.
const maxShellCommandBytes = 16000

// validateShellCommand checks for unsafe input before a command ever
// reaches sh -c. exec.Command never invokes a shell itself, but the
// command string is handed to sh -c here and to whatever script that
// runs in turn, so this is defense-in-depth rather than the only line
// of defense.
func validateShellCommand(s string) error {
	if len(s) == 0 {
		return errors.New("empty shell command")
	}
	if len(s) > maxShellCommandBytes {
		return fmt.Errorf("shell command exceeds %d byte limit (%d bytes)", maxShellCommandBytes, len(s))
	}
	if strings.ContainsRune(s, 0) {
		return errors.New("shell command contains null byte")
	}
	return nil
}

// Publisher is the one method of bus.Bus the dispatcher needs. Kept as a
// narrow interface here, satisfied structurally, so this package never
// imports internal/bus.
type Publisher interface {
	Publish(eventType, project string, payload interface{}) (models.Event, error)
}

// AgentSupervisor spawns and drives agent sidecar processes. Kept
// narrow and interface-only so this package doesn't import
// internal/supervisor; internal/daemon wires a concrete supervisor in at
// startup.
type AgentSupervisor interface {
	Spawn(ctx context.Context, project string, eff models.AgentSpawnEffect) (agentID, socketPath, sessionLogPath string, pid int, err error)
	Input(ctx context.Context, agentID, text string) error
	Kill(ctx context.Context, agentID string) error
}

// WorkspaceProvisioner materializes and tears down a job's workspace
// (worktree checkout, scratch directory, whatever internal/workspace
// decides a project needs).
type WorkspaceProvisioner interface {
	Create(ctx context.Context, jobID, workspaceID string) (path string, err error)
	Drop(ctx context.Context, workspaceID string) error
}

// Notifier delivers a notify effect's subject/body. The default Dispatcher
// just logs it; internal/daemon can wire a real channel (desktop
// notification, webhook) without this package needing to know about it.
type Notifier interface {
	Notify(subject, body string) error
}

type logNotifier struct{}

func (logNotifier) Notify(subject, body string) error {
	slog.Info("notify", "subject", subject, "body", body)
	return nil
}

// Dispatcher implements bus.Dispatcher.
type Dispatcher struct {
	Publisher  Publisher
	Supervisor AgentSupervisor
	Workspace  WorkspaceProvisioner
	Notifier   Notifier

	// ShellTimeout bounds a ShellEffect with no Timeout of its own.
	ShellTimeout time.Duration

	mu     sync.Mutex
	timers map[string]*timerHandle
}

type timerHandle struct {
	cancel func()
}

// New returns a Dispatcher with a logging Notifier; set Supervisor and
// Workspace before effects of those kinds are dispatched. Without them a
// spawn is reported as agent:spawn:failed and a workspace create as
// workspace:failed, while agent input, kill and workspace drop do nothing.
func New(pub Publisher) *Dispatcher {
	return &Dispatcher{
		Publisher:    pub,
		Notifier:     logNotifier{},
		ShellTimeout: 15 * time.Minute,
		timers:       make(map[string]*timerHandle),
	}
}

// Dispatch runs eff. Everything except timer bookkeeping happens on its
// own goroutine; Dispatch itself never blocks the caller (the bus's
// react loop).
func (d *Dispatcher) Dispatch(eff models.Effect) {
	switch eff.Kind {
	case models.EffectShell:
		go d.runShell(eff)
	case models.EffectAgentSpawn:
		go d.runAgentSpawn(eff)
	case models.EffectAgentInput:
		go d.runAgentInput(eff)
	case models.EffectAgentKill:
		go d.runAgentKill(eff)
	case models.EffectWorkspaceCreate:
		go d.runWorkspaceCreate(eff)
	case models.EffectWorkspaceDrop:
		go d.runWorkspaceDrop(eff)
	case models.EffectNotify:
		go d.runNotify(eff)
	case models.EffectTimer:
		d.armTimer(eff)
	case models.EffectTimerCancel:
		d.cancelTimer(eff.TimerCancel.Name)
	default:
		slog.Warn("effects: unhandled effect kind", "kind", eff.Kind)
	}
}

func (d *Dispatcher) publish(eventType, project string, payload interface{}) {
	if d.Publisher == nil {
		return
	}
	if _, err := d.Publisher.Publish(eventType, project, payload); err != nil {
		slog.Error("effects: publish failed", "type", eventType, "error", err.Error())
	}
}

func (d *Dispatcher) runShell(eff models.Effect) {
	s := eff.Shell
	if err := validateShellCommand(s.Command); err != nil {
		d.publish(models.EventShellExited, eff.Project, models.ShellExitedPayload{
			JobID: s.JobID, StepIndex: s.StepIndex, Code: -1, Output: err.Error(),
			Gate: s.Gate, StepName: s.StepName, Source: s.Source, AgentID: s.AgentID,
			EscalationID: s.EscalationID,
		})
		return
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = d.ShellTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", s.Command)
	cmd.Dir = s.Cwd
	cmd.Env = mergeEnv(s.Env)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	code := exitCode(err)

	d.publish(models.EventShellExited, eff.Project, models.ShellExitedPayload{
		JobID: s.JobID, StepIndex: s.StepIndex, Code: code, Output: out.String(),
		Gate: s.Gate, StepName: s.StepName, Source: s.Source, AgentID: s.AgentID,
		EscalationID: s.EscalationID,
	})
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1 // context deadline, start failure: not a real process exit code
}

func mergeEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	env := make([]string, 0, len(extra))
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func (d *Dispatcher) runAgentSpawn(eff models.Effect) {
	s := eff.AgentSpawn
	if d.Supervisor == nil {
		d.publish(models.EventAgentSpawnFailed, eff.Project, models.AgentSpawnFailedPayload{
			JobID: s.JobID, StepName: s.StepName, Reason: "no agent supervisor configured",
		})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	agentID, socketPath, logPath, pid, err := d.Supervisor.Spawn(ctx, eff.Project, *s)
	if err != nil {
		d.publish(models.EventAgentSpawnFailed, eff.Project, models.AgentSpawnFailedPayload{
			JobID: s.JobID, StepName: s.StepName, Reason: err.Error(),
		})
		return
	}
	d.publish(models.EventAgentSpawned, eff.Project, models.AgentSpawnedPayload{
		AgentID: agentID, JobID: s.JobID, StepName: s.StepName, Definition: s.Definition,
		OwnerKind: s.OwnerKind, SocketPath: socketPath, SessionLogPath: logPath, PID: pid,
	})
}

func (d *Dispatcher) runAgentInput(eff models.Effect) {
	if d.Supervisor == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Supervisor.Input(ctx, eff.AgentInput.AgentID, eff.AgentInput.Text); err != nil {
		slog.Error("effects: agent input failed", "agent_id", eff.AgentInput.AgentID, "error", err.Error())
	}
}

func (d *Dispatcher) runAgentKill(eff models.Effect) {
	if d.Supervisor == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Supervisor.Kill(ctx, eff.AgentKill.AgentID); err != nil {
		slog.Error("effects: agent kill failed", "agent_id", eff.AgentKill.AgentID, "error", err.Error())
	}
}

func (d *Dispatcher) runWorkspaceCreate(eff models.Effect) {
	jobID := eff.WorkspaceCreate.JobID
	workspaceID := eff.WorkspaceCreate.WorkspaceID
	if d.Workspace == nil {
		d.publish(models.EventWorkspaceFailed, eff.Project, models.WorkspaceFailedPayload{WorkspaceID: workspaceID, Reason: "no workspace provisioner configured"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	path, err := d.Workspace.Create(ctx, jobID, workspaceID)
	if err != nil {
		d.publish(models.EventWorkspaceFailed, eff.Project, models.WorkspaceFailedPayload{WorkspaceID: workspaceID, Reason: err.Error()})
		return
	}
	d.publish(models.EventWorkspaceCreated, eff.Project, models.WorkspaceCreatedPayload{JobID: jobID, WorkspaceID: workspaceID, Path: path})
}

func (d *Dispatcher) runWorkspaceDrop(eff models.Effect) {
	if d.Workspace == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := d.Workspace.Drop(ctx, eff.WorkspaceDrop.WorkspaceID); err != nil {
		slog.Error("effects: workspace drop failed", "workspace_id", eff.WorkspaceDrop.WorkspaceID, "error", err.Error())
	}
}

func (d *Dispatcher) runNotify(eff models.Effect) {
	if err := d.Notifier.Notify(eff.Notify.Subject, eff.Notify.Body); err != nil {
		slog.Error("effects: notify failed", "error", err.Error())
	}
}

// armTimer starts (or replaces) a named timer. Once fires a single
// signal:timer_fired and cleans itself up; a recurring timer keeps
// firing on Interval until cancelled.
func (d *Dispatcher) armTimer(eff models.Effect) {
	t := eff.Timer
	d.mu.Lock()
	if existing, ok := d.timers[t.Name]; ok {
		existing.cancel()
	}
	stop := make(chan struct{})
	d.timers[t.Name] = &timerHandle{cancel: func() { close(stop) }}
	d.mu.Unlock()

	go func() {
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.fireTimer(eff.Project, t)
				if t.Once {
					d.mu.Lock()
					delete(d.timers, t.Name)
					d.mu.Unlock()
					return
				}
			}
		}
	}()
}

func (d *Dispatcher) fireTimer(project string, t *models.TimerEffect) {
	kind := "cron"
	if t.Once {
		kind = "idle_grace"
	}
	d.publish(models.SignalTimerFired, project, models.TimerFiredPayload{Kind: kind, Name: t.Name})
}

// cancelTimer stops a previously armed timer; a no-op if it already
// fired (Once) or was never armed.
func (d *Dispatcher) cancelTimer(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.timers[name]; ok {
		h.cancel()
		delete(d.timers, name)
	}
}
