// Package runtime implements the orchestration engine's scheduling rules
// as a single pure function: given an applied event and the projection it
// just produced, decide what happens next. Engine.React never mutates
// state directly — it returns follow-on events for the bus to append and
// apply, and effects for the dispatcher to run. All I/O (shell, agent
// processes, timers) lives in internal/effects; all persistence lives in
// internal/eventlog and internal/state. This split keeps the scheduling
// rules themselves deterministic and unit-testable without touching a
// filesystem or process table.
package runtime

import (
	"time"

	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/state"
)

// Engine implements bus.Reactor.
type Engine struct {
	// Now is the engine's clock, overridable in tests. Defaults to
	// time.Now; only used for times the engine computes itself (cron's
	// NextFire preview, a queue item's NextRetryAt, and the due check when
	// a worker picks its next item), never for event timestamps — those
	// are stamped by the log on append.
	Now func() time.Time
}

// New returns an Engine ready to react against a live bus.
func New() *Engine {
	return &Engine{Now: time.Now}
}

// React is the engine's total entry point: every event type the system
// emits is handled here, even if the handling is a no-op. Unrecognized
// types are a no-op rather than a panic, so a future event tag added to
// one package doesn't break another's build order.
func (e *Engine) React(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	switch ev.Type {
	case models.EventCommandRun:
		return e.onCommandRun(ev, proj)
	case models.EventJobCreated:
		return e.onJobCreated(ev, proj)
	case models.EventJobCancel:
		return e.onJobCancel(ev, proj)
	case models.EventJobSuspend:
		return e.onJobSuspend(ev, proj)
	case models.EventJobResume:
		return e.onJobResume(ev, proj)
	case models.EventJobResumed:
		return e.onJobResumed(ev, proj)
	case models.EventJobCompleted:
		return e.onJobTerminalQueueSettle(ev, proj, true, "")
	case models.EventJobFailed:
		return e.onJobFailedQueueSettle(ev, proj)
	case models.EventJobCancelled:
		return e.onJobTerminalQueueSettle(ev, proj, false, "cancelled")

	case models.EventStepStarted:
		return e.onStepStarted(ev, proj)
	case models.EventShellExited:
		return e.onShellExited(ev, proj)
	case models.EventStepCompleted:
		return e.onStepSettled(ev, proj, true)
	case models.EventStepFailed:
		return e.onStepSettled(ev, proj, false)

	case models.EventWorkspaceRequest:
		return e.onWorkspaceRequest(ev, proj)
	case models.EventWorkspaceCreated:
		return e.onWorkspaceCreated(ev, proj)
	case models.EventWorkspaceFailed:
		return e.onWorkspaceFailed(ev, proj)
	case models.EventWorkspaceDropReq:
		return e.onWorkspaceDropRequest(ev, proj)

	case models.EventAgentSpawnRequest:
		return e.onAgentSpawnRequest(ev, proj)
	case models.EventAgentInput:
		return e.onAgentInput(ev, proj)
	case models.EventAgentKillRequest:
		return e.onAgentKillRequest(ev, proj)
	case models.EventAgentWorking:
		return e.onAgentWorking(ev, proj)
	case models.EventAgentIdle:
		return e.onAgentIdle(ev, proj)
	case models.EventAgentPrompt:
		return e.onAgentPrompt(ev, proj)
	case models.EventAgentExited, models.EventAgentGone:
		return e.onAgentTerminal(ev, proj)

	case models.EventDecisionResolved:
		return e.onDecisionResolved(ev, proj)

	case models.EventQueueDefine:
		return e.onQueueDefine(ev, proj)
	case models.EventWorkerStart:
		return e.onWorkerStart(ev, proj)
	case models.EventWorkerStop:
		return e.onWorkerStop(ev, proj)
	case models.EventQueuePush:
		return e.onQueuePush(ev, proj)
	case models.EventQueuePushed:
		return e.onQueuePushed(ev, proj)
	case models.EventWorkerWake:
		return e.onWorkerWake(ev, proj)
	case models.EventQueueCompleted, models.EventQueueFailed, models.EventQueueDead:
		return e.onQueueSettled(ev, proj)
	case models.EventQueueDrop:
		return e.onQueueDrop(ev, proj)
	case models.EventQueueDrain:
		return e.onQueueDrain(ev, proj)
	case models.EventQueueRetry:
		return e.onQueueRetry(ev, proj)

	case models.EventCronCreate:
		return e.onCronCreate(ev, proj)
	case models.EventCronStart:
		return e.onCronStart(ev, proj)
	case models.EventCronStop:
		return e.onCronStop(ev, proj)
	case models.EventCronOnce:
		return e.onCronOnce(ev, proj)
	case models.EventCronFired:
		return e.onCronFired(ev, proj)

	case models.SignalTimerFired:
		return e.onTimerFired(ev, proj)
	}
	return nil, nil
}
