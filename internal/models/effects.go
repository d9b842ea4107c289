package models

import "time"

// EffectKind is the closed set of side effects the runtime can request.
type EffectKind string

const (
	EffectShell           EffectKind = "shell"
	EffectAgentSpawn      EffectKind = "agent_spawn"
	EffectAgentInput      EffectKind = "agent_input"
	EffectAgentKill       EffectKind = "agent_kill"
	EffectWorkspaceCreate EffectKind = "workspace_create"
	EffectWorkspaceDrop   EffectKind = "workspace_drop"
	EffectNotify          EffectKind = "notify"
	EffectTimer           EffectKind = "timer"
	EffectTimerCancel     EffectKind = "timer_cancel"
)

// Effect is a side effect requested by the runtime. Only the field group
// matching Kind is populated; the dispatcher never mutates state itself,
// it only runs the effect and emits the matching completion event.
type Effect struct {
	Kind    EffectKind
	Project string

	Shell           *ShellEffect
	AgentSpawn      *AgentSpawnEffect
	AgentInput      *AgentInputEffect
	AgentKill       *AgentKillEffect
	WorkspaceCreate *WorkspaceCreateEffect
	WorkspaceDrop   *WorkspaceDropEffect
	Notify          *NotifyEffect
	Timer           *TimerEffect
	TimerCancel     *TimerCancelEffect
}

type ShellEffect struct {
	JobID     string
	StepIndex int // -1 for a gate escalation check, which isn't a step body
	Command   string
	Cwd       string
	Env       map[string]string
	Timeout   time.Duration

	// Gate marks this as an on_idle/on_dead/on_error gate check rather
	// than a step's own shell body; StepName/Source/AgentID identify the
	// owning escalation so the completion handler can route back to it.
	Gate     bool
	StepName string
	Source   DecisionSource
	AgentID  string

	// EscalationID ties every retry of the same gate check, and the
	// decision it eventually raises if attempts run out, back to the
	// triggering idle/dead/error transition — for log correlation only,
	// never used as a lookup key.
	EscalationID string
}

type AgentSpawnEffect struct {
	JobID      string
	StepName   string
	OwnerKind  AgentOwnerKind
	Definition string
	Env        map[string]string
	Prime      string
}

type AgentInputEffect struct {
	AgentID string
	Text    string
}

type AgentKillEffect struct {
	AgentID string
}

type WorkspaceCreateEffect struct {
	JobID       string
	WorkspaceID string // minted by the runtime so workspace:failed can key off it even if provisioning never returns a path
}

type WorkspaceDropEffect struct {
	WorkspaceID string
}

type NotifyEffect struct {
	Subject string
	Body    string
}

type TimerEffect struct {
	Name     string
	Interval time.Duration
	Once     bool
}

// TimerCancelEffect stops a previously armed timer by name; a no-op if
// the timer already fired or was never armed.
type TimerCancelEffect struct {
	Name string
}

// PendingEvent is an event the runtime wants appended and applied next,
// before the bus resumes draining its queue.
type PendingEvent struct {
	Type    string
	Project string
	Payload interface{}
}
