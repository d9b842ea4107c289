package models

// Event tags, in "project:action" form. Each tag has one class:
// "action" tags are external requests that the runtime translates into
// mutations and effects; "mutation" tags are applied directly to
// materialized state; "signal" tags are engine-internal and never mutate
// state. Classification is by tag via the tables below, not by storage —
// every tag here is persisted regardless of which bucket it falls into.

// Action tags.
const (
	EventCommandRun        = "command:run"
	EventJobCancel         = "job:cancel"
	EventJobSuspend        = "job:suspend"
	EventJobResume         = "job:resume"
	EventAgentInput        = "agent:input"
	EventAgentSpawnRequest = "agent:spawn_request"
	EventAgentKillRequest  = "agent:kill_request"
	EventDecisionResolved  = "decision:resolved"
	EventWorkspaceRequest  = "workspace:request"
	EventWorkspaceDropReq  = "workspace:drop_request"
	EventWorkerStart       = "worker:start"
	EventWorkerStop        = "worker:stop"
	EventQueueDefine       = "queue:define"
	EventQueuePush         = "queue:push"
	EventQueueDrop         = "queue:drop"
	EventQueueDrain        = "queue:drain"
	EventQueueRetry        = "queue:retry"
	EventCronCreate        = "cron:create"
	EventCronStart         = "cron:start"
	EventCronStop          = "cron:stop"
	EventCronOnce          = "cron:once"
)

// Mutation tags.
const (
	EventJobCreated       = "job:created"
	EventJobCompleted     = "job:completed"
	EventJobFailed        = "job:failed"
	EventJobCancelled     = "job:cancelled"
	EventJobSuspended     = "job:suspended"
	EventJobResumed       = "job:resumed"
	EventStepStarted      = "step:started"
	EventStepRetried      = "step:retried"
	EventGateAttempted    = "step:gate_attempted"
	EventStepCompleted    = "step:completed"
	EventStepFailed       = "step:failed"
	EventStepWaiting      = "step:waiting"
	EventStepCancelled    = "step:cancelled"
	EventShellExited      = "shell:exited"
	EventAgentSpawned     = "agent:spawned"
	EventAgentSpawnFailed = "agent:spawn:failed"
	EventAgentWorking     = "agent:working"
	EventAgentIdle        = "agent:idle"
	EventAgentPrompt      = "agent:prompt"
	EventAgentExited      = "agent:exited"
	EventAgentGone        = "agent:gone"
	EventDecisionCreated   = "decision:created"
	EventDecisionAnswered  = "decision:answered"
	EventWorkspaceRequested = "workspace:requested"
	EventWorkspaceCreated = "workspace:created"
	EventWorkspaceReady   = "workspace:ready"
	EventWorkspaceFailed  = "workspace:failed"
	EventWorkspaceDropped = "workspace:dropped"
	EventWorkerStarted    = "worker:started"
	EventWorkerStopped    = "worker:stopped"
	EventWorkerWake       = "worker:wake"
	EventQueueDefined     = "queue:defined"
	EventQueuePushed      = "queue:pushed"
	EventQueueTaken       = "queue:taken"
	EventQueueCompleted   = "queue:completed"
	EventQueueFailed      = "queue:failed"
	EventQueueDead        = "queue:dead"
	EventQueueDropped     = "queue:dropped"
	EventQueueRetried     = "queue:retried"
	EventCronCreated      = "cron:created"
	EventCronStarted      = "cron:started"
	EventCronStopped      = "cron:stopped"
	EventCronFired        = "cron:fired"
)

// Signal tags: engine-internal, never applied to state. Two classes of
// signal exist: pure timer/effect bookkeeping, and effect-completion
// events (shell:exited, worker:wake) that the runtime reacts to but that
// touch no field of any entity — the runtime's reaction always emits a
// further mutation event that carries the actual state change (e.g.
// shell:exited is translated into step:completed/step:failed, never
// applied itself).
const (
	SignalTimerArmed  = "signal:timer_armed"
	SignalTimerFired  = "signal:timer_fired"
	SignalEffectStart = "signal:effect_started"
)

// mutationTags and actionTags give an exhaustive dispatch: every tag the
// system emits belongs to exactly one, or is a signal. Unknown tags are a
// silent no-op in both state.Apply and runtime.Engine.React.
var mutationTags = map[string]bool{
	EventJobCreated: true, EventJobCompleted: true, EventJobFailed: true,
	EventJobCancelled: true, EventJobSuspended: true, EventJobResumed: true,
	EventStepStarted: true, EventStepRetried: true, EventGateAttempted: true, EventStepCompleted: true, EventStepFailed: true,
	EventStepWaiting: true, EventStepCancelled: true,
	EventAgentSpawned: true, EventAgentSpawnFailed: true, EventAgentWorking: true,
	EventAgentIdle: true, EventAgentPrompt: true, EventAgentExited: true, EventAgentGone: true,
	EventDecisionCreated: true, EventDecisionAnswered: true,
	EventWorkspaceRequested: true,
	EventWorkspaceCreated: true, EventWorkspaceReady: true, EventWorkspaceFailed: true, EventWorkspaceDropped: true,
	EventWorkerStarted: true, EventWorkerStopped: true,
	EventQueueDefined: true,
	EventQueuePushed: true, EventQueueTaken: true, EventQueueCompleted: true,
	EventQueueFailed: true, EventQueueDead: true, EventQueueDropped: true, EventQueueRetried: true,
	EventCronCreated: true, EventCronStarted: true, EventCronStopped: true, EventCronFired: true,
}

var actionTags = map[string]bool{
	EventCommandRun: true, EventJobCancel: true, EventJobSuspend: true, EventJobResume: true,
	EventAgentInput: true, EventAgentSpawnRequest: true, EventAgentKillRequest: true,
	EventDecisionResolved: true,
	EventWorkspaceRequest: true, EventWorkspaceDropReq: true,
	EventWorkerStart: true, EventWorkerStop: true,
	EventQueueDefine: true,
	EventQueuePush: true, EventQueueDrop: true, EventQueueDrain: true, EventQueueRetry: true,
	EventCronCreate: true, EventCronStart: true, EventCronStop: true, EventCronOnce: true,
}

var extraSignalTags = map[string]bool{
	EventShellExited: true,
	EventWorkerWake:  true,
}

// IsMutation reports whether tag is a mutation event, a valid input to
// state.Apply.
func IsMutation(tag string) bool { return mutationTags[tag] }

// IsAction reports whether tag is an action event, a valid input to the
// runtime's action translation step.
func IsAction(tag string) bool { return actionTags[tag] }

// IsSignal reports whether tag is an engine-internal signal.
func IsSignal(tag string) bool {
	return tag == SignalTimerArmed || tag == SignalTimerFired || tag == SignalEffectStart || extraSignalTags[tag]
}
