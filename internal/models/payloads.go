package models

import "time"

// Payload types for every event tag. Producers (internal/runtime,
// internal/effects) and the consumer (internal/state) share these so the
// wire shape is defined exactly once, per tag.

// --- actions -----------------------------------------------------------

type CommandRunPayload struct {
	// JobID pins the id of the job this command materializes into. Left
	// empty by external callers and cron fires (the engine mints one); set
	// by the queue worker path, which must correlate the new job with an
	// event emitted in the same reaction (queue:taken).
	JobID     string            `json:"job_id,omitempty"`
	Command   string            `json:"command"`
	Variables map[string]string `json:"variables,omitempty"`
	Steps     []StepDef         `json:"steps"`
	CrewMode  bool              `json:"crew_mode,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

type JobCancelPayload struct{ JobID string `json:"job_id"` }
type JobSuspendPayload struct{ JobID string `json:"job_id"` }
type JobResumePayload struct {
	JobID   string `json:"job_id"`
	Restart bool   `json:"restart,omitempty"`
}

type AgentInputPayload struct {
	AgentID string `json:"agent_id"`
	Text    string `json:"text"`
}

type AgentSpawnRequestPayload struct {
	OwnerKind AgentOwnerKind `json:"owner_kind"`
	JobID     string         `json:"job_id,omitempty"`
	StepName  string         `json:"step_name,omitempty"`
	Agent     AgentDef       `json:"agent"`
	Prime     string         `json:"prime,omitempty"` // carried through on a recover respawn
}

type AgentKillRequestPayload struct{ AgentID string `json:"agent_id"` }

type DecisionResolvedPayload struct {
	DecisionID string `json:"decision_id"`
	OptionID   string `json:"option_id"`
	Message    string `json:"message,omitempty"`
}

type WorkspaceRequestPayload struct {
	JobID string `json:"job_id"`
}
type WorkspaceDropRequestPayload struct {
	WorkspaceID string `json:"workspace_id"`
}

// WorkerStartPayload carries the worker's definition on first start;
// Queue/Handler/HandlerSteps/Concurrency are ignored when restarting a
// worker that already exists in the projection.
type WorkerStartPayload struct {
	Name        string    `json:"name"`
	Queue       string    `json:"queue,omitempty"`
	Handler     string    `json:"handler,omitempty"`
	HandlerSteps []StepDef `json:"handler_steps,omitempty"`
	Concurrency int       `json:"concurrency,omitempty"`
}
type WorkerStopPayload struct{ Name string `json:"name"` }

// QueueDefinePayload registers a queue's retry/backoff settings and, for
// external queues, the list/take shell commands a runbook supplied.
// Re-defining an existing queue replaces its settings in place.
type QueueDefinePayload struct {
	Name        string            `json:"name"`
	External    bool              `json:"external,omitempty"`
	ListCmd     string            `json:"list_cmd,omitempty"`
	TakeCmd     string            `json:"take_cmd,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
	Defaults    map[string]string `json:"defaults,omitempty"`
	MaxAttempts int               `json:"max_attempts,omitempty"`
	BackoffBase time.Duration     `json:"backoff_base,omitempty"`
	BackoffCap  time.Duration     `json:"backoff_cap,omitempty"`
}

type QueuePushPayload struct {
	Queue   string                 `json:"queue"`
	Payload map[string]interface{} `json:"payload"`
}
type QueueDropPayload struct {
	Queue string `json:"queue"`
	ItemID string `json:"item_id"`
}
type QueueDrainPayload struct{ Queue string `json:"queue"` }
type QueueRetryPayload struct {
	Queue  string `json:"queue"`
	ItemID string `json:"item_id"`
}

type CronCreatePayload struct {
	Name     string        `json:"name"`
	Command  string        `json:"command"`
	Steps    []StepDef     `json:"steps,omitempty"`
	Interval time.Duration `json:"interval"`
}
type CronStartPayload struct{ Name string `json:"name"` }
type CronStopPayload struct{ Name string `json:"name"` }
type CronOncePayload struct{ Name string `json:"name"` }

// --- mutations -----------------------------------------------------------

type JobCreatedPayload struct {
	JobID       string            `json:"job_id"`
	Name        string            `json:"name"`
	Project     string            `json:"project"`
	Variables   map[string]string `json:"variables,omitempty"`
	Steps       []StepDef         `json:"steps"`
	CrewMode    bool              `json:"crew_mode,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

type StepStartedPayload struct {
	JobID     string `json:"job_id"`
	StepIndex int    `json:"step_index"`
}

// StepRetriedPayload bumps a step's retry counter without changing its
// status; it precedes a step:started re-run of the same index.
type StepRetriedPayload struct {
	JobID     string `json:"job_id"`
	StepIndex int    `json:"step_index"`
}

// GateAttemptedPayload bumps a gate escalation's attempt counter, keyed
// by the owning step name rather than index since a gate check's result
// doesn't change step status until attempts are exhausted.
type GateAttemptedPayload struct {
	JobID        string `json:"job_id"`
	StepName     string `json:"step_name"`
	EscalationID string `json:"escalation_id,omitempty"`
}
type StepCompletedPayload struct {
	JobID     string `json:"job_id"`
	StepIndex int    `json:"step_index"`
}
type StepFailedPayload struct {
	JobID     string `json:"job_id"`
	StepIndex int    `json:"step_index"`
	Reason    string `json:"reason"`
}
type StepWaitingPayload struct {
	JobID      string `json:"job_id"`
	StepIndex  int    `json:"step_index"`
	DecisionID string `json:"decision_id"`
}
type StepCancelledPayload struct {
	JobID     string `json:"job_id"`
	StepIndex int    `json:"step_index"`
}

type JobCompletedPayload struct{ JobID string `json:"job_id"` }
type JobFailedPayload struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}
type JobCancelledPayload struct{ JobID string `json:"job_id"` }
type JobSuspendedPayload struct{ JobID string `json:"job_id"` }
type JobResumedPayload struct {
	JobID   string `json:"job_id"`
	Restart bool   `json:"restart,omitempty"`
}

// ShellExitedPayload is a signal: state.Apply is a no-op for it. The
// runtime reads Code to decide step:completed vs step:failed.
type ShellExitedPayload struct {
	JobID     string `json:"job_id"`
	StepIndex int    `json:"step_index"`
	Code      int    `json:"code"`
	Output    string `json:"output,omitempty"`

	Gate         bool           `json:"gate,omitempty"`
	StepName     string         `json:"step_name,omitempty"`
	Source       DecisionSource `json:"source,omitempty"`
	AgentID      string         `json:"agent_id,omitempty"`
	EscalationID string         `json:"escalation_id,omitempty"`
}

type AgentSpawnedPayload struct {
	AgentID        string `json:"agent_id"`
	JobID          string `json:"job_id,omitempty"`
	StepName       string `json:"step_name,omitempty"`
	Definition     string `json:"definition"`
	OwnerKind      AgentOwnerKind `json:"owner_kind"`
	SocketPath     string `json:"socket_path,omitempty"`
	SessionLogPath string `json:"session_log_path,omitempty"`
	PID            int    `json:"pid,omitempty"`
}
type AgentSpawnFailedPayload struct {
	JobID    string `json:"job_id,omitempty"`
	StepName string `json:"step_name,omitempty"`
	Reason   string `json:"reason"`
}
type AgentWorkingPayload struct{ AgentID string `json:"agent_id"` }
type AgentIdlePayload struct{ AgentID string `json:"agent_id"` }
type AgentPromptPayload struct {
	AgentID string     `json:"agent_id"`
	Kind    PromptKind `json:"kind"`
	Context string     `json:"context"`
}
type AgentExitedPayload struct{ AgentID string `json:"agent_id"` }
type AgentGonePayload struct{ AgentID string `json:"agent_id"` }

type DecisionCreatedPayload struct {
	DecisionID   string           `json:"decision_id"`
	JobID        string           `json:"job_id,omitempty"`
	StepName     string           `json:"step_name,omitempty"`
	AgentID      string           `json:"agent_id,omitempty"`
	Source       DecisionSource   `json:"source"`
	GateSource   DecisionSource   `json:"gate_source,omitempty"`
	Context      string           `json:"context"`
	Options      []DecisionOption `json:"options"`
	EscalationID string           `json:"escalation_id,omitempty"`
}

// WorkspaceRequestedPayload creates the workspace row up front, in
// Creating status, so a later workspace:failed has something to key off
// of even though provisioning hasn't produced a path yet.
type WorkspaceRequestedPayload struct {
	WorkspaceID string `json:"workspace_id"`
	JobID       string `json:"job_id"`
}

type WorkspaceCreatedPayload struct {
	WorkspaceID string `json:"workspace_id"`
	JobID       string `json:"job_id"`
	Path        string `json:"path"`
}
type WorkspaceReadyPayload struct{ WorkspaceID string `json:"workspace_id"` }
type WorkspaceFailedPayload struct {
	WorkspaceID string `json:"workspace_id"`
	Reason      string `json:"reason"`
}
type WorkspaceDroppedPayload struct{ WorkspaceID string `json:"workspace_id"` }

type WorkerStartedPayload struct {
	Name         string    `json:"name"`
	Queue        string    `json:"queue"`
	Handler      string    `json:"handler"`
	HandlerSteps []StepDef `json:"handler_steps,omitempty"`
	Concurrency  int       `json:"concurrency"`
}
type WorkerStoppedPayload struct{ Name string `json:"name"` }

type QueueDefinedPayload struct {
	Name        string            `json:"name"`
	External    bool              `json:"external,omitempty"`
	ListCmd     string            `json:"list_cmd,omitempty"`
	TakeCmd     string            `json:"take_cmd,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
	Defaults    map[string]string `json:"defaults,omitempty"`
	MaxAttempts int               `json:"max_attempts,omitempty"`
	BackoffBase time.Duration     `json:"backoff_base,omitempty"`
	BackoffCap  time.Duration     `json:"backoff_cap,omitempty"`
}

// WorkerWakePayload is a signal: carries which worker to reconsider.
type WorkerWakePayload struct{ Name string `json:"name"` }

type QueuePushedPayload struct {
	ItemID  string                 `json:"item_id"`
	Queue   string                 `json:"queue"`
	Payload map[string]interface{} `json:"payload"`
}
type QueueTakenPayload struct {
	ItemID string `json:"item_id"`
	Queue  string `json:"queue"`
	Worker string `json:"worker"`
	JobID  string `json:"job_id"`
}
type QueueCompletedPayload struct {
	ItemID string `json:"item_id"`
	Queue  string `json:"queue"`
}
type QueueFailedPayload struct {
	ItemID      string    `json:"item_id"`
	Queue       string    `json:"queue"`
	Reason      string    `json:"reason"`
	NextRetryAt time.Time `json:"next_retry_at"`
}
type QueueDeadPayload struct {
	ItemID string `json:"item_id"`
	Queue  string `json:"queue"`
	Reason string `json:"reason"`
}
type QueueDroppedPayload struct {
	ItemID string `json:"item_id"`
	Queue  string `json:"queue"`
}
type QueueRetriedPayload struct {
	ItemID string `json:"item_id"`
	Queue  string `json:"queue"`
}

type CronCreatedPayload struct {
	Name     string        `json:"name"`
	Command  string        `json:"command"`
	Steps    []StepDef     `json:"steps,omitempty"`
	Interval time.Duration `json:"interval"`
}
type CronStartedPayload struct {
	Name     string    `json:"name"`
	NextFire time.Time `json:"next_fire"`
}
type CronStoppedPayload struct{ Name string `json:"name"` }
type CronFiredPayload struct {
	Name     string    `json:"name"`
	NextFire time.Time `json:"next_fire"`
}

// --- signals -------------------------------------------------------------

// TimerFiredPayload carries which named timer fired; Kind distinguishes
// an agent idle-grace timer from a cron's interval timer so the runtime's
// signal:timer_fired handler can dispatch to the right follow-up.
type TimerFiredPayload struct {
	Kind string `json:"kind"` // "idle_grace" or "cron"
	Name string `json:"name"` // agent id or cron name
}
