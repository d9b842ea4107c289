package models

import (
	"encoding/json"
	"time"
)

// ID Strategy:
// - Event sequence numbers are int64, assigned monotonically at log append
//   (append-only logs benefit from sequential ids — efficient replay and
//   indexing).
// - Jobs, steps, agents, workspaces, decisions, and queue items use
//   prefixed string ids generated by NewID (distributed generation, safe
//   to mint concurrently without coordinating through the bus).
//
// Sequential ints keep the append-only log cheap to index and replay;
// collision-free strings let everything else mint ids out-of-band
// without coordinating through the bus.

// Event is a tagged record in the write-ahead log. Payload's shape is
// determined by Type; Type classifies the event as signal, mutation, or
// action (see event_kinds.go).
type Event struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Project   string          `json:"project,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// StepStatus is one of a closed set of step lifecycle states.
type StepStatus string

const (
	StepPending   StepStatus = "Pending"
	StepRunning   StepStatus = "Running"
	StepWaiting   StepStatus = "Waiting"
	StepCompleted StepStatus = "Completed"
	StepFailed    StepStatus = "Failed"
	StepCancelled StepStatus = "Cancelled"
)

// IsTerminal reports whether the status never transitions again.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepCancelled
}

// IsActive reports whether the status counts as the job's single
// non-terminal, non-pending step.
func (s StepStatus) IsActive() bool {
	return s == StepRunning || s == StepWaiting
}

// StepKind distinguishes the two step bodies the runtime understands.
type StepKind string

const (
	StepKindShell StepKind = "shell"
	StepKindAgent StepKind = "agent"
)

// RetryPolicy is a step's on_fail retry branch: retry the same step up to
// Attempts times before surfacing Failed.
type RetryPolicy struct {
	Attempts int `json:"attempts,omitempty"`
}

// StepDef is a step definition inherited by value from the runbook at job
// creation time, so later edits to the runbook never affect a job already
// in flight. Produced by the runbook parser; see internal/runbook.
type StepDef struct {
	Name      string            `json:"name"`
	Kind      StepKind          `json:"kind"`
	Command   string            `json:"command,omitempty"`    // shell body
	Agent     AgentDef          `json:"agent,omitempty"`       // agent body
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	OnDoneGo  string            `json:"on_done_goto,omitempty"` // step name, empty = next
	OnFailGo  string            `json:"on_fail_goto,omitempty"` // step name, empty = Failed
	Retry     RetryPolicy       `json:"retry,omitempty"`
	NeedsWork bool              `json:"needs_workspace,omitempty"`
}

// AgentDef is the agent-body portion of a StepDef.
type AgentDef struct {
	Definition string            `json:"definition"` // "claude"/"claude:<prompt>", "opencode"/"opencode:<prompt>", or a literal shell command
	Env        map[string]string `json:"env,omitempty"`
	OnIdle     EscalationPolicy  `json:"on_idle,omitempty"`
	OnDead     EscalationPolicy  `json:"on_dead,omitempty"`
	OnError    EscalationPolicy  `json:"on_error,omitempty"`
	IdleGrace  time.Duration     `json:"idle_grace,omitempty"`
}

// EscalationAction is the closed set of escalation responses. The
// runtime's handler is a total function over this enum.
type EscalationAction string

const (
	ActionNudge    EscalationAction = "nudge"
	ActionDone     EscalationAction = "done"
	ActionFail     EscalationAction = "fail"
	ActionRecover  EscalationAction = "recover"
	ActionGate     EscalationAction = "gate"
	ActionEscalate EscalationAction = "escalate"
)

// EscalationPolicy configures one on_idle/on_dead/on_error branch.
type EscalationPolicy struct {
	Action   EscalationAction `json:"action"`
	Message  string           `json:"message,omitempty"`  // for nudge / recover prime message
	Run      string           `json:"run,omitempty"`       // for gate
	Attempts int              `json:"attempts,omitempty"`  // for gate
}

// Job is a pipeline instance.
type Job struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Project     string            `json:"project"`
	Variables   map[string]string `json:"variables,omitempty"`
	Steps       []StepDef         `json:"steps"`
	StepIndex   int               `json:"step_index"`
	StepStatus  []StepStatus      `json:"step_status"`
	WaitingOn   string            `json:"waiting_on,omitempty"` // decision id, when current step is Waiting
	WorkspaceID string            `json:"workspace_id,omitempty"`
	RetryCounts []int             `json:"retry_counts"`
	CrewMode    bool              `json:"crew_mode,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Suspended   bool              `json:"suspended,omitempty"`
	// EscalationAttempts counts gate-action retries per owning step name;
	// separate from RetryCounts, which counts on_fail step retries.
	EscalationAttempts map[string]int `json:"escalation_attempts,omitempty"`
	Terminal           bool           `json:"terminal"`
	TermReason  string            `json:"term_reason,omitempty"` // "completed","failed","cancelled"
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// CurrentStatus returns the status of the active step, or StepCompleted
// if the job has no steps left.
func (j *Job) CurrentStatus() StepStatus {
	if j.StepIndex >= len(j.StepStatus) {
		return StepCompleted
	}
	return j.StepStatus[j.StepIndex]
}

// IsTerminal reports whether the job has reached Completed, Failed, or
// Cancelled as a whole.
func (j *Job) IsTerminal() bool { return j.Terminal }

// AgentOwnerKind distinguishes the two things an agent can be bound to.
type AgentOwnerKind string

const (
	AgentOwnerStep AgentOwnerKind = "step"
	AgentOwnerCrew AgentOwnerKind = "crew"
)

// AgentPhase is the supervisor's per-agent state machine.
type AgentPhase string

const (
	AgentSpawning AgentPhase = "Spawning"
	AgentWorking  AgentPhase = "Working"
	AgentIdle     AgentPhase = "Idle"
	AgentPrompt   AgentPhase = "Prompt"
	AgentExited   AgentPhase = "Exited"
	AgentGone     AgentPhase = "Gone"
)

// IsTerminal reports whether the phase never transitions again.
func (p AgentPhase) IsTerminal() bool { return p == AgentExited || p == AgentGone }

// PromptKind classifies an agent's *→Prompt transition.
type PromptKind string

const (
	PromptApproval PromptKind = "approval"
	PromptQuestion PromptKind = "question"
	PromptPlan     PromptKind = "plan"
)

// Agent is a supervised external session bound to a job-step or a
// standalone crew.
type Agent struct {
	ID             string         `json:"id"`
	OwnerKind      AgentOwnerKind `json:"owner_kind"`
	JobID          string         `json:"job_id,omitempty"`
	StepName       string         `json:"step_name,omitempty"`
	Definition     string         `json:"definition"`
	Phase          AgentPhase     `json:"phase"`
	PromptKind     PromptKind     `json:"prompt_kind,omitempty"`
	SocketPath     string         `json:"socket_path,omitempty"`
	SessionLogPath string         `json:"session_log_path,omitempty"`
	PID            int            `json:"pid,omitempty"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	IdleSince      *time.Time     `json:"idle_since,omitempty"`
	DecisionID     string         `json:"decision_id,omitempty"` // in-flight escalation, if any
	RestartCount   int            `json:"restart_count,omitempty"`
	PrimeMessage   string         `json:"prime_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// HasInFlightDecision reports whether the agent has an unresolved
// escalation decision open — at most one at a time.
func (a *Agent) HasInFlightDecision() bool { return a.DecisionID != "" }

// WorkspaceStatus is the closed set of workspace lifecycle states.
type WorkspaceStatus string

const (
	WorkspaceCreating WorkspaceStatus = "Creating"
	WorkspaceReady    WorkspaceStatus = "Ready"
	WorkspaceFailed   WorkspaceStatus = "Failed"
	WorkspaceDropped  WorkspaceStatus = "Dropped"
)

// Workspace is an isolated working directory owned by a job.
type Workspace struct {
	ID        string          `json:"id"`
	Path      string          `json:"path"`
	JobID     string          `json:"job_id"`
	Status    WorkspaceStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// QueueItemStatus is the closed set of queue item lifecycle states.
type QueueItemStatus string

const (
	QueueItemPending   QueueItemStatus = "Pending"
	QueueItemTaken     QueueItemStatus = "Taken"
	QueueItemCompleted QueueItemStatus = "Completed"
	QueueItemFailed    QueueItemStatus = "Failed"
	QueueItemDead      QueueItemStatus = "Dead"
)

// QueueItem is one entry in a persisted queue.
type QueueItem struct {
	ID          string                 `json:"id"`
	Queue       string                 `json:"queue"`
	Payload     map[string]interface{} `json:"payload"`
	Status      QueueItemStatus        `json:"status"`
	Attempts    int                    `json:"attempts"`
	NextRetryAt time.Time              `json:"next_retry_at"`
	LastError   string                 `json:"last_error,omitempty"`
	// JobID is the job currently (or, once settled, most recently)
	// running this item's work, set at queue:taken time.
	JobID     string    `json:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VisibleForTake reports whether the item is eligible for a worker to
// take: Pending and due, or Failed with a scheduled retry that has come
// due — a retryable failure never needs an explicit queue:retry to be
// picked up again, only an exhausted one (Dead) or an operator-forced
// immediate retry does.
func (q *QueueItem) VisibleForTake(now time.Time) bool {
	switch q.Status {
	case QueueItemPending:
		return !now.Before(q.NextRetryAt)
	case QueueItemFailed:
		return !q.NextRetryAt.IsZero() && !now.Before(q.NextRetryAt)
	default:
		return false
	}
}

// QueueDef declares a persisted queue's variables/defaults, and (for
// external queues) the list/take shell commands the runbook supplied.
type QueueDef struct {
	Name         string            `json:"name"`
	External     bool              `json:"external,omitempty"`
	ListCmd      string            `json:"list_cmd,omitempty"`
	TakeCmd      string            `json:"take_cmd,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
	Defaults     map[string]string `json:"defaults,omitempty"`
	MaxAttempts  int               `json:"max_attempts"`
	BackoffBase  time.Duration     `json:"backoff_base"`
	BackoffCap   time.Duration     `json:"backoff_cap"`
}

// WorkerStatus is the closed set of worker lifecycle states.
type WorkerStatus string

const (
	WorkerRunning WorkerStatus = "Running"
	WorkerStopped WorkerStatus = "Stopped"
)

// Worker is a long-lived poller bound to a source queue and a handler job
// template.
type Worker struct {
	Name         string       `json:"name"`
	Queue        string       `json:"queue"`
	Handler      string       `json:"handler"`       // job/command name
	HandlerSteps []StepDef    `json:"handler_steps,omitempty"` // resolved at worker-start time
	Concurrency  int          `json:"concurrency"`
	InFlight     []string     `json:"in_flight"` // job ids
	Status       WorkerStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
}

// CronStatus mirrors WorkerStatus for timers.
type CronStatus string

const (
	CronRunning CronStatus = "Running"
	CronStopped CronStatus = "Stopped"
)

// Cron is a timer that emits command:run on a fixed interval when Running.
type Cron struct {
	Name      string        `json:"name"`
	Command   string        `json:"command"`
	Steps     []StepDef     `json:"steps,omitempty"` // resolved at cron:create time
	Interval  time.Duration `json:"interval"`
	Status    CronStatus    `json:"status"`
	NextFire  time.Time     `json:"next_fire"`
	CreatedAt time.Time     `json:"created_at"`
}

// DecisionSource is the closed set of reasons a decision was raised.
type DecisionSource string

const (
	SourceIdle     DecisionSource = "idle"
	SourceDead     DecisionSource = "dead"
	SourceError    DecisionSource = "error"
	SourceGate     DecisionSource = "gate"
	SourceApproval DecisionSource = "approval"
	SourceQuestion DecisionSource = "question"
	SourcePlan     DecisionSource = "plan"
)

// DecisionOption is one resolvable choice.
type DecisionOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Recommended bool   `json:"recommended,omitempty"`
}

// Decision is a human-in-the-loop pause record.
type Decision struct {
	ID         string            `json:"id"`
	JobID      string            `json:"job_id,omitempty"`
	StepName   string            `json:"step_name,omitempty"`
	AgentID    string            `json:"agent_id,omitempty"`
	Source     DecisionSource    `json:"source"`
	// GateSource is the idle/dead/error escalation a gate check was
	// armed from, set only when Source is SourceGate. A plain decision
	// has no gate to re-arm, so it stays empty.
	GateSource DecisionSource    `json:"gate_source,omitempty"`
	Context    string            `json:"context"`
	Options    []DecisionOption  `json:"options"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Resolution string            `json:"resolution,omitempty"` // chosen option id
	Message    string            `json:"message,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

// IsResolved reports whether the decision has been answered.
func (d *Decision) IsResolved() bool { return d.Resolution != "" }

// StepKey identifies an owning step for decision-uniqueness checks.
func StepKey(jobID, stepName string) string { return jobID + "#" + stepName }
