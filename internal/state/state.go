// Package state implements the materialized projection of the event log:
// jobs, steps, agents, workers, queues, crons, decisions, and workspaces,
// built by folding Apply over every mutation event.
package state

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/sidelinehq/crewd/internal/models"
)

// Projection is the single in-process projection of the log. apply is
// total, deterministic, and idempotent with respect to replay from the
// same prefix. It is mutated only by the bus's single consumer;
// concurrent readers are safe via the RWMutex.
type Projection struct {
	mu sync.RWMutex

	LastSeq int64

	Jobs       map[string]*models.Job
	Agents     map[string]*models.Agent
	Workspaces map[string]*models.Workspace
	QueueDefs  map[string]*models.QueueDef
	QueueItems map[string]*models.QueueItem
	Workers    map[string]*models.Worker
	Crons      map[string]*models.Cron
	Decisions  map[string]*models.Decision
}

// New returns an empty projection.
func New() *Projection {
	return &Projection{
		Jobs:       make(map[string]*models.Job),
		Agents:     make(map[string]*models.Agent),
		Workspaces: make(map[string]*models.Workspace),
		QueueDefs:  make(map[string]*models.QueueDef),
		QueueItems: make(map[string]*models.QueueItem),
		Workers:    make(map[string]*models.Worker),
		Crons:      make(map[string]*models.Cron),
		Decisions:  make(map[string]*models.Decision),
	}
}

// snapshotImage is the serialized form written by eventlog.WriteSnapshot
// and read back by LoadSnapshot.
type snapshotImage struct {
	Jobs       map[string]*models.Job       `json:"jobs"`
	Agents     map[string]*models.Agent     `json:"agents"`
	Workspaces map[string]*models.Workspace `json:"workspaces"`
	QueueDefs  map[string]*models.QueueDef  `json:"queue_defs"`
	QueueItems map[string]*models.QueueItem `json:"queue_items"`
	Workers    map[string]*models.Worker    `json:"workers"`
	Crons      map[string]*models.Cron      `json:"crons"`
	Decisions  map[string]*models.Decision  `json:"decisions"`
}

// MarshalSnapshot serializes the projection to JSON under a read lock
// (no separate clone is made) and returns it with the last applied
// sequence number; eventlog.WriteSnapshot then compresses and writes it
// on the caller's goroutine.
func (p *Projection) MarshalSnapshot() ([]byte, int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	img := snapshotImage{
		Jobs: p.Jobs, Agents: p.Agents, Workspaces: p.Workspaces,
		QueueDefs: p.QueueDefs, QueueItems: p.QueueItems,
		Workers: p.Workers, Crons: p.Crons, Decisions: p.Decisions,
	}
	b, err := json.Marshal(img)
	return b, p.LastSeq, err
}

// LoadSnapshot replaces the projection contents with a previously
// serialized image plus its watermark sequence number.
func (p *Projection) LoadSnapshot(body []byte, upToSeq int64) error {
	var img snapshotImage
	if err := json.Unmarshal(body, &img); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if img.Jobs != nil {
		p.Jobs = img.Jobs
	}
	if img.Agents != nil {
		p.Agents = img.Agents
	}
	if img.Workspaces != nil {
		p.Workspaces = img.Workspaces
	}
	if img.QueueDefs != nil {
		p.QueueDefs = img.QueueDefs
	}
	if img.QueueItems != nil {
		p.QueueItems = img.QueueItems
	}
	if img.Workers != nil {
		p.Workers = img.Workers
	}
	if img.Crons != nil {
		p.Crons = img.Crons
	}
	if img.Decisions != nil {
		p.Decisions = img.Decisions
	}
	p.LastSeq = upToSeq
	return nil
}

// Apply folds one event into the projection. Action and signal tags are
// no-ops — they never carry entity mutations; unknown tags are a no-op
// with a warning. Replaying a seq at or below LastSeq is also a no-op,
// making Apply idempotent across repeated replay of an overlapping
// prefix.
func (p *Projection) Apply(ev models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Seq <= p.LastSeq {
		return
	}

	if !models.IsMutation(ev.Type) {
		p.LastSeq = ev.Seq
		return
	}

	switch ev.Type {
	case models.EventJobCreated:
		p.applyJobCreated(ev)
	case models.EventStepStarted:
		p.applyStepStarted(ev)
	case models.EventStepCompleted:
		p.applyStepCompleted(ev)
	case models.EventStepFailed:
		p.applyStepFailed(ev)
	case models.EventStepWaiting:
		p.applyStepWaiting(ev)
	case models.EventStepCancelled:
		p.applyStepCancelled(ev)
	case models.EventJobCompleted:
		p.applyJobTerminal(ev, "completed")
	case models.EventJobFailed:
		p.applyJobTerminal(ev, "failed")
	case models.EventJobCancelled:
		p.applyJobTerminal(ev, "cancelled")
	case models.EventJobSuspended:
		p.applyJobSuspended(ev)
	case models.EventJobResumed:
		p.applyJobResumed(ev)
	case models.EventStepRetried:
		p.applyStepRetried(ev)
	case models.EventGateAttempted:
		p.applyGateAttempted(ev)
	case models.EventAgentSpawned:
		p.applyAgentSpawned(ev)
	case models.EventAgentSpawnFailed:
		// No agent entity is created on spawn failure; the runtime reacts
		// via on_error policy. Nothing in the projection to mutate.
	case models.EventAgentWorking:
		p.applyAgentActivity(ev, models.AgentWorking)
	case models.EventAgentIdle:
		p.applyAgentActivity(ev, models.AgentIdle)
	case models.EventAgentPrompt:
		p.applyAgentPrompt(ev)
	case models.EventAgentExited:
		p.applyAgentTerminal(ev, models.AgentExited)
	case models.EventAgentGone:
		p.applyAgentTerminal(ev, models.AgentGone)
	case models.EventDecisionCreated:
		p.applyDecisionCreated(ev)
	case models.EventDecisionAnswered:
		p.applyDecisionAnswered(ev)
	case models.EventWorkspaceRequested:
		p.applyWorkspaceRequested(ev)
	case models.EventWorkspaceCreated:
		p.applyWorkspaceCreated(ev)
	case models.EventWorkspaceReady:
		p.applyWorkspaceStatus(ev, models.WorkspaceReady)
	case models.EventWorkspaceFailed:
		p.applyWorkspaceStatus(ev, models.WorkspaceFailed)
	case models.EventWorkspaceDropped:
		p.applyWorkspaceStatus(ev, models.WorkspaceDropped)
	case models.EventWorkerStarted:
		p.applyWorkerStarted(ev)
	case models.EventWorkerStopped:
		p.applyWorkerStopped(ev)
	case models.EventQueueDefined:
		p.applyQueueDefined(ev)
	case models.EventQueuePushed:
		p.applyQueuePushed(ev)
	case models.EventQueueTaken:
		p.applyQueueTaken(ev)
	case models.EventQueueCompleted:
		p.applyQueueCompleted(ev)
	case models.EventQueueFailed:
		p.applyQueueFailed(ev)
	case models.EventQueueDead:
		p.applyQueueDead(ev)
	case models.EventQueueDropped:
		p.applyQueueDropped(ev)
	case models.EventQueueRetried:
		p.applyQueueRetried(ev)
	case models.EventCronCreated:
		p.applyCronCreated(ev)
	case models.EventCronStarted:
		p.applyCronStarted(ev)
	case models.EventCronStopped:
		p.applyCronStopped(ev)
	case models.EventCronFired:
		p.applyCronFired(ev)
	default:
		slog.Warn("state: unhandled mutation tag, ignoring", "type", ev.Type)
	}

	p.LastSeq = ev.Seq
}

func decode[T any](ev models.Event) (T, bool) {
	var v T
	if len(ev.Payload) == 0 {
		return v, false
	}
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		slog.Warn("state: payload decode failed", "type", ev.Type, "error", err.Error())
		return v, false
	}
	return v, true
}

