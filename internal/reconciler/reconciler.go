// Package reconciler runs once at daemon startup, after replay and
// after the IPC listener is ready: it walks every non-terminal entity
// in the projection and brings it back in line with observable reality
// by emitting corrective events. It never deletes anything — events
// are append-only — it only ever adds new ones.
package reconciler

import (
	"log/slog"
	"os"

	"github.com/sidelinehq/crewd/internal/models"
)

// Publisher is the one bus method the reconciler needs.
type Publisher interface {
	Publish(eventType, project string, payload interface{}) (models.Event, error)
}

// Query is the read side of the projection the reconciler walks.
type Query interface {
	ListJobs(project string) []*models.Job
	ListAgents() []*models.Agent
	ListWorkers() []*models.Worker
	ListCrons() []*models.Cron
	GetJob(id string) (*models.Job, bool)
	AgentByJobStep(jobID, stepName string) (*models.Agent, bool)
}

// AgentProbe reattaches the supervisor's activity watcher to an agent
// that was already running before this daemon process started,
// reporting whether the underlying process is still alive. Satisfied
// structurally by *internal/supervisor.Supervisor.
type AgentProbe interface {
	Reattach(project, agentID, socketPath, sessionLogPath string, pid int) bool
}

type Reconciler struct {
	Publisher Publisher
	Query     Query
	Probe     AgentProbe
}

func New(pub Publisher, q Query, probe AgentProbe) *Reconciler {
	return &Reconciler{Publisher: pub, Query: q, Probe: probe}
}

// Run performs the single startup walk described above. internal/daemon
// calls it exactly once, after the IPC listener is up and before the
// runbook bootstrap.
func (r *Reconciler) Run() {
	r.reconcileJobs()
	r.reconcileWorkers()
	r.reconcileCrons()
	r.pruneOrphanAgents()
}

func (r *Reconciler) reconcileJobs() {
	for _, job := range r.Query.ListJobs("") {
		if job.Terminal {
			continue
		}
		if job.StepIndex < 0 || job.StepIndex >= len(job.Steps) {
			continue
		}
		agent, ok := r.Query.AgentByJobStep(job.ID, job.Steps[job.StepIndex].Name)
		if !ok || agent.Phase.IsTerminal() {
			continue
		}
		r.reconcileAgent(job, agent, job.WaitingOn != "")
	}
}

// reconcileAgent probes one non-terminal job's live agent. A job
// already Waiting(decision) is reattached when alive but otherwise left
// alone entirely — no agent:exited/agent:gone is raised for it, since
// only resolving the decision is allowed to move the step out of
// Waiting, never reconciliation.
func (r *Reconciler) reconcileAgent(job *models.Job, agent *models.Agent, waiting bool) {
	if r.Probe.Reattach(job.Project, agent.ID, agent.SocketPath, agent.SessionLogPath, agent.PID) {
		return
	}
	if waiting {
		return
	}
	if sessionFileExists(agent.SessionLogPath) {
		r.publish(models.EventAgentExited, job.Project, models.AgentExitedPayload{AgentID: agent.ID})
		return
	}
	r.publish(models.EventAgentGone, job.Project, models.AgentGonePayload{AgentID: agent.ID})
}

func (r *Reconciler) reconcileWorkers() {
	for _, w := range r.Query.ListWorkers() {
		if w.Status != models.WorkerRunning {
			continue
		}
		r.publish(models.EventWorkerStart, "", models.WorkerStartPayload{Name: w.Name})
	}
}

func (r *Reconciler) reconcileCrons() {
	for _, c := range r.Query.ListCrons() {
		if c.Status != models.CronRunning {
			continue
		}
		r.publish(models.EventCronStart, "", models.CronStartPayload{Name: c.Name})
	}
}

// pruneOrphanAgents handles agents whose owning job is terminal or no
// longer exists — reconcileJobs only walks non-terminal jobs, so an
// agent left behind by one that finished (or whose record vanished)
// would otherwise never be revisited.
func (r *Reconciler) pruneOrphanAgents() {
	for _, agent := range r.Query.ListAgents() {
		if agent.Phase.IsTerminal() {
			continue
		}
		job, ok := r.Query.GetJob(agent.JobID)
		if ok && !job.Terminal {
			continue
		}
		project := ""
		if ok {
			project = job.Project
		}
		r.publish(models.EventAgentGone, project, models.AgentGonePayload{AgentID: agent.ID})
	}
}

func (r *Reconciler) publish(eventType, project string, payload interface{}) {
	if _, err := r.Publisher.Publish(eventType, project, payload); err != nil {
		slog.Error("reconciler: publish failed", "type", eventType, "error", err.Error())
	}
}

func sessionFileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
