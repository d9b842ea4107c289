package state

import (
	"sort"
	"time"

	"github.com/sidelinehq/crewd/internal/models"
)

// Every query below is a pure read over the projection, safe for
// concurrent callers.

func (p *Projection) GetJob(id string) (*models.Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	j, ok := p.Jobs[id]
	return j, ok
}

func (p *Projection) ListJobs(project string) []*models.Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*models.Job, 0, len(p.Jobs))
	for _, j := range p.Jobs {
		if project == "" || j.Project == project {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

func (p *Projection) GetAgent(id string) (*models.Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.Agents[id]
	return a, ok
}

func (p *Projection) ListAgents() []*models.Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*models.Agent, 0, len(p.Agents))
	for _, a := range p.Agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// AgentByJobStep finds the agent (if any) bound to a job's step.
func (p *Projection) AgentByJobStep(jobID, stepName string) (*models.Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, a := range p.Agents {
		if a.JobID == jobID && a.StepName == stepName {
			return a, true
		}
	}
	return nil, false
}

func (p *Projection) GetWorkspace(id string) (*models.Workspace, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.Workspaces[id]
	return w, ok
}

func (p *Projection) ListWorkspaces() []*models.Workspace {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*models.Workspace, 0, len(p.Workspaces))
	for _, w := range p.Workspaces {
		out = append(out, w)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

func (p *Projection) GetDecision(id string) (*models.Decision, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.Decisions[id]
	return d, ok
}

func (p *Projection) ListDecisions(unresolvedOnly bool) []*models.Decision {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*models.Decision, 0, len(p.Decisions))
	for _, d := range p.Decisions {
		if unresolvedOnly && d.IsResolved() {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// DecisionForStep returns the step's unresolved decision, if any — a
// step has at most one unresolved decision open at a time.
func (p *Projection) DecisionForStep(jobID, stepName string) (*models.Decision, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, d := range p.Decisions {
		if d.JobID == jobID && d.StepName == stepName && !d.IsResolved() {
			return d, true
		}
	}
	return nil, false
}

func (p *Projection) GetWorker(name string) (*models.Worker, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.Workers[name]
	return w, ok
}

func (p *Projection) ListWorkers() []*models.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*models.Worker, 0, len(p.Workers))
	for _, w := range p.Workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// WorkersForQueue returns every worker whose source queue matches, in a
// stable order so repeated calls can implement round-robin fairness
// across attached queues when combined with a caller-held cursor.
func (p *Projection) WorkersForQueue(queue string) []*models.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*models.Worker, 0)
	for _, w := range p.Workers {
		if w.Queue == queue {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (p *Projection) GetQueueItem(id string) (*models.QueueItem, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	it, ok := p.QueueItems[id]
	return it, ok
}

func (p *Projection) GetQueueDef(name string) (*models.QueueDef, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.QueueDefs[name]
	return q, ok
}

func (p *Projection) ListQueueDefs() []*models.QueueDef {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*models.QueueDef, 0, len(p.QueueDefs))
	for _, q := range p.QueueDefs {
		out = append(out, q)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// ItemByJobID finds the queue item, if any, currently attached to jobID.
// Used to translate a job's terminal mutation into the matching
// queue:completed/queue:failed event.
func (p *Projection) ItemByJobID(jobID string) (*models.QueueItem, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, it := range p.QueueItems {
		if it.JobID == jobID && it.Status == models.QueueItemTaken {
			return it, true
		}
	}
	return nil, false
}

func (p *Projection) ListQueueItems(queue string) []*models.QueueItem {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*models.QueueItem, 0)
	for _, it := range p.QueueItems {
		if queue == "" || it.Queue == queue {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// NextPending returns the oldest item for queue that is ready to take —
// Pending and due, or Failed with a scheduled retry that has come due
// (see models.QueueItem.VisibleForTake) — or nil.
func (p *Projection) NextPending(queue string, now time.Time) *models.QueueItem {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var best *models.QueueItem
	for _, it := range p.QueueItems {
		if it.Queue != queue {
			continue
		}
		if !it.VisibleForTake(now) {
			continue
		}
		if best == nil || it.CreatedAt.Before(best.CreatedAt) {
			best = it
		}
	}
	return best
}

func (p *Projection) GetCron(name string) (*models.Cron, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.Crons[name]
	return c, ok
}

func (p *Projection) ListCrons() []*models.Cron {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*models.Cron, 0, len(p.Crons))
	for _, c := range p.Crons {
		out = append(out, c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}
