package state

import (
	"github.com/sidelinehq/crewd/internal/models"
)

func (p *Projection) applyJobCreated(ev models.Event) {
	payload, ok := decode[models.JobCreatedPayload](ev)
	if !ok {
		return
	}
	if _, exists := p.Jobs[payload.JobID]; exists {
		return // idempotent replay
	}
	statuses := make([]models.StepStatus, len(payload.Steps))
	for i := range statuses {
		statuses[i] = models.StepPending
	}
	p.Jobs[payload.JobID] = &models.Job{
		ID:          payload.JobID,
		Name:        payload.Name,
		Project:     payload.Project,
		Variables:   payload.Variables,
		Steps:       payload.Steps,
		StepIndex:   0,
		StepStatus:  statuses,
		RetryCounts: make([]int, len(payload.Steps)),
		CrewMode:    payload.CrewMode,
		Labels:      payload.Labels,
		CreatedAt:   ev.Timestamp,
		UpdatedAt:   ev.Timestamp,
	}
}

func (p *Projection) applyStepStarted(ev models.Event) {
	payload, ok := decode[models.StepStartedPayload](ev)
	if !ok {
		return
	}
	job := p.Jobs[payload.JobID]
	if job == nil || payload.StepIndex >= len(job.StepStatus) {
		return
	}
	job.StepIndex = payload.StepIndex
	job.StepStatus[payload.StepIndex] = models.StepRunning
	job.WaitingOn = ""
	job.UpdatedAt = ev.Timestamp
}

func (p *Projection) applyStepCompleted(ev models.Event) {
	payload, ok := decode[models.StepCompletedPayload](ev)
	if !ok {
		return
	}
	job := p.Jobs[payload.JobID]
	if job == nil || payload.StepIndex >= len(job.StepStatus) {
		return
	}
	job.StepStatus[payload.StepIndex] = models.StepCompleted
	job.WaitingOn = ""
	job.UpdatedAt = ev.Timestamp
}

func (p *Projection) applyStepFailed(ev models.Event) {
	payload, ok := decode[models.StepFailedPayload](ev)
	if !ok {
		return
	}
	job := p.Jobs[payload.JobID]
	if job == nil || payload.StepIndex >= len(job.StepStatus) {
		return
	}
	job.StepStatus[payload.StepIndex] = models.StepFailed
	job.WaitingOn = ""
	job.UpdatedAt = ev.Timestamp
}

func (p *Projection) applyStepWaiting(ev models.Event) {
	payload, ok := decode[models.StepWaitingPayload](ev)
	if !ok {
		return
	}
	job := p.Jobs[payload.JobID]
	if job == nil || payload.StepIndex >= len(job.StepStatus) {
		return
	}
	job.StepStatus[payload.StepIndex] = models.StepWaiting
	job.WaitingOn = payload.DecisionID
	job.UpdatedAt = ev.Timestamp
}

func (p *Projection) applyStepCancelled(ev models.Event) {
	payload, ok := decode[models.StepCancelledPayload](ev)
	if !ok {
		return
	}
	job := p.Jobs[payload.JobID]
	if job == nil || payload.StepIndex >= len(job.StepStatus) {
		return
	}
	job.StepStatus[payload.StepIndex] = models.StepCancelled
	job.WaitingOn = ""
	job.UpdatedAt = ev.Timestamp
}

func (p *Projection) applyJobTerminal(ev models.Event, reason string) {
	var jobID string
	switch reason {
	case "completed":
		v, ok := decode[models.JobCompletedPayload](ev)
		if !ok {
			return
		}
		jobID = v.JobID
	case "failed":
		v, ok := decode[models.JobFailedPayload](ev)
		if !ok {
			return
		}
		jobID = v.JobID
	case "cancelled":
		v, ok := decode[models.JobCancelledPayload](ev)
		if !ok {
			return
		}
		jobID = v.JobID
	}
	job := p.Jobs[jobID]
	if job == nil {
		return
	}
	job.Terminal = true
	job.TermReason = reason
	job.WaitingOn = ""
	job.UpdatedAt = ev.Timestamp

	// Unresolved decisions for a terminal job are discarded.
	for id, d := range p.Decisions {
		if d.JobID == jobID && !d.IsResolved() {
			delete(p.Decisions, id)
		}
	}
}

func (p *Projection) applyJobSuspended(ev models.Event) {
	payload, ok := decode[models.JobSuspendedPayload](ev)
	if !ok {
		return
	}
	job := p.Jobs[payload.JobID]
	if job == nil {
		return
	}
	job.Suspended = true
	job.UpdatedAt = ev.Timestamp
}

func (p *Projection) applyJobResumed(ev models.Event) {
	payload, ok := decode[models.JobResumedPayload](ev)
	if !ok {
		return
	}
	job := p.Jobs[payload.JobID]
	if job == nil {
		return
	}
	job.Suspended = false
	job.UpdatedAt = ev.Timestamp
}

func (p *Projection) applyStepRetried(ev models.Event) {
	payload, ok := decode[models.StepRetriedPayload](ev)
	if !ok {
		return
	}
	job := p.Jobs[payload.JobID]
	if job == nil || payload.StepIndex >= len(job.RetryCounts) {
		return
	}
	job.RetryCounts[payload.StepIndex]++
	job.UpdatedAt = ev.Timestamp
}

func (p *Projection) applyGateAttempted(ev models.Event) {
	payload, ok := decode[models.GateAttemptedPayload](ev)
	if !ok {
		return
	}
	job := p.Jobs[payload.JobID]
	if job == nil {
		return
	}
	if job.EscalationAttempts == nil {
		job.EscalationAttempts = make(map[string]int)
	}
	job.EscalationAttempts[payload.StepName]++
	job.UpdatedAt = ev.Timestamp
}
