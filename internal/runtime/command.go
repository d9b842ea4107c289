package runtime

import (
	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/state"
)

func (e *Engine) onCommandRun(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.CommandRunPayload](ev)
	if !ok {
		return nil, nil
	}
	jobID := payload.JobID
	if jobID == "" {
		jobID = models.NewID("job")
	}
	return []models.PendingEvent{{
		Type:    models.EventJobCreated,
		Project: ev.Project,
		Payload: models.JobCreatedPayload{
			JobID:     jobID,
			Name:      payload.Command,
			Project:   ev.Project,
			Variables: payload.Variables,
			Steps:     payload.Steps,
			CrewMode:  payload.CrewMode,
			Labels:    payload.Labels,
		},
	}}, nil
}

func (e *Engine) onJobCreated(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.JobCreatedPayload](ev)
	if !ok {
		return nil, nil
	}
	job, ok := proj.GetJob(payload.JobID)
	if !ok {
		return nil, nil
	}
	if len(job.Steps) == 0 {
		return []models.PendingEvent{jobCompletedEvent(job)}, nil
	}
	return e.startStep(job, 0)
}

// startStep begins the step at idx: a workspace must exist first if the
// step asks for one, otherwise the step's body dispatches directly.
func (e *Engine) startStep(job *models.Job, idx int) ([]models.PendingEvent, []models.Effect) {
	if idx >= len(job.Steps) {
		return []models.PendingEvent{jobCompletedEvent(job)}, nil
	}
	if job.Steps[idx].NeedsWork && job.WorkspaceID == "" {
		return []models.PendingEvent{{
			Type:    models.EventWorkspaceRequest,
			Project: job.Project,
			Payload: models.WorkspaceRequestPayload{JobID: job.ID},
		}}, nil
	}
	return []models.PendingEvent{{
		Type:    models.EventStepStarted,
		Project: job.Project,
		Payload: models.StepStartedPayload{JobID: job.ID, StepIndex: idx},
	}}, nil
}

func jobCompletedEvent(job *models.Job) models.PendingEvent {
	return models.PendingEvent{
		Type:    models.EventJobCompleted,
		Project: job.Project,
		Payload: models.JobCompletedPayload{JobID: job.ID},
	}
}

func jobFailedEvent(job *models.Job, reason string) models.PendingEvent {
	return models.PendingEvent{
		Type:    models.EventJobFailed,
		Project: job.Project,
		Payload: models.JobFailedPayload{JobID: job.ID, Reason: reason},
	}
}

func (e *Engine) onJobCancel(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.JobCancelPayload](ev)
	if !ok {
		return nil, nil
	}
	job, ok := proj.GetJob(payload.JobID)
	if !ok || job.Terminal {
		return nil, nil
	}
	events := []models.PendingEvent{{
		Type:    models.EventJobCancelled,
		Project: ev.Project,
		Payload: models.JobCancelledPayload{JobID: job.ID},
	}}
	var effects []models.Effect
	if job.StepIndex < len(job.Steps) {
		if agent, ok := proj.AgentByJobStep(job.ID, job.Steps[job.StepIndex].Name); ok && !agent.Phase.IsTerminal() {
			effects = append(effects, models.Effect{
				Kind:      models.EffectAgentKill,
				Project:   job.Project,
				AgentKill: &models.AgentKillEffect{AgentID: agent.ID},
			})
		}
	}
	return events, effects
}

func (e *Engine) onJobSuspend(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.JobSuspendPayload](ev)
	if !ok {
		return nil, nil
	}
	job, ok := proj.GetJob(payload.JobID)
	if !ok || job.Terminal || job.Suspended {
		return nil, nil
	}
	return []models.PendingEvent{{
		Type:    models.EventJobSuspended,
		Project: ev.Project,
		Payload: models.JobSuspendedPayload{JobID: job.ID},
	}}, nil
}

func (e *Engine) onJobResume(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.JobResumePayload](ev)
	if !ok {
		return nil, nil
	}
	job, ok := proj.GetJob(payload.JobID)
	if !ok || job.Terminal || !job.Suspended {
		return nil, nil
	}
	return []models.PendingEvent{{
		Type:    models.EventJobResumed,
		Project: ev.Project,
		Payload: models.JobResumedPayload{JobID: job.ID, Restart: payload.Restart},
	}}, nil
}

// onJobResumed fires after job:resumed has cleared Suspended. A restart
// re-runs the current step from scratch; otherwise a step left Pending
// while parked between steps is started, and a step that was still
// Running/Waiting when suspended is left alone — suspend never touched
// its in-flight effect, so there's nothing to resume.
func (e *Engine) onJobResumed(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.JobResumedPayload](ev)
	if !ok {
		return nil, nil
	}
	job, ok := proj.GetJob(payload.JobID)
	if !ok || job.Terminal {
		return nil, nil
	}
	if payload.Restart {
		return e.startStep(job, job.StepIndex)
	}
	if job.StepIndex < len(job.StepStatus) && job.StepStatus[job.StepIndex].IsTerminal() {
		return e.advanceOrFinish(job)
	}
	return nil, nil
}
