package runtime

import (
	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/state"
)

func (e *Engine) onStepStarted(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.StepStartedPayload](ev)
	if !ok {
		return nil, nil
	}
	job, ok := proj.GetJob(payload.JobID)
	if !ok || payload.StepIndex >= len(job.Steps) {
		return nil, nil
	}
	step := job.Steps[payload.StepIndex]
	switch step.Kind {
	case models.StepKindShell:
		return nil, []models.Effect{{
			Kind:    models.EffectShell,
			Project: job.Project,
			Shell: &models.ShellEffect{
				JobID:     job.ID,
				StepIndex: payload.StepIndex,
				Command:   step.Command,
				Cwd:       step.Cwd,
				Env:       step.Env,
			},
		}}, nil
	case models.StepKindAgent:
		return []models.PendingEvent{{
			Type:    models.EventAgentSpawnRequest,
			Project: job.Project,
			Payload: models.AgentSpawnRequestPayload{
				OwnerKind: models.AgentOwnerStep,
				JobID:     job.ID,
				StepName:  step.Name,
				Agent:     step.Agent,
			},
		}}, nil
	}
	return nil, nil
}

func (e *Engine) onShellExited(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.ShellExitedPayload](ev)
	if !ok {
		return nil, nil
	}
	if payload.Gate {
		return e.onGateShellExited(ev.Project, payload, proj)
	}
	job, ok := proj.GetJob(payload.JobID)
	if !ok || job.Terminal || payload.StepIndex >= len(job.Steps) {
		return nil, nil
	}
	step := job.Steps[payload.StepIndex]

	if payload.Code == 0 {
		return []models.PendingEvent{stepOutcomeEvent(job, payload.StepIndex, true, "")}, nil
	}

	attempts := job.RetryCounts[payload.StepIndex]
	if attempts < step.Retry.Attempts {
		return []models.PendingEvent{
			{Type: models.EventStepRetried, Project: job.Project, Payload: models.StepRetriedPayload{JobID: job.ID, StepIndex: payload.StepIndex}},
			{Type: models.EventStepStarted, Project: job.Project, Payload: models.StepStartedPayload{JobID: job.ID, StepIndex: payload.StepIndex}},
		}, nil
	}
	return []models.PendingEvent{stepOutcomeEvent(job, payload.StepIndex, false, payload.Output)}, nil
}

func stepOutcomeEvent(job *models.Job, idx int, success bool, reason string) models.PendingEvent {
	if success {
		return models.PendingEvent{
			Type:    models.EventStepCompleted,
			Project: job.Project,
			Payload: models.StepCompletedPayload{JobID: job.ID, StepIndex: idx},
		}
	}
	return models.PendingEvent{
		Type:    models.EventStepFailed,
		Project: job.Project,
		Payload: models.StepFailedPayload{JobID: job.ID, StepIndex: idx, Reason: reason},
	}
}

// onStepSettled runs once a step:completed/step:failed mutation has
// landed. A suspended job is left parked at the settled step; resuming
// recomputes the same transition via advanceOrFinish.
func (e *Engine) onStepSettled(ev models.Event, proj *state.Projection, success bool) ([]models.PendingEvent, []models.Effect) {
	var jobID string
	var idx int
	if success {
		v, ok := decode[models.StepCompletedPayload](ev)
		if !ok {
			return nil, nil
		}
		jobID, idx = v.JobID, v.StepIndex
	} else {
		v, ok := decode[models.StepFailedPayload](ev)
		if !ok {
			return nil, nil
		}
		jobID, idx = v.JobID, v.StepIndex
	}
	job, ok := proj.GetJob(jobID)
	if !ok || job.Terminal || job.StepIndex != idx {
		return nil, nil
	}
	if job.Suspended {
		return nil, nil
	}
	return e.advanceOrFinish(job)
}

// advanceOrFinish decides what happens after the job's current step
// (job.StepIndex) has settled to a terminal status: follow an on_done/
// on_fail goto, fall through to the next step in sequence, or close out
// the job.
func (e *Engine) advanceOrFinish(job *models.Job) ([]models.PendingEvent, []models.Effect) {
	idx := job.StepIndex
	status := job.StepStatus[idx]
	step := job.Steps[idx]

	if status == models.StepFailed && step.OnFailGo == "" {
		return []models.PendingEvent{jobFailedEvent(job, "step failed: "+step.Name)}, nil
	}

	next, ok := nextStepIndex(job)
	if !ok {
		if status == models.StepCompleted {
			return []models.PendingEvent{jobCompletedEvent(job)}, nil
		}
		return []models.PendingEvent{jobFailedEvent(job, "on_fail_goto target not found: "+step.OnFailGo)}, nil
	}
	return e.startStep(job, next)
}

// nextStepIndex resolves the step to run after job.StepIndex's current
// (terminal) status, following an on_done/on_fail goto by name when set.
func nextStepIndex(job *models.Job) (int, bool) {
	idx := job.StepIndex
	if idx >= len(job.Steps) {
		return 0, false
	}
	step := job.Steps[idx]
	status := job.StepStatus[idx]

	var gotoName string
	switch status {
	case models.StepCompleted:
		gotoName = step.OnDoneGo
	case models.StepFailed:
		gotoName = step.OnFailGo
	default:
		return 0, false
	}

	if gotoName == "" {
		if status == models.StepFailed {
			return 0, false
		}
		n := idx + 1
		if n >= len(job.Steps) {
			return 0, false
		}
		return n, true
	}
	for i, s := range job.Steps {
		if s.Name == gotoName {
			return i, true
		}
	}
	return 0, false
}

func findStepIndex(job *models.Job, name string) (int, bool) {
	for i, s := range job.Steps {
		if s.Name == name {
			return i, true
		}
	}
	return 0, false
}
