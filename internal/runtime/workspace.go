package runtime

import (
	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/state"
)

// onWorkspaceRequest mints the workspace id up front (rather than letting
// the provisioner mint one) so workspace:failed has a row to mark Failed
// against even when provisioning never produces a path.
func (e *Engine) onWorkspaceRequest(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.WorkspaceRequestPayload](ev)
	if !ok {
		return nil, nil
	}
	if job, ok := proj.GetJob(payload.JobID); !ok || job.Terminal {
		return nil, nil
	}
	workspaceID := models.NewID("ws")
	return []models.PendingEvent{{
			Type:    models.EventWorkspaceRequested,
			Project: ev.Project,
			Payload: models.WorkspaceRequestedPayload{WorkspaceID: workspaceID, JobID: payload.JobID},
		}}, []models.Effect{{
			Kind:            models.EffectWorkspaceCreate,
			Project:         ev.Project,
			WorkspaceCreate: &models.WorkspaceCreateEffect{JobID: payload.JobID, WorkspaceID: workspaceID},
		}}
}

// onWorkspaceCreated starts the step that was waiting on the workspace.
// job:created and job:resumed both route through onWorkspaceRequest
// before ever starting a NeedsWork step, so the job's current step is
// always the one still Pending here.
func (e *Engine) onWorkspaceCreated(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.WorkspaceCreatedPayload](ev)
	if !ok {
		return nil, nil
	}
	job, ok := proj.GetJob(payload.JobID)
	if !ok || job.Terminal {
		return nil, nil
	}
	if job.StepIndex >= len(job.StepStatus) || job.StepStatus[job.StepIndex] != models.StepPending {
		return nil, nil
	}
	return []models.PendingEvent{{
		Type:    models.EventStepStarted,
		Project: job.Project,
		Payload: models.StepStartedPayload{JobID: job.ID, StepIndex: job.StepIndex},
	}}, nil
}

func (e *Engine) onWorkspaceFailed(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.WorkspaceFailedPayload](ev)
	if !ok {
		return nil, nil
	}
	ws, ok := proj.GetWorkspace(payload.WorkspaceID)
	if !ok {
		return nil, nil
	}
	job, ok := proj.GetJob(ws.JobID)
	if !ok || job.Terminal {
		return nil, nil
	}
	return []models.PendingEvent{jobFailedEvent(job, "workspace creation failed: "+payload.Reason)}, nil
}

func (e *Engine) onWorkspaceDropRequest(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.WorkspaceDropRequestPayload](ev)
	if !ok {
		return nil, nil
	}
	if ws, ok := proj.GetWorkspace(payload.WorkspaceID); !ok || ws.Status == models.WorkspaceDropped {
		return nil, nil
	}
	return nil, []models.Effect{{
		Kind:          models.EffectWorkspaceDrop,
		Project:       ev.Project,
		WorkspaceDrop: &models.WorkspaceDropEffect{WorkspaceID: payload.WorkspaceID},
	}}
}
