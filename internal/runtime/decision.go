package runtime

import (
	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/state"
)

// The option tables below are encoded once here and shared between
// decision:created (which options does a source offer) and
// decision:resolved (what does choosing one mean) so option ids never
// drift between the two.

func idleOptions() []models.DecisionOption {
	return []models.DecisionOption{
		{ID: "nudge", Label: "Nudge the agent"},
		{ID: "done", Label: "Mark step done"},
		{ID: "fail", Label: "Fail step"},
		{ID: "cancel", Label: "Cancel job"},
	}
}

func deadOptions() []models.DecisionOption {
	return []models.DecisionOption{
		{ID: "retry", Label: "Restart agent", Recommended: true},
		{ID: "fail", Label: "Fail step"},
		{ID: "cancel", Label: "Cancel job"},
	}
}

func errorOptions() []models.DecisionOption {
	return []models.DecisionOption{
		{ID: "retry", Label: "Retry step", Recommended: true},
		{ID: "fail", Label: "Fail step"},
		{ID: "cancel", Label: "Cancel job"},
	}
}

func gateOptions() []models.DecisionOption {
	return []models.DecisionOption{
		{ID: "retry", Label: "Retry gate", Recommended: true},
		{ID: "skip", Label: "Skip gate"},
		{ID: "cancel", Label: "Cancel job"},
	}
}

func approvalOptions() []models.DecisionOption {
	return []models.DecisionOption{
		{ID: "approve", Label: "Approve"},
		{ID: "reject", Label: "Reject"},
	}
}

func optionsFor(source models.DecisionSource) []models.DecisionOption {
	switch source {
	case models.SourceIdle:
		return idleOptions()
	case models.SourceDead:
		return deadOptions()
	case models.SourceError:
		return errorOptions()
	case models.SourceGate:
		return gateOptions()
	case models.SourceApproval:
		return approvalOptions()
	default: // question, plan: freeform via Message, no fixed options
		return nil
	}
}

// onDecisionResolved marks the decision answered and translates the
// chosen option into the action it stands for. Unresolvable (source,
// option) pairs — a stale option id from a client that cached an old
// decision — are a no-op past the decision:answered mark.
func (e *Engine) onDecisionResolved(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.DecisionResolvedPayload](ev)
	if !ok {
		return nil, nil
	}
	d, ok := proj.GetDecision(payload.DecisionID)
	if !ok || d.IsResolved() {
		return nil, nil
	}

	events := []models.PendingEvent{{
		Type:    models.EventDecisionAnswered,
		Project: ev.Project,
		Payload: payload,
	}}

	var job *models.Job
	var step models.StepDef
	var stepOK bool
	if d.JobID != "" {
		if j, ok := proj.GetJob(d.JobID); ok {
			job = j
			if idx, ok := findStepIndex(job, d.StepName); ok {
				step = job.Steps[idx]
				stepOK = true
			}
		}
	}

	switch d.Source {
	case models.SourceIdle, models.SourceError:
		switch payload.OptionID {
		case "nudge":
			return events, []models.Effect{{
				Kind:       models.EffectAgentInput,
				Project:    ev.Project,
				AgentInput: &models.AgentInputEffect{AgentID: d.AgentID, Text: payload.Message},
			}}
		case "done":
			if stepOK {
				events = append(events, stepOutcomeEvent(job, mustIndex(job, step.Name), true, ""))
			}
		case "retry":
			if stepOK {
				events = append(events, models.PendingEvent{
					Type:    models.EventStepStarted,
					Project: job.Project,
					Payload: models.StepStartedPayload{JobID: job.ID, StepIndex: mustIndex(job, step.Name)},
				})
			}
		case "fail":
			if stepOK {
				events = append(events, stepOutcomeEvent(job, mustIndex(job, step.Name), false, "resolved by operator: fail"))
			}
		case "cancel":
			if job != nil {
				events = append(events, models.PendingEvent{Type: models.EventJobCancel, Project: ev.Project, Payload: models.JobCancelPayload{JobID: job.ID}})
			}
		}

	case models.SourceDead:
		switch payload.OptionID {
		case "retry":
			if stepOK {
				events = append(events, models.PendingEvent{
					Type:    models.EventAgentSpawnRequest,
					Project: job.Project,
					Payload: models.AgentSpawnRequestPayload{OwnerKind: models.AgentOwnerStep, JobID: job.ID, StepName: step.Name, Agent: step.Agent, Prime: payload.Message},
				})
			}
		case "fail":
			if stepOK {
				events = append(events, stepOutcomeEvent(job, mustIndex(job, step.Name), false, "resolved by operator: fail"))
			}
		case "cancel":
			if job != nil {
				events = append(events, models.PendingEvent{Type: models.EventJobCancel, Project: ev.Project, Payload: models.JobCancelPayload{JobID: job.ID}})
			}
		}

	case models.SourceGate:
		switch payload.OptionID {
		case "retry":
			events = append(events, models.PendingEvent{Type: models.EventGateAttempted, Project: ev.Project, Payload: models.GateAttemptedPayload{JobID: d.JobID, StepName: d.StepName}})
			return events, []models.Effect{{
				Kind:    models.EffectShell,
				Project: ev.Project,
				Shell: &models.ShellEffect{
					JobID: d.JobID, StepIndex: -1, Command: policyFor(step, d.GateSource).Run,
					Gate: true, StepName: d.StepName, Source: d.GateSource, AgentID: d.AgentID,
				},
			}}
		case "skip":
			if stepOK {
				events = append(events, stepOutcomeEvent(job, mustIndex(job, step.Name), true, ""))
			}
		case "cancel":
			if job != nil {
				events = append(events, models.PendingEvent{Type: models.EventJobCancel, Project: ev.Project, Payload: models.JobCancelPayload{JobID: job.ID}})
			}
		}

	case models.SourceApproval:
		switch {
		case stepOK:
			switch payload.OptionID {
			case "approve":
				events = append(events, stepOutcomeEvent(job, mustIndex(job, step.Name), true, ""))
			case "reject":
				events = append(events, stepOutcomeEvent(job, mustIndex(job, step.Name), false, "rejected by operator"))
			}
		case d.AgentID != "":
			// Crew-owned agent with no job-bound step: the approval has
			// nowhere to advance a step, so just relay the verdict back.
			return events, []models.Effect{{
				Kind:       models.EffectAgentInput,
				Project:    ev.Project,
				AgentInput: &models.AgentInputEffect{AgentID: d.AgentID, Text: payload.OptionID},
			}}
		}

	case models.SourceQuestion, models.SourcePlan:
		if d.AgentID != "" {
			return events, []models.Effect{{
				Kind:       models.EffectAgentInput,
				Project:    ev.Project,
				AgentInput: &models.AgentInputEffect{AgentID: d.AgentID, Text: payload.Message},
			}}
		}
	}

	return events, nil
}

func mustIndex(job *models.Job, name string) int {
	idx, _ := findStepIndex(job, name)
	return idx
}
