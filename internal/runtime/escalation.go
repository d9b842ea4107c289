package runtime

import (
	"fmt"

	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/state"
)

// dispatchEscalation is the total function over models.EscalationAction
// the on_idle/on_dead/on_error branches all funnel through. An unset or
// unrecognized action defaults to Escalate — the safest choice, since it
// hands the decision to a human rather than silently dropping a failure.
func (e *Engine) dispatchEscalation(source models.DecisionSource, job *models.Job, step models.StepDef, policy models.EscalationPolicy, agent *models.Agent) ([]models.PendingEvent, []models.Effect) {
	idx, ok := findStepIndex(job, step.Name)
	if !ok {
		return nil, nil
	}

	switch policy.Action {
	case models.ActionNudge:
		return nil, []models.Effect{{
			Kind:       models.EffectAgentInput,
			Project:    job.Project,
			AgentInput: &models.AgentInputEffect{AgentID: agent.ID, Text: policy.Message},
		}}

	case models.ActionDone:
		return []models.PendingEvent{stepOutcomeEvent(job, idx, true, "")}, nil

	case models.ActionFail:
		return []models.PendingEvent{stepOutcomeEvent(job, idx, false, "escalation policy: fail")}, nil

	case models.ActionRecover:
		return []models.PendingEvent{{
				Type:    models.EventAgentSpawnRequest,
				Project: job.Project,
				Payload: models.AgentSpawnRequestPayload{
					OwnerKind: models.AgentOwnerStep,
					JobID:     job.ID,
					StepName:  step.Name,
					Agent:     step.Agent,
					Prime:     policy.Message,
				},
			}}, []models.Effect{{
				Kind:      models.EffectAgentKill,
				Project:   job.Project,
				AgentKill: &models.AgentKillEffect{AgentID: agent.ID},
			}}

	case models.ActionGate:
		return nil, []models.Effect{{
			Kind:    models.EffectShell,
			Project: job.Project,
			Shell: &models.ShellEffect{
				JobID:        job.ID,
				StepIndex:    -1,
				Command:      policy.Run,
				Gate:         true,
				StepName:     step.Name,
				Source:       source,
				AgentID:      agent.ID,
				EscalationID: models.NewCorrelationID(),
			},
		}}

	default: // models.ActionEscalate and anything unrecognized
		return []models.PendingEvent{{
			Type:    models.EventDecisionCreated,
			Project: job.Project,
			Payload: models.DecisionCreatedPayload{
				DecisionID:   models.NewID("decision"),
				JobID:        job.ID,
				StepName:     step.Name,
				AgentID:      agent.ID,
				Source:       source,
				Context:      fmt.Sprintf("%s escalation for step %q", source, step.Name),
				Options:      optionsFor(source),
				EscalationID: models.NewCorrelationID(),
			},
		}}, nil
	}
}

// policyFor looks up the escalation policy a gate check belongs to.
func policyFor(step models.StepDef, source models.DecisionSource) models.EscalationPolicy {
	switch source {
	case models.SourceIdle:
		return step.Agent.OnIdle
	case models.SourceDead:
		return step.Agent.OnDead
	case models.SourceError:
		return step.Agent.OnError
	}
	return models.EscalationPolicy{}
}

// onGateShellExited handles the completion of an on_idle/on_dead/on_error
// gate check. A zero exit completes the step outright; a non-zero exit
// re-runs the check until policy.Attempts runs in total have failed
// (one run when unset), then surfaces a gate decision.
func (e *Engine) onGateShellExited(project string, payload models.ShellExitedPayload, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	job, ok := proj.GetJob(payload.JobID)
	if !ok || job.Terminal {
		return nil, nil
	}
	idx, ok := findStepIndex(job, payload.StepName)
	if !ok {
		return nil, nil
	}
	step := job.Steps[idx]
	policy := policyFor(step, payload.Source)

	if payload.Code == 0 {
		return []models.PendingEvent{stepOutcomeEvent(job, idx, true, "")}, nil
	}

	limit := policy.Attempts
	if limit <= 0 {
		limit = 1
	}
	attempted := models.PendingEvent{
		Type:    models.EventGateAttempted,
		Project: project,
		Payload: models.GateAttemptedPayload{JobID: job.ID, StepName: payload.StepName, EscalationID: payload.EscalationID},
	}
	attempts := job.EscalationAttempts[payload.StepName]
	if attempts+1 < limit {
		return []models.PendingEvent{attempted}, []models.Effect{{
			Kind:    models.EffectShell,
			Project: project,
			Shell: &models.ShellEffect{
				JobID:        job.ID,
				StepIndex:    -1,
				Command:      policy.Run,
				Gate:         true,
				StepName:     payload.StepName,
				Source:       payload.Source,
				AgentID:      payload.AgentID,
				EscalationID: payload.EscalationID,
			},
		}}
	}

	return []models.PendingEvent{
		attempted,
		{
			Type:    models.EventDecisionCreated,
			Project: project,
			Payload: models.DecisionCreatedPayload{
				DecisionID:   models.NewID("decision"),
				JobID:        job.ID,
				StepName:     payload.StepName,
				AgentID:      payload.AgentID,
				Source:       models.SourceGate,
				GateSource:   payload.Source,
				Context:      fmt.Sprintf("gate check failed after %d attempts", attempts+1),
				Options:      gateOptions(),
				EscalationID: payload.EscalationID,
			},
		},
	}, nil
}
