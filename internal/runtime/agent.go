package runtime

import (
	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/state"
)

func (e *Engine) onAgentSpawnRequest(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.AgentSpawnRequestPayload](ev)
	if !ok {
		return nil, nil
	}
	return nil, []models.Effect{{
		Kind:    models.EffectAgentSpawn,
		Project: ev.Project,
		AgentSpawn: &models.AgentSpawnEffect{
			JobID:      payload.JobID,
			StepName:   payload.StepName,
			OwnerKind:  payload.OwnerKind,
			Definition: payload.Agent.Definition,
			Env:        payload.Agent.Env,
			Prime:      payload.Prime,
		},
	}}
}

func (e *Engine) onAgentInput(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.AgentInputPayload](ev)
	if !ok {
		return nil, nil
	}
	agent, ok := proj.GetAgent(payload.AgentID)
	if !ok || agent.Phase.IsTerminal() {
		return nil, nil
	}
	return nil, []models.Effect{{
		Kind:       models.EffectAgentInput,
		Project:    ev.Project,
		AgentInput: &models.AgentInputEffect{AgentID: payload.AgentID, Text: payload.Text},
	}}
}

func (e *Engine) onAgentKillRequest(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.AgentKillRequestPayload](ev)
	if !ok {
		return nil, nil
	}
	agent, ok := proj.GetAgent(payload.AgentID)
	if !ok || agent.Phase.IsTerminal() {
		return nil, nil
	}
	return nil, []models.Effect{{
		Kind:      models.EffectAgentKill,
		Project:   ev.Project,
		AgentKill: &models.AgentKillEffect{AgentID: payload.AgentID},
	}}
}

// onAgentWorking cancels any idle-grace timer armed for this agent —
// activity means the escalation that timer would trigger no longer
// applies.
func (e *Engine) onAgentWorking(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.AgentWorkingPayload](ev)
	if !ok {
		return nil, nil
	}
	return nil, []models.Effect{{
		Kind:        models.EffectTimerCancel,
		Project:     ev.Project,
		TimerCancel: &models.TimerCancelEffect{Name: payload.AgentID},
	}}
}

// onAgentIdle arms the step's idle-grace timer. A step with no grace
// configured is treated as already having waited it out, so its on_idle
// policy applies immediately.
func (e *Engine) onAgentIdle(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.AgentIdlePayload](ev)
	if !ok {
		return nil, nil
	}
	agent, ok := proj.GetAgent(payload.AgentID)
	if !ok || agent.OwnerKind != models.AgentOwnerStep {
		return nil, nil
	}
	job, step, ok := lookupStepAgent(proj, agent)
	if !ok || job.Terminal {
		return nil, nil
	}
	grace := step.Agent.IdleGrace
	if grace <= 0 {
		return e.dispatchEscalation(models.SourceIdle, job, step, step.Agent.OnIdle, agent)
	}
	return nil, []models.Effect{{
		Kind:    models.EffectTimer,
		Project: ev.Project,
		Timer:   &models.TimerEffect{Name: agent.ID, Interval: grace, Once: true},
	}}
}

// onAgentPrompt raises a decision for the agent's approval/question/plan
// prompt and, if the agent is bound to the job's current step, parks
// that step as Waiting until the decision resolves.
func (e *Engine) onAgentPrompt(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.AgentPromptPayload](ev)
	if !ok {
		return nil, nil
	}
	agent, ok := proj.GetAgent(payload.AgentID)
	if !ok || agent.Phase.IsTerminal() || agent.HasInFlightDecision() {
		return nil, nil
	}

	decisionID := models.NewID("decision")
	events := []models.PendingEvent{{
		Type:    models.EventDecisionCreated,
		Project: ev.Project,
		Payload: models.DecisionCreatedPayload{
			DecisionID: decisionID,
			JobID:      agent.JobID,
			StepName:   agent.StepName,
			AgentID:    agent.ID,
			Source:     sourceForPrompt(payload.Kind),
			Context:    payload.Context,
			Options:    optionsForPrompt(payload.Kind),
		},
	}}

	if agent.OwnerKind == models.AgentOwnerStep && agent.JobID != "" {
		if job, ok := proj.GetJob(agent.JobID); ok && !job.Terminal {
			if idx, ok := findStepIndex(job, agent.StepName); ok && job.StepIndex == idx {
				events = append(events, models.PendingEvent{
					Type:    models.EventStepWaiting,
					Project: job.Project,
					Payload: models.StepWaitingPayload{JobID: job.ID, StepIndex: idx, DecisionID: decisionID},
				})
			}
		}
	}
	return events, nil
}

func sourceForPrompt(kind models.PromptKind) models.DecisionSource {
	switch kind {
	case models.PromptApproval:
		return models.SourceApproval
	case models.PromptPlan:
		return models.SourcePlan
	default:
		return models.SourceQuestion
	}
}

func optionsForPrompt(kind models.PromptKind) []models.DecisionOption {
	if kind == models.PromptApproval {
		return approvalOptions()
	}
	return nil // question/plan are answered freeform via Message
}

// onAgentTerminal applies the step's on_dead policy when its agent exits
// or goes unreachable. Crew-owned standalone agents carry no policy and
// are left alone.
func (e *Engine) onAgentTerminal(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	var agentID string
	if ev.Type == models.EventAgentExited {
		v, ok := decode[models.AgentExitedPayload](ev)
		if !ok {
			return nil, nil
		}
		agentID = v.AgentID
	} else {
		v, ok := decode[models.AgentGonePayload](ev)
		if !ok {
			return nil, nil
		}
		agentID = v.AgentID
	}
	agent, ok := proj.GetAgent(agentID)
	if !ok {
		return nil, nil
	}
	effects := []models.Effect{{
		Kind:        models.EffectTimerCancel,
		Project:     ev.Project,
		TimerCancel: &models.TimerCancelEffect{Name: agentID},
	}}
	if agent.OwnerKind != models.AgentOwnerStep {
		return nil, effects
	}
	job, step, ok := lookupStepAgent(proj, agent)
	if !ok || job.Terminal {
		return nil, effects
	}
	events, moreEffects := e.dispatchEscalation(models.SourceDead, job, step, step.Agent.OnDead, agent)
	return events, append(effects, moreEffects...)
}

func lookupStepAgent(proj *state.Projection, agent *models.Agent) (*models.Job, models.StepDef, bool) {
	job, ok := proj.GetJob(agent.JobID)
	if !ok {
		return nil, models.StepDef{}, false
	}
	idx, ok := findStepIndex(job, agent.StepName)
	if !ok {
		return nil, models.StepDef{}, false
	}
	return job, job.Steps[idx], true
}
