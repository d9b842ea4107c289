package runtime

import (
	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/state"
)

func (e *Engine) onCronCreate(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.CronCreatePayload](ev)
	if !ok {
		return nil, nil
	}
	if _, exists := proj.GetCron(payload.Name); exists {
		return nil, nil
	}
	return []models.PendingEvent{{
		Type:    models.EventCronCreated,
		Project: ev.Project,
		Payload: models.CronCreatedPayload{Name: payload.Name, Command: payload.Command, Steps: payload.Steps, Interval: payload.Interval},
	}}, nil
}

func (e *Engine) onCronStart(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.CronStartPayload](ev)
	if !ok {
		return nil, nil
	}
	c, ok := proj.GetCron(payload.Name)
	if !ok || c.Status == models.CronRunning {
		return nil, nil
	}
	nextFire := e.Now().Add(c.Interval)
	return []models.PendingEvent{{
			Type:    models.EventCronStarted,
			Project: ev.Project,
			Payload: models.CronStartedPayload{Name: c.Name, NextFire: nextFire},
		}}, []models.Effect{{
			Kind:    models.EffectTimer,
			Project: ev.Project,
			Timer:   &models.TimerEffect{Name: c.Name, Interval: c.Interval, Once: false},
		}}
}

func (e *Engine) onCronStop(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.CronStopPayload](ev)
	if !ok {
		return nil, nil
	}
	c, ok := proj.GetCron(payload.Name)
	if !ok || c.Status != models.CronRunning {
		return nil, nil
	}
	return []models.PendingEvent{{
			Type:    models.EventCronStopped,
			Project: ev.Project,
			Payload: models.CronStoppedPayload{Name: c.Name},
		}}, []models.Effect{{
			Kind:        models.EffectTimerCancel,
			Project:     ev.Project,
			TimerCancel: &models.TimerCancelEffect{Name: c.Name},
		}}
}

// onCronOnce fires the cron's command immediately without disturbing its
// recurring schedule.
func (e *Engine) onCronOnce(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.CronOncePayload](ev)
	if !ok {
		return nil, nil
	}
	c, ok := proj.GetCron(payload.Name)
	if !ok {
		return nil, nil
	}
	return []models.PendingEvent{{
		Type:    models.EventCronFired,
		Project: ev.Project,
		Payload: models.CronFiredPayload{Name: c.Name, NextFire: c.NextFire},
	}}, nil
}

func (e *Engine) onCronFired(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.CronFiredPayload](ev)
	if !ok {
		return nil, nil
	}
	c, ok := proj.GetCron(payload.Name)
	if !ok {
		return nil, nil
	}
	return []models.PendingEvent{{
		Type:    models.EventCommandRun,
		Project: ev.Project,
		Payload: models.CommandRunPayload{Command: c.Command, Steps: c.Steps},
	}}, nil
}

// onTimerFired dispatches a fired named timer to the right follow-up:
// an agent's idle-grace expiry re-checks its phase before applying
// on_idle; a cron's interval tick re-arms NextFire and fires.
func (e *Engine) onTimerFired(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.TimerFiredPayload](ev)
	if !ok {
		return nil, nil
	}
	switch payload.Kind {
	case "idle_grace":
		return e.onIdleGraceExpired(ev.Project, payload.Name, proj)
	case "cron":
		if c, ok := proj.GetCron(payload.Name); ok && c.Status == models.CronRunning {
			return []models.PendingEvent{{
				Type:    models.EventCronFired,
				Project: ev.Project,
				Payload: models.CronFiredPayload{Name: c.Name, NextFire: e.Now().Add(c.Interval)},
			}}, nil
		}
	}
	return nil, nil
}

// onIdleGraceExpired re-checks the agent's phase once its idle-grace
// timer fires: still Idle means the step's on_idle policy applies; any
// other phase means activity (or a terminal transition) already
// cancelled the implicit escalation.
func (e *Engine) onIdleGraceExpired(project, agentID string, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	agent, ok := proj.GetAgent(agentID)
	if !ok || agent.Phase != models.AgentIdle {
		return nil, nil
	}
	job, step, ok := lookupStepAgent(proj, agent)
	if !ok || job.Terminal {
		return nil, nil
	}
	return e.dispatchEscalation(models.SourceIdle, job, step, step.Agent.OnIdle, agent)
}
