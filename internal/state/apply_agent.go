package state

import (
	"github.com/sidelinehq/crewd/internal/models"
)

func (p *Projection) applyAgentSpawned(ev models.Event) {
	payload, ok := decode[models.AgentSpawnedPayload](ev)
	if !ok {
		return
	}
	if _, exists := p.Agents[payload.AgentID]; exists {
		return
	}
	p.Agents[payload.AgentID] = &models.Agent{
		ID:             payload.AgentID,
		OwnerKind:      payload.OwnerKind,
		JobID:          payload.JobID,
		StepName:       payload.StepName,
		Definition:     payload.Definition,
		Phase:          models.AgentSpawning,
		SocketPath:     payload.SocketPath,
		SessionLogPath: payload.SessionLogPath,
		PID:            payload.PID,
		LastActivityAt: ev.Timestamp,
		CreatedAt:      ev.Timestamp,
	}
}

func (p *Projection) applyAgentActivity(ev models.Event, phase models.AgentPhase) {
	var agentID string
	if phase == models.AgentWorking {
		v, ok := decode[models.AgentWorkingPayload](ev)
		if !ok {
			return
		}
		agentID = v.AgentID
	} else {
		v, ok := decode[models.AgentIdlePayload](ev)
		if !ok {
			return
		}
		agentID = v.AgentID
	}
	agent := p.Agents[agentID]
	if agent == nil || agent.Phase.IsTerminal() {
		return
	}
	agent.Phase = phase
	if phase == models.AgentWorking {
		agent.LastActivityAt = ev.Timestamp
		agent.IdleSince = nil
	} else {
		t := ev.Timestamp
		agent.IdleSince = &t
	}
}

func (p *Projection) applyAgentPrompt(ev models.Event) {
	payload, ok := decode[models.AgentPromptPayload](ev)
	if !ok {
		return
	}
	agent := p.Agents[payload.AgentID]
	if agent == nil || agent.Phase.IsTerminal() {
		return
	}
	agent.Phase = models.AgentPrompt
	agent.PromptKind = payload.Kind
}

func (p *Projection) applyAgentTerminal(ev models.Event, phase models.AgentPhase) {
	var agentID string
	if phase == models.AgentExited {
		v, ok := decode[models.AgentExitedPayload](ev)
		if !ok {
			return
		}
		agentID = v.AgentID
	} else {
		v, ok := decode[models.AgentGonePayload](ev)
		if !ok {
			return
		}
		agentID = v.AgentID
	}
	agent := p.Agents[agentID]
	if agent == nil || agent.Phase.IsTerminal() {
		return
	}
	agent.Phase = phase
	agent.DecisionID = ""
}

func (p *Projection) applyDecisionCreated(ev models.Event) {
	payload, ok := decode[models.DecisionCreatedPayload](ev)
	if !ok {
		return
	}
	if _, exists := p.Decisions[payload.DecisionID]; exists {
		return
	}
	p.Decisions[payload.DecisionID] = &models.Decision{
		ID:         payload.DecisionID,
		JobID:      payload.JobID,
		StepName:   payload.StepName,
		AgentID:    payload.AgentID,
		Source:     payload.Source,
		GateSource: payload.GateSource,
		Context:    payload.Context,
		Options:    payload.Options,
		CreatedAt:  ev.Timestamp,
	}
	if payload.AgentID != "" {
		if agent := p.Agents[payload.AgentID]; agent != nil {
			agent.DecisionID = payload.DecisionID
		}
	}
}

func (p *Projection) applyDecisionAnswered(ev models.Event) {
	payload, ok := decode[models.DecisionResolvedPayload](ev)
	if !ok {
		return
	}
	d := p.Decisions[payload.DecisionID]
	if d == nil || d.IsResolved() {
		return
	}
	d.Resolution = payload.OptionID
	d.Message = payload.Message
	t := ev.Timestamp
	d.ResolvedAt = &t

	if d.AgentID != "" {
		if agent := p.Agents[d.AgentID]; agent != nil && agent.DecisionID == d.ID {
			agent.DecisionID = ""
		}
	}
	if d.JobID != "" && d.StepName != "" {
		if job := p.Jobs[d.JobID]; job != nil && job.WaitingOn == d.ID {
			job.WaitingOn = ""
		}
	}
}

// applyWorkspaceRequested creates the workspace row in Creating status the
// moment provisioning is requested, before the effect has even started —
// so a provisioning failure has a row to mark Failed against.
func (p *Projection) applyWorkspaceRequested(ev models.Event) {
	payload, ok := decode[models.WorkspaceRequestedPayload](ev)
	if !ok {
		return
	}
	if _, exists := p.Workspaces[payload.WorkspaceID]; exists {
		return
	}
	p.Workspaces[payload.WorkspaceID] = &models.Workspace{
		ID:        payload.WorkspaceID,
		JobID:     payload.JobID,
		Status:    models.WorkspaceCreating,
		CreatedAt: ev.Timestamp,
		UpdatedAt: ev.Timestamp,
	}
	if job := p.Jobs[payload.JobID]; job != nil {
		job.WorkspaceID = payload.WorkspaceID
	}
}

func (p *Projection) applyWorkspaceCreated(ev models.Event) {
	payload, ok := decode[models.WorkspaceCreatedPayload](ev)
	if !ok {
		return
	}
	ws := p.Workspaces[payload.WorkspaceID]
	if ws == nil {
		return
	}
	ws.Path = payload.Path
	ws.Status = models.WorkspaceReady
	ws.UpdatedAt = ev.Timestamp
}

func (p *Projection) applyWorkspaceStatus(ev models.Event, status models.WorkspaceStatus) {
	var workspaceID string
	switch status {
	case models.WorkspaceReady:
		v, ok := decode[models.WorkspaceReadyPayload](ev)
		if !ok {
			return
		}
		workspaceID = v.WorkspaceID
	case models.WorkspaceFailed:
		v, ok := decode[models.WorkspaceFailedPayload](ev)
		if !ok {
			return
		}
		workspaceID = v.WorkspaceID
	case models.WorkspaceDropped:
		v, ok := decode[models.WorkspaceDroppedPayload](ev)
		if !ok {
			return
		}
		workspaceID = v.WorkspaceID
	}
	ws := p.Workspaces[workspaceID]
	if ws == nil {
		return
	}
	ws.Status = status
	ws.UpdatedAt = ev.Timestamp
}
