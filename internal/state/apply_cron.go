package state

import (
	"github.com/sidelinehq/crewd/internal/models"
)

func (p *Projection) applyCronCreated(ev models.Event) {
	payload, ok := decode[models.CronCreatedPayload](ev)
	if !ok {
		return
	}
	if _, exists := p.Crons[payload.Name]; exists {
		return
	}
	p.Crons[payload.Name] = &models.Cron{
		Name:      payload.Name,
		Command:   payload.Command,
		Steps:     payload.Steps,
		Interval:  payload.Interval,
		Status:    models.CronStopped,
		CreatedAt: ev.Timestamp,
	}
}

func (p *Projection) applyCronStarted(ev models.Event) {
	payload, ok := decode[models.CronStartedPayload](ev)
	if !ok {
		return
	}
	c := p.Crons[payload.Name]
	if c == nil {
		return
	}
	c.Status = models.CronRunning
	c.NextFire = payload.NextFire
}

func (p *Projection) applyCronStopped(ev models.Event) {
	payload, ok := decode[models.CronStoppedPayload](ev)
	if !ok {
		return
	}
	c := p.Crons[payload.Name]
	if c == nil {
		return
	}
	c.Status = models.CronStopped
}

func (p *Projection) applyCronFired(ev models.Event) {
	payload, ok := decode[models.CronFiredPayload](ev)
	if !ok {
		return
	}
	c := p.Crons[payload.Name]
	if c == nil {
		return
	}
	c.NextFire = payload.NextFire
}
