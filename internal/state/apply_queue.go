package state

import (
	"time"

	"github.com/sidelinehq/crewd/internal/models"
)

func (p *Projection) applyWorkerStarted(ev models.Event) {
	payload, ok := decode[models.WorkerStartedPayload](ev)
	if !ok {
		return
	}
	w := p.Workers[payload.Name]
	if w == nil {
		w = &models.Worker{
			Name:         payload.Name,
			Queue:        payload.Queue,
			Handler:      payload.Handler,
			HandlerSteps: payload.HandlerSteps,
			Concurrency:  payload.Concurrency,
			CreatedAt:    ev.Timestamp,
		}
		p.Workers[payload.Name] = w
	}
	w.Status = models.WorkerRunning
}

func (p *Projection) applyWorkerStopped(ev models.Event) {
	payload, ok := decode[models.WorkerStoppedPayload](ev)
	if !ok {
		return
	}
	w := p.Workers[payload.Name]
	if w == nil {
		return
	}
	w.Status = models.WorkerStopped
	// Stopping a worker does not cancel in-flight jobs — InFlight is left
	// untouched.
}

func (p *Projection) applyQueueDefined(ev models.Event) {
	payload, ok := decode[models.QueueDefinedPayload](ev)
	if !ok {
		return
	}
	p.QueueDefs[payload.Name] = &models.QueueDef{
		Name: payload.Name, External: payload.External,
		ListCmd: payload.ListCmd, TakeCmd: payload.TakeCmd,
		Variables: payload.Variables, Defaults: payload.Defaults,
		MaxAttempts: payload.MaxAttempts, BackoffBase: payload.BackoffBase, BackoffCap: payload.BackoffCap,
	}
}

func (p *Projection) applyQueuePushed(ev models.Event) {
	payload, ok := decode[models.QueuePushedPayload](ev)
	if !ok {
		return
	}
	if _, exists := p.QueueItems[payload.ItemID]; exists {
		return
	}
	p.QueueItems[payload.ItemID] = &models.QueueItem{
		ID:        payload.ItemID,
		Queue:     payload.Queue,
		Payload:   payload.Payload,
		Status:    models.QueueItemPending,
		CreatedAt: ev.Timestamp,
		UpdatedAt: ev.Timestamp,
	}
}

func (p *Projection) applyQueueTaken(ev models.Event) {
	payload, ok := decode[models.QueueTakenPayload](ev)
	if !ok {
		return
	}
	item := p.QueueItems[payload.ItemID]
	if item == nil || (item.Status != models.QueueItemPending && item.Status != models.QueueItemFailed) {
		return
	}
	item.Status = models.QueueItemTaken
	item.JobID = payload.JobID
	item.UpdatedAt = ev.Timestamp
	if w := p.Workers[payload.Worker]; w != nil {
		w.InFlight = append(w.InFlight, payload.JobID)
	}
}

func (p *Projection) applyQueueCompleted(ev models.Event) {
	payload, ok := decode[models.QueueCompletedPayload](ev)
	if !ok {
		return
	}
	item := p.QueueItems[payload.ItemID]
	if item == nil {
		return
	}
	item.Status = models.QueueItemCompleted
	item.UpdatedAt = ev.Timestamp
	releaseInFlight(p, payload.Queue, payload.ItemID)
}

func (p *Projection) applyQueueFailed(ev models.Event) {
	payload, ok := decode[models.QueueFailedPayload](ev)
	if !ok {
		return
	}
	item := p.QueueItems[payload.ItemID]
	if item == nil {
		return
	}
	item.Status = models.QueueItemFailed
	item.Attempts++
	item.NextRetryAt = payload.NextRetryAt
	item.LastError = payload.Reason
	item.UpdatedAt = ev.Timestamp
	releaseInFlight(p, payload.Queue, payload.ItemID)
}

// applyQueueDead marks the item permanently dead-lettered. On the
// job-failure path this always lands right after queue:failed already
// counted the attempt, so it leaves Attempts untouched here; the
// cancellation path is the one case that reaches Dead directly.
func (p *Projection) applyQueueDead(ev models.Event) {
	payload, ok := decode[models.QueueDeadPayload](ev)
	if !ok {
		return
	}
	item := p.QueueItems[payload.ItemID]
	if item == nil {
		return
	}
	item.Status = models.QueueItemDead
	item.LastError = payload.Reason
	item.UpdatedAt = ev.Timestamp
	releaseInFlight(p, payload.Queue, payload.ItemID)
}

func (p *Projection) applyQueueDropped(ev models.Event) {
	payload, ok := decode[models.QueueDroppedPayload](ev)
	if !ok {
		return
	}
	delete(p.QueueItems, payload.ItemID)
}

func (p *Projection) applyQueueRetried(ev models.Event) {
	payload, ok := decode[models.QueueRetriedPayload](ev)
	if !ok {
		return
	}
	item := p.QueueItems[payload.ItemID]
	if item == nil {
		return
	}
	item.Status = models.QueueItemPending
	item.Attempts = 0
	item.NextRetryAt = time.Time{}
	item.LastError = ""
	item.UpdatedAt = ev.Timestamp
}

// releaseInFlight removes jobID-agnostic bookkeeping: find the worker
// attached to queue and drop one in-flight slot. Workers track job ids,
// not item ids, so this removes the oldest in-flight entry — fine, since
// concurrency accounting only needs the count, and per-job identity is
// already resolvable via the job itself.
func releaseInFlight(p *Projection, queue, itemID string) {
	for _, w := range p.Workers {
		if w.Queue != queue || len(w.InFlight) == 0 {
			continue
		}
		w.InFlight = w.InFlight[1:]
		return
	}
}
