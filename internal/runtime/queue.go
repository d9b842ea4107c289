package runtime

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/state"
)

// onJobTerminalQueueSettle handles job:completed and job:cancelled: if the
// job was running a queue item, complete or dead-letter it. Cancellation
// never retries — the item is dead with "cancelled" as its terminal
// reason, since a cancelled job was never given a chance to succeed.
func (e *Engine) onJobTerminalQueueSettle(ev models.Event, proj *state.Projection, completed bool, cancelReason string) ([]models.PendingEvent, []models.Effect) {
	jobID := decodeTerminalJobID(ev)
	if jobID == "" {
		return nil, nil
	}
	item, ok := proj.ItemByJobID(jobID)
	if !ok {
		return nil, nil
	}
	if completed {
		return []models.PendingEvent{{
			Type:    models.EventQueueCompleted,
			Project: ev.Project,
			Payload: models.QueueCompletedPayload{ItemID: item.ID, Queue: item.Queue},
		}}, nil
	}
	return []models.PendingEvent{{
		Type:    models.EventQueueDead,
		Project: ev.Project,
		Payload: models.QueueDeadPayload{ItemID: item.ID, Queue: item.Queue, Reason: cancelReason},
	}}, nil
}

// onJobFailedQueueSettle handles job:failed for a job running a queue
// item: every failure raises queue:failed (attempt count, backoff) and,
// once that attempt reaches the queue's MaxAttempts, a queue:dead
// follows in the same batch — the item's last attempt is always marked
// failed before it is dead-lettered, not silently skipped.
func (e *Engine) onJobFailedQueueSettle(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.JobFailedPayload](ev)
	if !ok {
		return nil, nil
	}
	item, ok := proj.ItemByJobID(payload.JobID)
	if !ok {
		return nil, nil
	}

	def, _ := proj.GetQueueDef(item.Queue)
	maxAttempts := 1
	if def != nil && def.MaxAttempts > 0 {
		maxAttempts = def.MaxAttempts
	}
	attempt := item.Attempts + 1
	delay := queueBackoffDelay(def, attempt)
	events := []models.PendingEvent{{
		Type:    models.EventQueueFailed,
		Project: ev.Project,
		Payload: models.QueueFailedPayload{ItemID: item.ID, Queue: item.Queue, Reason: payload.Reason, NextRetryAt: e.Now().Add(delay)},
	}}
	if attempt >= maxAttempts {
		events = append(events, models.PendingEvent{
			Type:    models.EventQueueDead,
			Project: ev.Project,
			Payload: models.QueueDeadPayload{ItemID: item.ID, Queue: item.Queue, Reason: payload.Reason},
		})
	}
	return events, nil
}

func decodeTerminalJobID(ev models.Event) string {
	switch ev.Type {
	case models.EventJobCompleted:
		v, _ := decode[models.JobCompletedPayload](ev)
		return v.JobID
	case models.EventJobCancelled:
		v, _ := decode[models.JobCancelledPayload](ev)
		return v.JobID
	}
	return ""
}

// queueBackoffDelay computes the delay before retry attempt n using an
// exponential-backoff-with-jitter shape, used to schedule NextRetryAt
// instead of sleeping in-process.
func queueBackoffDelay(def *models.QueueDef, attempt int) time.Duration {
	base := 2 * time.Second
	capDur := 2 * time.Minute
	if def != nil {
		if def.BackoffBase > 0 {
			base = def.BackoffBase
		}
		if def.BackoffCap > 0 {
			capDur = def.BackoffCap
		}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = capDur
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.Reset()

	delay := base
	for i := 0; i < attempt; i++ {
		next := b.NextBackOff()
		if next == backoff.Stop {
			return capDur
		}
		delay = next
	}
	return delay
}

func (e *Engine) onQueueDefine(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.QueueDefinePayload](ev)
	if !ok {
		return nil, nil
	}
	return []models.PendingEvent{{
		Type:    models.EventQueueDefined,
		Project: ev.Project,
		Payload: models.QueueDefinedPayload{
			Name: payload.Name, External: payload.External,
			ListCmd: payload.ListCmd, TakeCmd: payload.TakeCmd,
			Variables: payload.Variables, Defaults: payload.Defaults,
			MaxAttempts: payload.MaxAttempts, BackoffBase: payload.BackoffBase, BackoffCap: payload.BackoffCap,
		},
	}}, nil
}

func (e *Engine) onWorkerStart(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.WorkerStartPayload](ev)
	if !ok {
		return nil, nil
	}
	return []models.PendingEvent{{
		Type:    models.EventWorkerStarted,
		Project: ev.Project,
		Payload: models.WorkerStartedPayload{
			Name: payload.Name, Queue: payload.Queue, Handler: payload.Handler,
			HandlerSteps: payload.HandlerSteps, Concurrency: payload.Concurrency,
		},
	}}, nil
}

func (e *Engine) onWorkerStop(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.WorkerStopPayload](ev)
	if !ok {
		return nil, nil
	}
	return []models.PendingEvent{{Type: models.EventWorkerStopped, Project: ev.Project, Payload: models.WorkerStoppedPayload{Name: payload.Name}}}, nil
}

func (e *Engine) onQueuePush(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.QueuePushPayload](ev)
	if !ok {
		return nil, nil
	}
	return []models.PendingEvent{{
		Type:    models.EventQueuePushed,
		Project: ev.Project,
		Payload: models.QueuePushedPayload{ItemID: models.NewID("item"), Queue: payload.Queue, Payload: payload.Payload},
	}}, nil
}

// onQueuePushed wakes every worker bound to the queue. Pushing doesn't
// deduplicate against an identical pending item — each push mints a new
// item id — so a duplicate enqueue produces a duplicate unit of work.
func (e *Engine) onQueuePushed(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.QueuePushedPayload](ev)
	if !ok {
		return nil, nil
	}
	return wakeEvents(proj, payload.Queue), nil
}

func wakeEvents(proj *state.Projection, queue string) []models.PendingEvent {
	workers := proj.WorkersForQueue(queue)
	events := make([]models.PendingEvent, 0, len(workers))
	for _, w := range workers {
		if w.Status != models.WorkerRunning {
			continue
		}
		events = append(events, models.PendingEvent{Type: models.EventWorkerWake, Payload: models.WorkerWakePayload{Name: w.Name}})
	}
	return events
}

// onWorkerWake takes the oldest due item on the worker's queue, if the
// worker has a spare in-flight slot, and materializes it into a job run
// via command:run using the worker's pre-resolved handler steps.
func (e *Engine) onWorkerWake(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.WorkerWakePayload](ev)
	if !ok {
		return nil, nil
	}
	w, ok := proj.GetWorker(payload.Name)
	if !ok || w.Status != models.WorkerRunning || len(w.InFlight) >= w.Concurrency {
		return nil, nil
	}
	item := proj.NextPending(w.Queue, e.Now())
	if item == nil {
		return nil, nil
	}

	jobID := models.NewID("job")
	return []models.PendingEvent{
		{
			Type:    models.EventQueueTaken,
			Project: ev.Project,
			Payload: models.QueueTakenPayload{ItemID: item.ID, Queue: w.Queue, Worker: w.Name, JobID: jobID},
		},
		{
			Type:    models.EventCommandRun,
			Project: ev.Project,
			Payload: models.CommandRunPayload{JobID: jobID, Command: w.Handler, Steps: w.HandlerSteps, Variables: stringifyPayload(item.Payload)},
		},
	}, nil
}

func stringifyPayload(payload map[string]interface{}) map[string]string {
	if payload == nil {
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = jsonScalar(v)
	}
	return out
}

func jsonScalar(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}

// onQueueSettled wakes a queue's workers once an item completes, fails,
// or dead-letters, so the freed slot is reconsidered immediately rather
// than waiting for the next external push.
func (e *Engine) onQueueSettled(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	var queue string
	switch ev.Type {
	case models.EventQueueCompleted:
		v, ok := decode[models.QueueCompletedPayload](ev)
		if !ok {
			return nil, nil
		}
		queue = v.Queue
	case models.EventQueueFailed:
		v, ok := decode[models.QueueFailedPayload](ev)
		if !ok {
			return nil, nil
		}
		queue = v.Queue
	case models.EventQueueDead:
		v, ok := decode[models.QueueDeadPayload](ev)
		if !ok {
			return nil, nil
		}
		queue = v.Queue
	}
	return wakeEvents(proj, queue), nil
}

func (e *Engine) onQueueDrop(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.QueueDropPayload](ev)
	if !ok {
		return nil, nil
	}
	if _, ok := proj.GetQueueItem(payload.ItemID); !ok {
		return nil, nil
	}
	return []models.PendingEvent{{Type: models.EventQueueDropped, Project: ev.Project, Payload: models.QueueDroppedPayload{ItemID: payload.ItemID, Queue: payload.Queue}}}, nil
}

func (e *Engine) onQueueDrain(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.QueueDrainPayload](ev)
	if !ok {
		return nil, nil
	}
	var events []models.PendingEvent
	for _, it := range proj.ListQueueItems(payload.Queue) {
		if it.Status == models.QueueItemPending {
			events = append(events, models.PendingEvent{Type: models.EventQueueDropped, Project: ev.Project, Payload: models.QueueDroppedPayload{ItemID: it.ID, Queue: it.Queue}})
		}
	}
	return events, nil
}

func (e *Engine) onQueueRetry(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	payload, ok := decode[models.QueueRetryPayload](ev)
	if !ok {
		return nil, nil
	}
	item, ok := proj.GetQueueItem(payload.ItemID)
	if !ok || (item.Status != models.QueueItemFailed && item.Status != models.QueueItemDead) {
		return nil, nil
	}
	events := []models.PendingEvent{{Type: models.EventQueueRetried, Project: ev.Project, Payload: models.QueueRetriedPayload{ItemID: payload.ItemID, Queue: payload.Queue}}}
	return append(events, wakeEvents(proj, payload.Queue)...), nil
}
