// Package bus implements the single serialization point between the
// write-ahead log and the materialized projection: Publish runs
// synchronously under one mutex, appends the event to the log, applies
// it to state, then hands the now-durable event to the runtime for
// reaction. Events the runtime returns in response are queued and
// drained in a loop by the same Publish call, each appended and applied
// in turn, so ordering of persistence always equals ordering of
// application.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sidelinehq/crewd/internal/eventlog"
	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/state"
)

// Reactor is the pure scheduling function: given the state just after
// applying ev, it returns follow-on events to publish and effects to run.
// internal/runtime.Engine implements this.
type Reactor interface {
	React(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect)
}

// Dispatcher executes effects asynchronously; it never mutates state and
// reports completion only by publishing new events back onto the bus.
// internal/effects.Dispatcher implements this.
type Dispatcher interface {
	Dispatch(eff models.Effect)
}

// Metrics receives timing/depth observations from Publish. Implemented
// by internal/daemon's Prometheus recorder; kept narrow so this package
// never imports a metrics library itself.
type Metrics interface {
	ObserveAppend(d time.Duration)
}

// Bus owns the single Log handle and the single Projection, and is the
// only thing that calls Log.Append or Projection.Apply.
type Bus struct {
	mu       sync.Mutex
	Log      *eventlog.Log
	State    *state.Projection
	Reactor  Reactor
	Dispatch Dispatcher

	// Metrics, if set, receives lightweight instrumentation hooks from
	// Publish. Nil-safe — internal/daemon's Prometheus recorder is the
	// only implementation; every other caller, including every test in
	// this package, leaves it unset.
	Metrics Metrics

	// draining guards re-entrant Publish calls made from within React
	// (e.g. the runtime publishing job:created while handling
	// command:run): rather than recursing, they're queued and drained
	// by the same goroutine that is already inside Publish.
	draining bool
	queued   []models.PendingEvent
}

// New returns a Bus with no Reactor/Dispatcher wired yet; set them via
// the exported fields before the first Publish (internal/daemon does
// this once at startup, after constructing the engine and dispatcher,
// which themselves hold no reference back to the bus other than through
// these two interfaces).
func New(log *eventlog.Log, proj *state.Projection) *Bus {
	return &Bus{Log: log, State: proj}
}

// Publish appends eventType/payload to the log, applies it to state, then
// reacts to it. The response to the original caller (an IPC handler) must
// not be sent until this returns, since durability-before-acknowledgement
// requires the append to have flushed — which it has, because Log.Append
// blocks until fsync.
func (b *Bus) Publish(eventType, project string, payload interface{}) (models.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.draining {
		// Re-entrant publish from within React: queue it, the outer
		// Publish call's drain loop will pick it up. There is no
		// synchronous sequence number to hand back here because the
		// event hasn't been appended yet; callers that need it
		// (the runtime never does — it only fires and forgets
		// follow-on events) must not rely on re-entrant Publish
		// returning a real event.
		b.queued = append(b.queued, models.PendingEvent{Type: eventType, Project: project, Payload: payload})
		return models.Event{}, nil
	}

	ev, err := b.appendAndApply(eventType, project, payload)
	if err != nil {
		return ev, err
	}

	b.draining = true
	b.react(ev)
	for len(b.queued) > 0 {
		next := b.queued[0]
		b.queued = b.queued[1:]
		followEv, ferr := b.appendAndApply(next.Type, next.Project, next.Payload)
		if ferr != nil {
			slog.Error("bus: failed to append follow-on event", "type", next.Type, "error", ferr.Error())
			continue
		}
		b.react(followEv)
	}
	b.draining = false

	return ev, nil
}

func (b *Bus) appendAndApply(eventType, project string, payload interface{}) (models.Event, error) {
	start := time.Now()
	ev, err := b.Log.Append(eventType, project, payload)
	if b.Metrics != nil {
		b.Metrics.ObserveAppend(time.Since(start))
	}
	if err != nil {
		return ev, fmt.Errorf("bus: append %s: %w", eventType, err)
	}
	b.State.Apply(ev)
	return ev, nil
}

// QueueDepth returns the number of follow-on events currently queued for
// the in-progress drain (0 outside of one). Exported for
// internal/daemon's metrics gauge; safe to call from any goroutine.
func (b *Bus) QueueDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queued)
}

func (b *Bus) react(ev models.Event) {
	if b.Reactor == nil {
		return
	}
	events, effects := b.Reactor.React(ev, b.State)
	b.queued = append(b.queued, events...)
	if b.Dispatch == nil {
		return
	}
	for _, eff := range effects {
		b.Dispatch.Dispatch(eff)
	}
}
