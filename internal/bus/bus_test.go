package bus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/eventlog"
	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/state"
)

type fakeReactor struct {
	calls []string
	react func(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect)
}

func (f *fakeReactor) React(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
	f.calls = append(f.calls, ev.Type)
	if f.react != nil {
		return f.react(ev, proj)
	}
	return nil, nil
}

type fakeDispatcher struct {
	dispatched []models.Effect
}

func (f *fakeDispatcher) Dispatch(eff models.Effect) {
	f.dispatched = append(f.dispatched, eff)
}

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	dir := t.TempDir()
	layout := config.NewLayout(dir)
	require.NoError(t, layout.EnsureDirs())
	log, err := eventlog.Open(layout)
	require.NoError(t, err)
	log.SetCommitWindow(0)
	t.Cleanup(func() { log.Close() })
	return New(log, state.New())
}

func TestPublish_AppliesBeforeReacting(t *testing.T) {
	b := newTestBus(t)
	var sawJobDuringReact bool
	reactor := &fakeReactor{react: func(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
		_, sawJobDuringReact = proj.GetJob("job_1")
		return nil, nil
	}}
	b.Reactor = reactor

	_, err := b.Publish(models.EventJobCreated, "demo", models.JobCreatedPayload{
		JobID: "job_1", Steps: []models.StepDef{{Name: "only"}},
	})
	require.NoError(t, err)
	require.True(t, sawJobDuringReact, "state must be applied before React is called")
}

func TestPublish_FollowOnEventsAreAppendedAndApplied(t *testing.T) {
	b := newTestBus(t)
	reactor := &fakeReactor{react: func(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
		if ev.Type == models.EventJobCreated {
			return []models.PendingEvent{{
				Type: models.EventStepStarted, Project: "demo",
				Payload: models.StepStartedPayload{JobID: "job_1", StepIndex: 0},
			}}, nil
		}
		return nil, nil
	}}
	b.Reactor = reactor

	_, err := b.Publish(models.EventJobCreated, "demo", models.JobCreatedPayload{
		JobID: "job_1", Steps: []models.StepDef{{Name: "only"}},
	})
	require.NoError(t, err)

	job, ok := b.State.GetJob("job_1")
	require.True(t, ok)
	require.Equal(t, models.StepRunning, job.StepStatus[0])
	require.Equal(t, []string{models.EventJobCreated, models.EventStepStarted}, reactor.calls)
}

func TestPublish_DispatchesEffects(t *testing.T) {
	b := newTestBus(t)
	dispatcher := &fakeDispatcher{}
	b.Dispatch = dispatcher
	b.Reactor = &fakeReactor{react: func(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
		return nil, []models.Effect{{Kind: models.EffectShell, Shell: &models.ShellEffect{Command: "echo hi"}}}
	}}

	_, err := b.Publish(models.EventStepStarted, "demo", models.StepStartedPayload{JobID: "job_1", StepIndex: 0})
	require.NoError(t, err)
	require.Len(t, dispatcher.dispatched, 1)
	require.Equal(t, models.EffectShell, dispatcher.dispatched[0].Kind)
}

func TestPublish_EventIsDurableBeforeReact(t *testing.T) {
	b := newTestBus(t)
	var seqDuringReact int64
	b.Reactor = &fakeReactor{react: func(ev models.Event, proj *state.Projection) ([]models.PendingEvent, []models.Effect) {
		seqDuringReact = ev.Seq
		return nil, nil
	}}

	ev, err := b.Publish(models.EventJobCreated, "demo", models.JobCreatedPayload{JobID: "job_1"})
	require.NoError(t, err)
	require.Equal(t, ev.Seq, seqDuringReact)
	require.Equal(t, int64(1), ev.Seq)
}
