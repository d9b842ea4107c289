package effects_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sidelinehq/crewd/internal/bus"
	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/effects"
	"github.com/sidelinehq/crewd/internal/eventlog"
	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/runtime"
	"github.com/sidelinehq/crewd/internal/state"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []models.Event
	onPublish chan struct{}
}

func (f *fakePublisher) Publish(eventType, project string, payload interface{}) (models.Event, error) {
	f.mu.Lock()
	ev := models.Event{Type: eventType, Project: project, Payload: mustJSON(payload)}
	f.published = append(f.published, ev)
	f.mu.Unlock()
	if f.onPublish != nil {
		f.onPublish <- struct{}{}
	}
	return ev, nil
}

func (f *fakePublisher) last() models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[len(f.published)-1]
}

func mustJSON(v interface{}) []byte {
	if v == nil {
		return nil
	}
	b, _ := json.Marshal(v)
	return b
}

func TestRunShell_SuccessPublishesZeroExit(t *testing.T) {
	pub := &fakePublisher{onPublish: make(chan struct{}, 1)}
	d := effects.New(pub)

	d.Dispatch(models.Effect{
		Kind:    models.EffectShell,
		Project: "demo",
		Shell:   &models.ShellEffect{JobID: "job_1", StepIndex: 0, Command: "exit 0"},
	})

	select {
	case <-pub.onPublish:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shell:exited")
	}
	ev := pub.last()
	require.Equal(t, models.EventShellExited, ev.Type)
}

func TestRunShell_NonZeroExitReportsCode(t *testing.T) {
	pub := &fakePublisher{onPublish: make(chan struct{}, 1)}
	d := effects.New(pub)

	d.Dispatch(models.Effect{
		Kind:    models.EffectShell,
		Project: "demo",
		Shell:   &models.ShellEffect{JobID: "job_1", StepIndex: 0, Command: "exit 7"},
	})

	select {
	case <-pub.onPublish:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shell:exited")
	}
	var payload models.ShellExitedPayload
	require.NoError(t, json.Unmarshal(pub.last().Payload, &payload))
	require.Equal(t, 7, payload.Code)
}

func TestRunShell_InvalidCommandNeverExecsAndReportsSyntheticFailure(t *testing.T) {
	pub := &fakePublisher{onPublish: make(chan struct{}, 1)}
	d := effects.New(pub)

	d.Dispatch(models.Effect{
		Kind:    models.EffectShell,
		Project: "demo",
		Shell:   &models.ShellEffect{JobID: "job_1", StepIndex: 0, Command: "touch /tmp/marker\x00"},
	})

	select {
	case <-pub.onPublish:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shell:exited")
	}
	var payload models.ShellExitedPayload
	require.NoError(t, json.Unmarshal(pub.last().Payload, &payload))
	require.Equal(t, -1, payload.Code)
	require.Contains(t, payload.Output, "null byte")
}

func TestTimer_OnceFiresThenCleansUp(t *testing.T) {
	pub := &fakePublisher{onPublish: make(chan struct{}, 1)}
	d := effects.New(pub)

	d.Dispatch(models.Effect{
		Kind:    models.EffectTimer,
		Project: "demo",
		Timer:   &models.TimerEffect{Name: "agent_1", Interval: 20 * time.Millisecond, Once: true},
	})

	select {
	case <-pub.onPublish:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timer fire")
	}
	var payload models.TimerFiredPayload
	require.NoError(t, json.Unmarshal(pub.last().Payload, &payload))
	require.Equal(t, "idle_grace", payload.Kind)
	require.Equal(t, "agent_1", payload.Name)
}

func TestTimer_CancelPreventsFire(t *testing.T) {
	pub := &fakePublisher{onPublish: make(chan struct{}, 1)}
	d := effects.New(pub)

	d.Dispatch(models.Effect{
		Kind:    models.EffectTimer,
		Project: "demo",
		Timer:   &models.TimerEffect{Name: "cronjob", Interval: 50 * time.Millisecond, Once: false},
	})
	d.Dispatch(models.Effect{
		Kind:        models.EffectTimerCancel,
		Project:     "demo",
		TimerCancel: &models.TimerCancelEffect{Name: "cronjob"},
	})

	select {
	case <-pub.onPublish:
		t.Fatal("timer fired after being cancelled")
	case <-time.After(150 * time.Millisecond):
	}
}

type failingWorkspace struct{}

func (failingWorkspace) Create(ctx context.Context, jobID, workspaceID string) (string, error) {
	return "", errors.New("disk full")
}
func (failingWorkspace) Drop(ctx context.Context, workspaceID string) error { return nil }

// TestWorkspaceCreate_FailurePropagatesToJobFailed exercises the full
// bus -> runtime -> dispatcher -> bus round trip: a workspace:request
// whose provisioner fails must reach job:failed, which requires the
// runtime's minted workspace id to survive from workspace:requested
// through to workspace:failed.
func TestWorkspaceCreate_FailurePropagatesToJobFailed(t *testing.T) {
	dir := t.TempDir()
	layout := config.NewLayout(dir)
	require.NoError(t, layout.EnsureDirs())
	log, err := eventlog.Open(layout)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	log.SetCommitWindow(0)

	b := bus.New(log, state.New())
	eng := runtime.New()
	b.Reactor = eng
	d := effects.New(b)
	d.Workspace = failingWorkspace{}
	b.Dispatch = d

	_, err = b.Publish(models.EventCommandRun, "demo", models.CommandRunPayload{
		Command: "needs-work",
		Steps:   []models.StepDef{{Name: "only", Kind: models.StepKindShell, Command: "true", NeedsWork: true}},
	})
	require.NoError(t, err)

	job := b.State.ListJobs("demo")[0]
	require.Eventually(t, func() bool {
		return job.Terminal
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "failed", job.TermReason)
}
