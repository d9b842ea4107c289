package runtime_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sidelinehq/crewd/internal/bus"
	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/eventlog"
	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/runtime"
	"github.com/sidelinehq/crewd/internal/state"
)

type fakeDispatcher struct {
	effects []models.Effect
}

func (f *fakeDispatcher) Dispatch(eff models.Effect) { f.effects = append(f.effects, eff) }

func (f *fakeDispatcher) take() []models.Effect {
	out := f.effects
	f.effects = nil
	return out
}

func newHarness(t *testing.T) (*bus.Bus, *fakeDispatcher) {
	t.Helper()
	b, d, _ := newHarnessWithEngine(t)
	return b, d
}

func newHarnessWithEngine(t *testing.T) (*bus.Bus, *fakeDispatcher, *runtime.Engine) {
	t.Helper()
	dir := t.TempDir()
	layout := config.NewLayout(dir)
	require.NoError(t, layout.EnsureDirs())
	log, err := eventlog.Open(layout)
	require.NoError(t, err)
	log.SetCommitWindow(0)
	t.Cleanup(func() { log.Close() })

	b := bus.New(log, state.New())
	eng := runtime.New()
	eng.Now = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	b.Reactor = eng
	d := &fakeDispatcher{}
	b.Dispatch = d
	return b, d, eng
}

func TestShellPipeline_RunsStepsInOrderThenCompletes(t *testing.T) {
	b, d := newHarness(t)

	_, err := b.Publish(models.EventCommandRun, "demo", models.CommandRunPayload{
		Command: "build",
		Steps: []models.StepDef{
			{Name: "compile", Kind: models.StepKindShell, Command: "go build"},
			{Name: "test", Kind: models.StepKindShell, Command: "go test"},
		},
	})
	require.NoError(t, err)

	jobs := b.State.ListJobs("demo")
	require.Len(t, jobs, 1)
	job := jobs[0]

	effects := d.take()
	require.Len(t, effects, 1)
	require.Equal(t, models.EffectShell, effects[0].Kind)
	require.Equal(t, 0, effects[0].Shell.StepIndex)

	_, err = b.Publish(models.EventShellExited, "demo", models.ShellExitedPayload{JobID: job.ID, StepIndex: 0, Code: 0})
	require.NoError(t, err)
	require.Equal(t, models.StepCompleted, job.StepStatus[0])

	effects = d.take()
	require.Len(t, effects, 1)
	require.Equal(t, 1, effects[0].Shell.StepIndex)

	_, err = b.Publish(models.EventShellExited, "demo", models.ShellExitedPayload{JobID: job.ID, StepIndex: 1, Code: 0})
	require.NoError(t, err)

	require.True(t, job.Terminal)
	require.Equal(t, "completed", job.TermReason)
}

func TestStep_OnFailRetriesBeforeFailing(t *testing.T) {
	b, d := newHarness(t)

	_, err := b.Publish(models.EventCommandRun, "demo", models.CommandRunPayload{
		Command: "flaky",
		Steps: []models.StepDef{
			{Name: "run", Kind: models.StepKindShell, Command: "flaky.sh", Retry: models.RetryPolicy{Attempts: 1}},
		},
	})
	require.NoError(t, err)
	job := b.State.ListJobs("demo")[0]
	d.take()

	_, err = b.Publish(models.EventShellExited, "demo", models.ShellExitedPayload{JobID: job.ID, StepIndex: 0, Code: 1})
	require.NoError(t, err)
	require.Equal(t, 1, job.RetryCounts[0])
	require.Equal(t, models.StepRunning, job.StepStatus[0])
	require.Len(t, d.take(), 1) // re-dispatched shell effect

	_, err = b.Publish(models.EventShellExited, "demo", models.ShellExitedPayload{JobID: job.ID, StepIndex: 0, Code: 1})
	require.NoError(t, err)
	require.Equal(t, models.StepFailed, job.StepStatus[0])
	require.True(t, job.Terminal)
	require.Equal(t, "failed", job.TermReason)
}

func TestGateEscalation_FailsTwiceThenRaisesDecision(t *testing.T) {
	b, d := newHarness(t)

	_, err := b.Publish(models.EventCommandRun, "demo", models.CommandRunPayload{
		Command: "agentic",
		Steps: []models.StepDef{{
			Name: "work", Kind: models.StepKindAgent,
			Agent: models.AgentDef{
				Definition: "claude",
				OnIdle:     models.EscalationPolicy{Action: models.ActionGate, Run: "check.sh", Attempts: 2},
			},
		}},
	})
	require.NoError(t, err)
	job := b.State.ListJobs("demo")[0]

	spawnEffects := d.take()
	require.Len(t, spawnEffects, 1)
	require.Equal(t, models.EffectAgentSpawn, spawnEffects[0].Kind)

	_, err = b.Publish(models.EventAgentSpawned, "demo", models.AgentSpawnedPayload{
		AgentID: "agent_1", JobID: job.ID, StepName: "work", Definition: "claude", OwnerKind: models.AgentOwnerStep,
	})
	require.NoError(t, err)

	_, err = b.Publish(models.EventAgentIdle, "demo", models.AgentIdlePayload{AgentID: "agent_1"})
	require.NoError(t, err)
	gateEffects := d.take()
	require.Len(t, gateEffects, 1)
	require.True(t, gateEffects[0].Shell.Gate)

	_, err = b.Publish(models.EventShellExited, "demo", models.ShellExitedPayload{
		JobID: job.ID, StepIndex: -1, Code: 1, Gate: true, StepName: "work", Source: models.SourceIdle, AgentID: "agent_1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, job.EscalationAttempts["work"])
	retryEffects := d.take()
	require.Len(t, retryEffects, 1)
	require.True(t, retryEffects[0].Shell.Gate)

	decisions := b.State.ListDecisions(true)
	require.Len(t, decisions, 0)

	_, err = b.Publish(models.EventShellExited, "demo", models.ShellExitedPayload{
		JobID: job.ID, StepIndex: -1, Code: 1, Gate: true, StepName: "work", Source: models.SourceIdle, AgentID: "agent_1",
	})
	require.NoError(t, err)
	require.Equal(t, 2, job.EscalationAttempts["work"])

	decisions = b.State.ListDecisions(true)
	require.Len(t, decisions, 1)
	require.Equal(t, models.SourceGate, decisions[0].Source)
	require.Equal(t, []models.DecisionOption{
		{ID: "retry", Label: "Retry gate", Recommended: true},
		{ID: "skip", Label: "Skip gate"},
		{ID: "cancel", Label: "Cancel job"},
	}, decisions[0].Options)
	require.Equal(t, models.SourceIdle, decisions[0].GateSource)

	_, err = b.Publish(models.EventDecisionResolved, "demo", models.DecisionResolvedPayload{
		DecisionID: decisions[0].ID, OptionID: "retry",
	})
	require.NoError(t, err)

	resolveEffects := d.take()
	require.Len(t, resolveEffects, 1)
	require.True(t, resolveEffects[0].Shell.Gate)
	require.Equal(t, "check.sh", resolveEffects[0].Shell.Command)
	require.Equal(t, models.SourceIdle, resolveEffects[0].Shell.Source)
}

func TestQueue_PushWakesWorkerAndRunsJob(t *testing.T) {
	b, d := newHarness(t)

	_, err := b.Publish(models.EventWorkerStart, "demo", models.WorkerStartPayload{
		Name: "w1", Queue: "q1", Handler: "ingest", Concurrency: 1,
		HandlerSteps: []models.StepDef{{Name: "only", Kind: models.StepKindShell, Command: "ingest.sh"}},
	})
	require.NoError(t, err)

	_, err = b.Publish(models.EventQueuePush, "demo", models.QueuePushPayload{
		Queue: "q1", Payload: map[string]interface{}{"id": "42"},
	})
	require.NoError(t, err)

	items := b.State.ListQueueItems("q1")
	require.Len(t, items, 1)
	require.Equal(t, models.QueueItemTaken, items[0].Status)

	jobs := b.State.ListJobs("demo")
	require.Len(t, jobs, 1)
	require.Equal(t, "ingest", jobs[0].Name)
	require.Equal(t, "42", jobs[0].Variables["id"])

	w, ok := b.State.GetWorker("w1")
	require.True(t, ok)
	require.Len(t, w.InFlight, 1)

	effects := d.take()
	require.Len(t, effects, 1)
	require.Equal(t, models.EffectShell, effects[0].Kind)
}

func TestQueue_DuplicatePushIsNotDeduplicated(t *testing.T) {
	b, _ := newHarness(t)

	push := models.QueuePushPayload{Queue: "q1", Payload: map[string]interface{}{"id": "7"}}
	_, err := b.Publish(models.EventQueuePush, "demo", push)
	require.NoError(t, err)
	_, err = b.Publish(models.EventQueuePush, "demo", push)
	require.NoError(t, err)

	items := b.State.ListQueueItems("q1")
	require.Len(t, items, 2)
	require.NotEqual(t, items[0].ID, items[1].ID)
}

func TestJobSuspendResume_ParksAndContinuesPipeline(t *testing.T) {
	b, d := newHarness(t)

	_, err := b.Publish(models.EventCommandRun, "demo", models.CommandRunPayload{
		Command: "two-step",
		Steps: []models.StepDef{
			{Name: "a", Kind: models.StepKindShell, Command: "a.sh"},
			{Name: "b", Kind: models.StepKindShell, Command: "b.sh"},
		},
	})
	require.NoError(t, err)
	job := b.State.ListJobs("demo")[0]
	d.take()

	_, err = b.Publish(models.EventJobSuspend, "demo", models.JobSuspendPayload{JobID: job.ID})
	require.NoError(t, err)
	require.True(t, job.Suspended)

	_, err = b.Publish(models.EventShellExited, "demo", models.ShellExitedPayload{JobID: job.ID, StepIndex: 0, Code: 0})
	require.NoError(t, err)
	require.Equal(t, models.StepCompleted, job.StepStatus[0])
	require.Empty(t, d.take(), "a suspended job must not start its next step")

	_, err = b.Publish(models.EventJobResume, "demo", models.JobResumePayload{JobID: job.ID})
	require.NoError(t, err)
	require.False(t, job.Suspended)

	effects := d.take()
	require.Len(t, effects, 1)
	require.Equal(t, 1, effects[0].Shell.StepIndex)
}

func TestDecisionResolved_ApprovalCompletesStep(t *testing.T) {
	b, d := newHarness(t)

	_, err := b.Publish(models.EventCommandRun, "demo", models.CommandRunPayload{
		Command: "agentic",
		Steps:   []models.StepDef{{Name: "work", Kind: models.StepKindAgent, Agent: models.AgentDef{Definition: "claude"}}},
	})
	require.NoError(t, err)
	job := b.State.ListJobs("demo")[0]
	d.take()

	_, err = b.Publish(models.EventAgentSpawned, "demo", models.AgentSpawnedPayload{
		AgentID: "agent_1", JobID: job.ID, StepName: "work", Definition: "claude", OwnerKind: models.AgentOwnerStep,
	})
	require.NoError(t, err)

	_, err = b.Publish(models.EventAgentPrompt, "demo", models.AgentPromptPayload{
		AgentID: "agent_1", Kind: models.PromptApproval, Context: "apply this diff?",
	})
	require.NoError(t, err)

	decisions := b.State.ListDecisions(true)
	require.Len(t, decisions, 1)
	require.Equal(t, models.StepWaiting, job.StepStatus[0])

	_, err = b.Publish(models.EventDecisionResolved, "demo", models.DecisionResolvedPayload{
		DecisionID: decisions[0].ID, OptionID: "approve",
	})
	require.NoError(t, err)

	require.True(t, job.Terminal)
	require.Equal(t, "completed", job.TermReason)
	d, ok := b.State.GetDecision(decisions[0].ID)
	require.True(t, ok)
	require.True(t, d.IsResolved())
}

func setUpQueueWorker(t *testing.T, b *bus.Bus, maxAttempts int) {
	t.Helper()
	_, err := b.Publish(models.EventQueueDefine, "demo", models.QueueDefinePayload{
		Name: "q1", MaxAttempts: maxAttempts,
		BackoffBase: time.Millisecond, BackoffCap: time.Millisecond,
	})
	require.NoError(t, err)
	_, err = b.Publish(models.EventWorkerStart, "demo", models.WorkerStartPayload{
		Name: "w1", Queue: "q1", Handler: "ingest", Concurrency: 1,
		HandlerSteps: []models.StepDef{{Name: "only", Kind: models.StepKindShell, Command: "ingest.sh"}},
	})
	require.NoError(t, err)
}

func TestQueue_JobCompletionSettlesItemCompleted(t *testing.T) {
	b, d := newHarness(t)
	setUpQueueWorker(t, b, 3)

	_, err := b.Publish(models.EventQueuePush, "demo", models.QueuePushPayload{
		Queue: "q1", Payload: map[string]interface{}{"id": "1"},
	})
	require.NoError(t, err)
	job := b.State.ListJobs("demo")[0]
	d.take()

	_, err = b.Publish(models.EventShellExited, "demo", models.ShellExitedPayload{JobID: job.ID, StepIndex: 0, Code: 0})
	require.NoError(t, err)

	require.True(t, job.Terminal)
	items := b.State.ListQueueItems("q1")
	require.Equal(t, models.QueueItemCompleted, items[0].Status)
}

func TestQueue_JobFailureRetriesThenDeadLetters(t *testing.T) {
	b, d, eng := newHarnessWithEngine(t)
	setUpQueueWorker(t, b, 2)

	_, err := b.Publish(models.EventQueuePush, "demo", models.QueuePushPayload{
		Queue: "q1", Payload: map[string]interface{}{"id": "1"},
	})
	require.NoError(t, err)
	items := b.State.ListQueueItems("q1")
	itemID := items[0].ID
	job := b.State.ListJobs("demo")[0]
	d.take()

	_, err = b.Publish(models.EventShellExited, "demo", models.ShellExitedPayload{JobID: job.ID, StepIndex: 0, Code: 1})
	require.NoError(t, err)
	require.True(t, job.Terminal)

	item, ok := b.State.GetQueueItem(itemID)
	require.True(t, ok)
	require.Equal(t, models.QueueItemFailed, item.Status)
	require.Equal(t, 1, item.Attempts)
	require.False(t, item.NextRetryAt.IsZero())

	// The item isn't due yet, so the wake onQueueFailed triggers finds
	// nothing to take.
	require.Len(t, b.State.ListJobs("demo"), 1)

	// Advance the mocked clock past NextRetryAt and nudge the worker —
	// a fresh queue:push on the same queue wakes it again, this time
	// finding the now-due failed item via NextPending/VisibleForTake.
	retryAt := item.NextRetryAt
	eng.Now = func() time.Time { return retryAt.Add(time.Millisecond) }
	_, err = b.Publish(models.EventQueuePush, "demo", models.QueuePushPayload{
		Queue: "q1", Payload: map[string]interface{}{"id": "2"},
	})
	require.NoError(t, err)

	jobs := b.State.ListJobs("demo")
	require.Len(t, jobs, 2)
	var retryJob *models.Job
	for _, j := range jobs {
		if j.ID != job.ID {
			retryJob = j
		}
	}
	require.NotNil(t, retryJob)
	require.Equal(t, models.QueueItemTaken, mustItem(t, b, itemID).Status)

	d.take()
	_, err = b.Publish(models.EventShellExited, "demo", models.ShellExitedPayload{JobID: retryJob.ID, StepIndex: 0, Code: 1})
	require.NoError(t, err)

	item, ok = b.State.GetQueueItem(itemID)
	require.True(t, ok)
	require.Equal(t, models.QueueItemDead, item.Status)
}

// TestQueue_MaxAttemptsThreeFailsThreeTimesBeforeDead pins the exact
// attempt sequence for max_attempts=3: three queue:failed transitions,
// the third landing alongside queue:dead rather than skipping straight
// to dead on the final attempt.
func TestQueue_MaxAttemptsThreeFailsThreeTimesBeforeDead(t *testing.T) {
	b, d, eng := newHarnessWithEngine(t)
	setUpQueueWorker(t, b, 3)

	_, err := b.Publish(models.EventQueuePush, "demo", models.QueuePushPayload{
		Queue: "q1", Payload: map[string]interface{}{"id": "1"},
	})
	require.NoError(t, err)
	items := b.State.ListQueueItems("q1")
	itemID := items[0].ID
	job := b.State.ListJobs("demo")[0]
	d.take()

	fail := func(jobID string) {
		_, err := b.Publish(models.EventShellExited, "demo", models.ShellExitedPayload{JobID: jobID, StepIndex: 0, Code: 1})
		require.NoError(t, err)
	}
	wake := func() *models.Job {
		item := mustItem(t, b, itemID)
		eng.Now = func() time.Time { return item.NextRetryAt.Add(time.Millisecond) }
		seen := make(map[string]bool)
		for _, j := range b.State.ListJobs("demo") {
			seen[j.ID] = true
		}
		_, err := b.Publish(models.EventWorkerWake, "demo", models.WorkerWakePayload{Name: "w1"})
		require.NoError(t, err)
		var newJob *models.Job
		for _, j := range b.State.ListJobs("demo") {
			if !seen[j.ID] {
				newJob = j
			}
		}
		require.NotNil(t, newJob)
		d.take()
		return newJob
	}

	fail(job.ID)
	require.Equal(t, models.QueueItemFailed, mustItem(t, b, itemID).Status)
	require.Equal(t, 1, mustItem(t, b, itemID).Attempts)

	job2 := wake()
	fail(job2.ID)
	require.Equal(t, models.QueueItemFailed, mustItem(t, b, itemID).Status)
	require.Equal(t, 2, mustItem(t, b, itemID).Attempts)

	job3 := wake()
	fail(job3.ID)
	require.Equal(t, models.QueueItemDead, mustItem(t, b, itemID).Status)
	require.Equal(t, 3, mustItem(t, b, itemID).Attempts)
}

func mustItem(t *testing.T, b *bus.Bus, itemID string) *models.QueueItem {
	t.Helper()
	item, ok := b.State.GetQueueItem(itemID)
	require.True(t, ok)
	return item
}
