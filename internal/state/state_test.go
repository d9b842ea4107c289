package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sidelinehq/crewd/internal/models"
)

func mustEvent(t *testing.T, seq int64, typ string, payload interface{}) models.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return models.Event{
		Seq:       seq,
		Type:      typ,
		Timestamp: time.Unix(1700000000+seq, 0).UTC(),
		Payload:   raw,
	}
}

func TestApply_JobCreatedThenStepLifecycle(t *testing.T) {
	p := New()
	p.Apply(mustEvent(t, 1, models.EventJobCreated, models.JobCreatedPayload{
		JobID: "job_1", Name: "demo", Project: "proj",
		Steps: []models.StepDef{{Name: "build"}, {Name: "test"}},
	}))

	job, ok := p.GetJob("job_1")
	require.True(t, ok)
	require.Len(t, job.StepStatus, 2)
	require.Equal(t, models.StepPending, job.StepStatus[0])

	p.Apply(mustEvent(t, 2, models.EventStepStarted, models.StepStartedPayload{JobID: "job_1", StepIndex: 0}))
	require.Equal(t, models.StepRunning, job.StepStatus[0])

	p.Apply(mustEvent(t, 3, models.EventStepCompleted, models.StepCompletedPayload{JobID: "job_1", StepIndex: 0}))
	require.Equal(t, models.StepCompleted, job.StepStatus[0])

	p.Apply(mustEvent(t, 4, models.EventJobCompleted, models.JobCompletedPayload{JobID: "job_1"}))
	require.True(t, job.IsTerminal())
	require.Equal(t, int64(4), p.LastSeq)
}

func TestApply_IsIdempotentAcrossReplayOfSameSeq(t *testing.T) {
	p := New()
	ev := mustEvent(t, 1, models.EventJobCreated, models.JobCreatedPayload{
		JobID: "job_1", Name: "demo", Steps: []models.StepDef{{Name: "only"}},
	})
	p.Apply(ev)
	p.Apply(ev) // replay of the same seq must not panic or double-apply

	job, ok := p.GetJob("job_1")
	require.True(t, ok)
	require.Len(t, job.StepStatus, 1)
	require.Equal(t, int64(1), p.LastSeq)
}

func TestApply_ActionAndSignalTagsAreNoOps(t *testing.T) {
	p := New()
	p.Apply(mustEvent(t, 1, models.EventCommandRun, models.CommandRunPayload{Command: "ignored"}))
	require.Empty(t, p.Jobs)
	require.Equal(t, int64(1), p.LastSeq)

	p.Apply(mustEvent(t, 2, models.EventShellExited, models.ShellExitedPayload{JobID: "job_1", Code: 0}))
	require.Equal(t, int64(2), p.LastSeq)
}

func TestApply_JobTerminalDiscardsUnresolvedDecisions(t *testing.T) {
	p := New()
	p.Apply(mustEvent(t, 1, models.EventJobCreated, models.JobCreatedPayload{
		JobID: "job_1", Steps: []models.StepDef{{Name: "only"}},
	}))
	p.Apply(mustEvent(t, 2, models.EventDecisionCreated, models.DecisionCreatedPayload{
		DecisionID: "dec_1", JobID: "job_1", StepName: "only", Source: models.SourceApproval,
	}))
	require.Len(t, p.Decisions, 1)

	p.Apply(mustEvent(t, 3, models.EventJobFailed, models.JobFailedPayload{JobID: "job_1", Reason: "boom"}))
	require.Empty(t, p.Decisions, "unresolved decision for a now-terminal job is discarded")
}

func TestApply_AgentLifecycleTransitions(t *testing.T) {
	p := New()
	p.Apply(mustEvent(t, 1, models.EventAgentSpawned, models.AgentSpawnedPayload{
		AgentID: "agent_1", OwnerKind: models.AgentOwnerStep, JobID: "job_1", StepName: "build",
	}))
	agent, ok := p.GetAgent("agent_1")
	require.True(t, ok)
	require.Equal(t, models.AgentSpawning, agent.Phase)

	p.Apply(mustEvent(t, 2, models.EventAgentWorking, models.AgentWorkingPayload{AgentID: "agent_1"}))
	require.Equal(t, models.AgentWorking, agent.Phase)
	require.Nil(t, agent.IdleSince)

	p.Apply(mustEvent(t, 3, models.EventAgentIdle, models.AgentIdlePayload{AgentID: "agent_1"}))
	require.Equal(t, models.AgentIdle, agent.Phase)
	require.NotNil(t, agent.IdleSince)

	p.Apply(mustEvent(t, 4, models.EventAgentExited, models.AgentExitedPayload{AgentID: "agent_1"}))
	require.True(t, agent.Phase.IsTerminal())

	// A terminal agent never transitions again.
	p.Apply(mustEvent(t, 5, models.EventAgentWorking, models.AgentWorkingPayload{AgentID: "agent_1"}))
	require.Equal(t, models.AgentExited, agent.Phase)
}

func TestApply_DecisionCreatedSetsAgentDecisionID(t *testing.T) {
	p := New()
	p.Apply(mustEvent(t, 1, models.EventAgentSpawned, models.AgentSpawnedPayload{
		AgentID: "agent_1", OwnerKind: models.AgentOwnerStep,
	}))
	p.Apply(mustEvent(t, 2, models.EventDecisionCreated, models.DecisionCreatedPayload{
		DecisionID: "dec_1", AgentID: "agent_1", Source: models.SourceIdle,
	}))
	agent, _ := p.GetAgent("agent_1")
	require.Equal(t, "dec_1", agent.DecisionID)
	require.True(t, agent.HasInFlightDecision())

	p.Apply(mustEvent(t, 3, models.EventAgentExited, models.AgentExitedPayload{AgentID: "agent_1"}))
	require.False(t, agent.HasInFlightDecision())
}

func TestApply_QueueLifecycle(t *testing.T) {
	p := New()
	p.Apply(mustEvent(t, 1, models.EventWorkerStarted, models.WorkerStartedPayload{
		Name: "w1", Queue: "q1", Handler: "handle", Concurrency: 1,
	}))
	p.Apply(mustEvent(t, 2, models.EventQueuePushed, models.QueuePushedPayload{ItemID: "item_1", Queue: "q1"}))

	items := p.ListQueueItems("q1")
	require.Len(t, items, 1)
	require.Equal(t, models.QueueItemPending, items[0].Status)

	next := p.NextPending("q1", time.Now())
	require.NotNil(t, next)
	require.Equal(t, "item_1", next.ID)

	p.Apply(mustEvent(t, 3, models.EventQueueTaken, models.QueueTakenPayload{
		ItemID: "item_1", Queue: "q1", Worker: "w1", JobID: "job_1",
	}))
	worker, _ := p.GetWorker("w1")
	require.Equal(t, []string{"job_1"}, worker.InFlight)
	require.Nil(t, p.NextPending("q1", time.Now()), "taken items are no longer visible")

	p.Apply(mustEvent(t, 4, models.EventQueueCompleted, models.QueueCompletedPayload{ItemID: "item_1", Queue: "q1"}))
	items = p.ListQueueItems("q1")
	require.Equal(t, models.QueueItemCompleted, items[0].Status)
	require.Empty(t, worker.InFlight, "completion releases the in-flight slot")
}

func TestApply_QueueDroppedRemovesItemEntirely(t *testing.T) {
	p := New()
	p.Apply(mustEvent(t, 1, models.EventQueuePushed, models.QueuePushedPayload{ItemID: "item_1", Queue: "q1"}))
	p.Apply(mustEvent(t, 2, models.EventQueueDropped, models.QueueDroppedPayload{ItemID: "item_1", Queue: "q1"}))

	_, ok := p.QueueItems["item_1"]
	require.False(t, ok)
}

func TestApply_QueueFailedThenRetriedResetsAttempts(t *testing.T) {
	p := New()
	p.Apply(mustEvent(t, 1, models.EventQueuePushed, models.QueuePushedPayload{ItemID: "item_1", Queue: "q1"}))
	future := time.Now().Add(time.Minute)
	p.Apply(mustEvent(t, 2, models.EventQueueFailed, models.QueueFailedPayload{
		ItemID: "item_1", Queue: "q1", Reason: "boom", NextRetryAt: future,
	}))
	item := p.QueueItems["item_1"]
	require.Equal(t, models.QueueItemFailed, item.Status)
	require.Equal(t, "boom", item.LastError)

	p.Apply(mustEvent(t, 3, models.EventQueueRetried, models.QueueRetriedPayload{ItemID: "item_1", Queue: "q1"}))
	require.Equal(t, models.QueueItemPending, item.Status)
	require.Zero(t, item.Attempts)
	require.True(t, item.NextRetryAt.IsZero())
	require.Empty(t, item.LastError)
}

func TestSnapshot_RoundTripsProjection(t *testing.T) {
	p := New()
	p.Apply(mustEvent(t, 1, models.EventJobCreated, models.JobCreatedPayload{
		JobID: "job_1", Name: "demo", Steps: []models.StepDef{{Name: "only"}},
	}))

	body, upToSeq, err := p.MarshalSnapshot()
	require.NoError(t, err)
	require.Equal(t, int64(1), upToSeq)

	p2 := New()
	require.NoError(t, p2.LoadSnapshot(body, upToSeq))
	job, ok := p2.GetJob("job_1")
	require.True(t, ok)
	require.Equal(t, "demo", job.Name)
	require.Equal(t, int64(1), p2.LastSeq)
}

func TestCron_Lifecycle(t *testing.T) {
	p := New()
	p.Apply(mustEvent(t, 1, models.EventCronCreated, models.CronCreatedPayload{Name: "nightly", Command: "build"}))
	cron, ok := p.GetCron("nightly")
	require.True(t, ok)
	require.Equal(t, models.CronStopped, cron.Status)

	fire := time.Now().Add(time.Hour)
	p.Apply(mustEvent(t, 2, models.EventCronStarted, models.CronStartedPayload{Name: "nightly", NextFire: fire}))
	require.Equal(t, models.CronRunning, cron.Status)
	require.WithinDuration(t, fire, cron.NextFire, time.Second)
}
