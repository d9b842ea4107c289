package reconciler_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/reconciler"
)

type published struct {
	eventType string
	project   string
	payload   interface{}
}

type fakePublisher struct {
	events []published
}

func (f *fakePublisher) Publish(eventType, project string, payload interface{}) (models.Event, error) {
	f.events = append(f.events, published{eventType, project, payload})
	return models.Event{Type: eventType, Project: project}, nil
}

type fakeQuery struct {
	jobs    []*models.Job
	agents  []*models.Agent
	workers []*models.Worker
	crons   []*models.Cron
}

func (f *fakeQuery) ListJobs(string) []*models.Job     { return f.jobs }
func (f *fakeQuery) ListAgents() []*models.Agent        { return f.agents }
func (f *fakeQuery) ListWorkers() []*models.Worker      { return f.workers }
func (f *fakeQuery) ListCrons() []*models.Cron          { return f.crons }
func (f *fakeQuery) GetJob(id string) (*models.Job, bool) {
	for _, j := range f.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return nil, false
}
func (f *fakeQuery) AgentByJobStep(jobID, stepName string) (*models.Agent, bool) {
	for _, a := range f.agents {
		if a.JobID == jobID && a.StepName == stepName {
			return a, true
		}
	}
	return nil, false
}

type fakeProbe struct {
	alive map[string]bool
}

func (f *fakeProbe) Reattach(project, agentID, socketPath, sessionLogPath string, pid int) bool {
	return f.alive[agentID]
}

func job(id string, waitingOn string) *models.Job {
	return &models.Job{
		ID: id, Project: "demo",
		Steps:     []models.StepDef{{Name: "run", Kind: models.StepKindAgent}},
		StepIndex: 0,
		WaitingOn: waitingOn,
	}
}

func agent(id, jobID string) *models.Agent {
	return &models.Agent{ID: id, JobID: jobID, StepName: "run", Phase: models.AgentWorking}
}

func TestRun_ReattachesLiveAgentWithoutEmittingEvents(t *testing.T) {
	j := job("job-1", "")
	a := agent("agent-1", "job-1")
	pub := &fakePublisher{}
	q := &fakeQuery{jobs: []*models.Job{j}, agents: []*models.Agent{a}}
	probe := &fakeProbe{alive: map[string]bool{"agent-1": true}}

	reconciler.New(pub, q, probe).Run()

	require.Empty(t, pub.events)
}

func TestRun_EmitsAgentExitedWhenProcessDeadButSessionPresent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "session.log")
	require.NoError(t, os.WriteFile(logPath, []byte("hi"), 0o644))

	j := job("job-1", "")
	a := agent("agent-1", "job-1")
	a.SessionLogPath = logPath
	pub := &fakePublisher{}
	q := &fakeQuery{jobs: []*models.Job{j}, agents: []*models.Agent{a}}
	probe := &fakeProbe{alive: map[string]bool{}}

	reconciler.New(pub, q, probe).Run()

	require.Len(t, pub.events, 1)
	require.Equal(t, models.EventAgentExited, pub.events[0].eventType)
	require.Equal(t, models.AgentExitedPayload{AgentID: "agent-1"}, pub.events[0].payload)
}

func TestRun_EmitsAgentGoneWhenSessionFileMissing(t *testing.T) {
	j := job("job-1", "")
	a := agent("agent-1", "job-1")
	a.SessionLogPath = filepath.Join(t.TempDir(), "never-written.log")
	pub := &fakePublisher{}
	q := &fakeQuery{jobs: []*models.Job{j}, agents: []*models.Agent{a}}
	probe := &fakeProbe{alive: map[string]bool{}}

	reconciler.New(pub, q, probe).Run()

	require.Len(t, pub.events, 1)
	require.Equal(t, models.EventAgentGone, pub.events[0].eventType)
}

func TestRun_WaitingJobNeverEmitsEvenWhenAgentDead(t *testing.T) {
	j := job("job-1", "decision-1")
	a := agent("agent-1", "job-1")
	a.SessionLogPath = filepath.Join(t.TempDir(), "never-written.log")
	pub := &fakePublisher{}
	q := &fakeQuery{jobs: []*models.Job{j}, agents: []*models.Agent{a}}
	probe := &fakeProbe{alive: map[string]bool{}}

	reconciler.New(pub, q, probe).Run()

	require.Empty(t, pub.events)
}

func TestRun_WaitingJobStillReattachesWhenAlive(t *testing.T) {
	j := job("job-1", "decision-1")
	a := agent("agent-1", "job-1")
	pub := &fakePublisher{}
	q := &fakeQuery{jobs: []*models.Job{j}, agents: []*models.Agent{a}}
	probe := &fakeProbe{alive: map[string]bool{"agent-1": true}}

	reconciler.New(pub, q, probe).Run()

	require.Empty(t, pub.events)
}

func TestRun_RearmsRunningWorkersAndCrons(t *testing.T) {
	pub := &fakePublisher{}
	q := &fakeQuery{
		workers: []*models.Worker{
			{Name: "w1", Status: models.WorkerRunning},
			{Name: "w2", Status: models.WorkerStopped},
		},
		crons: []*models.Cron{
			{Name: "c1", Status: models.CronRunning},
			{Name: "c2", Status: models.CronStopped},
		},
	}
	probe := &fakeProbe{alive: map[string]bool{}}

	reconciler.New(pub, q, probe).Run()

	require.Len(t, pub.events, 2)
	require.Equal(t, models.EventWorkerStart, pub.events[0].eventType)
	require.Equal(t, models.WorkerStartPayload{Name: "w1"}, pub.events[0].payload)
	require.Equal(t, models.EventCronStart, pub.events[1].eventType)
	require.Equal(t, models.CronStartPayload{Name: "c1"}, pub.events[1].payload)
}

func TestRun_PrunesOrphanAgentWhoseJobIsTerminal(t *testing.T) {
	j := job("job-1", "")
	j.Terminal = true
	a := agent("agent-1", "job-1")
	pub := &fakePublisher{}
	q := &fakeQuery{jobs: []*models.Job{j}, agents: []*models.Agent{a}}
	probe := &fakeProbe{alive: map[string]bool{}}

	reconciler.New(pub, q, probe).Run()

	require.Len(t, pub.events, 1)
	require.Equal(t, models.EventAgentGone, pub.events[0].eventType)
	require.Equal(t, "demo", pub.events[0].project)
}

func TestRun_PrunesOrphanAgentWhoseJobIsMissing(t *testing.T) {
	a := agent("agent-1", "missing-job")
	pub := &fakePublisher{}
	q := &fakeQuery{agents: []*models.Agent{a}}
	probe := &fakeProbe{alive: map[string]bool{}}

	reconciler.New(pub, q, probe).Run()

	require.Len(t, pub.events, 1)
	require.Equal(t, models.EventAgentGone, pub.events[0].eventType)
}
