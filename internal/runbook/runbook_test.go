package runbook_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/runbook"
)

const sample = `
commands:
  - name: ingest
    steps:
      - name: run
        kind: shell
        command: ingest.sh
queues:
  - name: reviews
    external: true
    list_cmd: "list-reviews"
    take_cmd: "take-review"
    max_attempts: 5
workers:
  - name: review-worker
    queue: reviews
    handler: ingest
    concurrency: 2
    auto_start: true
crons:
  - name: nightly
    command: ingest
    interval: 86400000000000 # 24h, in nanoseconds — time.Duration has no default unit-suffix unmarshaling
    auto_start: true
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func TestLoad_ParsesTemplatesAndResolvesCommand(t *testing.T) {
	def, err := runbook.Load(writeSample(t))
	require.NoError(t, err)
	require.Len(t, def.Commands, 1)
	require.Len(t, def.Workers, 1)
	require.Len(t, def.Crons, 1)
	require.Len(t, def.Queues, 1)

	steps, ok := def.Command("ingest")
	require.True(t, ok)
	require.Equal(t, "ingest.sh", steps[0].Command)
}

func TestLoad_RejectsWorkerReferencingUnknownCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers:
  - name: w1
    queue: q1
    handler: missing
`), 0o644))

	_, err := runbook.Load(path)
	require.Error(t, err)
}

type fakePublisher struct {
	events []struct {
		eventType string
		project   string
		payload   interface{}
	}
}

func (f *fakePublisher) Publish(eventType, project string, payload interface{}) (models.Event, error) {
	f.events = append(f.events, struct {
		eventType string
		project   string
		payload   interface{}
	}{eventType, project, payload})
	return models.Event{Type: eventType, Project: project}, nil
}

func TestBootstrap_ArmsQueuesAndAutoStartEntities(t *testing.T) {
	def, err := runbook.Load(writeSample(t))
	require.NoError(t, err)

	pub := &fakePublisher{}
	require.NoError(t, runbook.Bootstrap(pub, def, "demo"))

	var types []string
	for _, e := range pub.events {
		types = append(types, e.eventType)
	}
	require.Equal(t, []string{
		models.EventQueueDefine,
		models.EventWorkerStart,
		models.EventCronCreate,
		models.EventCronStart,
	}, types)
}

func TestBootstrap_SkipsNonAutoStartEntities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manual.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
commands:
  - name: ingest
    steps:
      - name: run
        kind: shell
        command: ingest.sh
workers:
  - name: w1
    queue: q1
    handler: ingest
`), 0o644))
	def, err := runbook.Load(path)
	require.NoError(t, err)

	pub := &fakePublisher{}
	require.NoError(t, runbook.Bootstrap(pub, def, "demo"))
	require.Empty(t, pub.events)
}
