package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/queue"
)

type fakePublisher struct {
	mu     sync.Mutex
	pushes []models.QueuePushPayload
}

func (f *fakePublisher) Publish(eventType, project string, payload interface{}) (models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if eventType == models.EventQueuePush {
		f.pushes = append(f.pushes, payload.(models.QueuePushPayload))
	}
	return models.Event{Type: eventType, Project: project}, nil
}

func (f *fakePublisher) snapshot() []models.QueuePushPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.QueuePushPayload, len(f.pushes))
	copy(out, f.pushes)
	return out
}

type fakeQuery struct {
	defs    []*models.QueueDef
	workers []*models.Worker
}

func (f *fakeQuery) ListQueueDefs() []*models.QueueDef { return f.defs }
func (f *fakeQuery) ListWorkers() []*models.Worker      { return f.workers }

func TestPollOnce_PushesEachListedItem(t *testing.T) {
	pub := &fakePublisher{}
	q := &fakeQuery{
		defs: []*models.QueueDef{{
			Name:     "reviews",
			External: true,
			ListCmd:  `printf '{"id":"1"}\n{"id":"2"}\n'`,
		}},
		workers: []*models.Worker{{Name: "w1", Queue: "reviews", Status: models.WorkerRunning}},
	}
	p := queue.New(pub, q)
	p.PollOnce(context.Background(), "demo")

	pushes := pub.snapshot()
	require.Len(t, pushes, 2)
	require.Equal(t, "reviews", pushes[0].Queue)
	require.Equal(t, "1", pushes[0].Payload["id"])
	require.Equal(t, "2", pushes[1].Payload["id"])
}

func TestPollOnce_SkipsQueueWithNoRunningWorker(t *testing.T) {
	pub := &fakePublisher{}
	q := &fakeQuery{
		defs:    []*models.QueueDef{{Name: "reviews", External: true, ListCmd: `echo '{"id":"1"}'`}},
		workers: []*models.Worker{{Name: "w1", Queue: "reviews", Status: models.WorkerStopped}},
	}
	p := queue.New(pub, q)
	p.PollOnce(context.Background(), "demo")
	require.Empty(t, pub.snapshot())
}

func TestPollOnce_SkipsNonExternalQueue(t *testing.T) {
	pub := &fakePublisher{}
	q := &fakeQuery{
		defs:    []*models.QueueDef{{Name: "internal-only"}},
		workers: []*models.Worker{{Name: "w1", Queue: "internal-only", Status: models.WorkerRunning}},
	}
	p := queue.New(pub, q)
	p.PollOnce(context.Background(), "demo")
	require.Empty(t, pub.snapshot())
}

func TestPollOnce_FailedTakeCommandSkipsThatItem(t *testing.T) {
	pub := &fakePublisher{}
	q := &fakeQuery{
		defs: []*models.QueueDef{{
			Name:     "reviews",
			External: true,
			ListCmd:  `printf '{"id":"1"}\n{"id":"2"}\n'`,
			TakeCmd:  `grep -q '"id":"1"' && exit 1 || true`,
		}},
		workers: []*models.Worker{{Name: "w1", Queue: "reviews", Status: models.WorkerRunning}},
	}
	p := queue.New(pub, q)
	p.PollOnce(context.Background(), "demo")

	pushes := pub.snapshot()
	require.Len(t, pushes, 1)
	require.Equal(t, "2", pushes[0].Payload["id"])
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	pub := &fakePublisher{}
	q := &fakeQuery{}
	p := queue.New(pub, q)
	p.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, "demo")
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
