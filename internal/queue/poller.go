// Package queue drives the I/O side of external queues: the part
// internal/runtime can't do itself because it has to stay pure. A
// runbook-declared external queue supplies a list command (enumerate
// available work) and a take command (claim one item at the source); the
// poller here runs both on a ticker, trusting their output completely —
// a list command that returns an already-claimed item, or a take command
// that silently fails to claim anything, is an external queue bug this
// package has no way to detect.
//
// Everything about a *persisted* queue (items pushed by command:run's own
// runbook steps, retry/backoff bookkeeping, worker wake/dispatch) is
// handled in internal/runtime/queue.go instead, since none of it needs to
// shell out.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/sidelinehq/crewd/internal/models"
)

// Publisher is the one bus method the poller needs.
type Publisher interface {
	Publish(eventType, project string, payload interface{}) (models.Event, error)
}

// Query is the read-only slice of state.Projection the poller needs to
// decide which queues are worth polling.
type Query interface {
	ListQueueDefs() []*models.QueueDef
	ListWorkers() []*models.Worker
}

// Poller periodically discovers and claims work for every external queue
// that has at least one running worker attached.
type Poller struct {
	Publisher Publisher
	Query     Query

	// Interval is how often every external queue is polled.
	Interval time.Duration
	// CommandTimeout bounds a single list or take command invocation.
	CommandTimeout time.Duration
}

func New(pub Publisher, q Query) *Poller {
	return &Poller{Publisher: pub, Query: q, Interval: 5 * time.Second, CommandTimeout: 30 * time.Second}
}

// Run blocks, polling every Interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, project string) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx, project)
		}
	}
}

// PollOnce runs a single pass over every external queue with a running
// worker attached. Exported so internal/daemon can trigger an immediate
// poll (e.g. in response to a CLI "queue poll" request) without waiting
// for the next tick.
func (p *Poller) PollOnce(ctx context.Context, project string) {
	for _, def := range p.Query.ListQueueDefs() {
		if !def.External || def.ListCmd == "" {
			continue
		}
		if !p.hasRunningWorker(def.Name) {
			continue
		}
		p.pollQueue(ctx, project, def)
	}
}

func (p *Poller) hasRunningWorker(queue string) bool {
	for _, w := range p.Query.ListWorkers() {
		if w.Queue == queue && w.Status == models.WorkerRunning {
			return true
		}
	}
	return false
}

// pollQueue lists available items and, for each one, claims it with the
// take command before publishing queue:push — so by the time the item
// exists internally, the external source has already committed the
// hand-off and won't list it again next tick.
func (p *Poller) pollQueue(ctx context.Context, project string, def *models.QueueDef) {
	out, err := p.runCommand(ctx, def.ListCmd, "")
	if err != nil {
		slog.Error("queue: list command failed", "queue", def.Name, "error", err.Error())
		return
	}

	for _, line := range nonEmptyLines(out) {
		var item map[string]interface{}
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			slog.Warn("queue: list command produced a non-JSON line, skipping", "queue", def.Name, "line", line)
			continue
		}
		if def.TakeCmd != "" {
			if _, err := p.runCommand(ctx, def.TakeCmd, line); err != nil {
				slog.Error("queue: take command failed, skipping item", "queue", def.Name, "error", err.Error())
				continue
			}
		}
		if _, err := p.Publisher.Publish(models.EventQueuePush, project, models.QueuePushPayload{Queue: def.Name, Payload: item}); err != nil {
			slog.Error("queue: publish push failed", "queue", def.Name, "error", err.Error())
		}
	}
}

// runCommand runs command through a shell, feeding stdin on the list
// command's stdout line (the take command uses this to know which item
// it's being asked to claim) and returning combined stdout/stderr.
func (p *Poller) runCommand(ctx context.Context, command, stdin string) (string, error) {
	timeout := p.CommandTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, out.String())
	}
	return out.String(), nil
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
