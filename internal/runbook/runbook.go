// Package runbook defines the typed contract a runbook parser would
// produce — this repo accepts a Definition already bound to concrete
// commands/workers/crons/queues and translates it into the bus events
// that bring those entities up at daemon startup. No grammar, templating
// engine, or control-flow language lives here; Load just deserializes a
// declarative file shaped exactly like the struct below, the same way
// internal/config deserializes daemon.yaml.
package runbook

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sidelinehq/crewd/internal/models"
)

// Definition is the full set of reusable templates a project's runbook
// declares. A command name is resolved to its Steps wherever a request
// (CLI or worker handler) names it.
type Definition struct {
	Commands []CommandTemplate `yaml:"commands"`
	Workers  []WorkerTemplate  `yaml:"workers"`
	Crons    []CronTemplate    `yaml:"crons"`
	Queues   []QueueTemplate   `yaml:"queues"`
}

type CommandTemplate struct {
	Name  string           `yaml:"name"`
	Steps []models.StepDef `yaml:"steps"`
}

// WorkerTemplate binds a queue to a handler command. AutoStart governs
// whether Bootstrap arms it immediately at daemon startup; otherwise an
// operator starts it explicitly via the CLI.
type WorkerTemplate struct {
	Name        string `yaml:"name"`
	Queue       string `yaml:"queue"`
	Handler     string `yaml:"handler"`
	Concurrency int    `yaml:"concurrency"`
	AutoStart   bool   `yaml:"auto_start"`
}

type CronTemplate struct {
	Name      string        `yaml:"name"`
	Command   string        `yaml:"command"`
	Interval  time.Duration `yaml:"interval"`
	AutoStart bool          `yaml:"auto_start"`
}

type QueueTemplate struct {
	Name        string            `yaml:"name"`
	External    bool              `yaml:"external"`
	ListCmd     string            `yaml:"list_cmd"`
	TakeCmd     string            `yaml:"take_cmd"`
	Variables   map[string]string `yaml:"variables"`
	Defaults    map[string]string `yaml:"defaults"`
	MaxAttempts int               `yaml:"max_attempts"`
	BackoffBase time.Duration     `yaml:"backoff_base"`
	BackoffCap  time.Duration     `yaml:"backoff_cap"`
}

// Load reads and validates a runbook file.
func Load(path string) (*Definition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runbook: read %s: %w", path, err)
	}
	var def Definition
	if err := yaml.Unmarshal(b, &def); err != nil {
		return nil, fmt.Errorf("runbook: parse %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("runbook: %s: %w", path, err)
	}
	return &def, nil
}

// Validate checks that every cross-reference between templates (a
// worker's handler, a cron's command) names a command that actually
// exists in the same definition.
func (d *Definition) Validate() error {
	names := make(map[string]bool, len(d.Commands))
	for _, c := range d.Commands {
		if c.Name == "" {
			return fmt.Errorf("command with empty name")
		}
		names[c.Name] = true
	}
	for _, w := range d.Workers {
		if !names[w.Handler] {
			return fmt.Errorf("worker %q references unknown command %q", w.Name, w.Handler)
		}
	}
	for _, c := range d.Crons {
		if !names[c.Command] {
			return fmt.Errorf("cron %q references unknown command %q", c.Name, c.Command)
		}
	}
	return nil
}

// Command resolves a command template's steps by name.
func (d *Definition) Command(name string) ([]models.StepDef, bool) {
	for _, c := range d.Commands {
		if c.Name == name {
			return c.Steps, true
		}
	}
	return nil, false
}

// Publisher is the one bus method Bootstrap needs.
type Publisher interface {
	Publish(eventType, project string, payload interface{}) (models.Event, error)
}

// Bootstrap arms every queue, auto-start worker, and auto-start cron a
// definition declares — called once at daemon startup, after the
// reconciler's pass, so a freshly armed worker never races a
// reattach-in-progress one the reconciler is still restoring.
func Bootstrap(pub Publisher, def *Definition, project string) error {
	for _, q := range def.Queues {
		if _, err := pub.Publish(models.EventQueueDefine, project, models.QueueDefinePayload{
			Name: q.Name, External: q.External, ListCmd: q.ListCmd, TakeCmd: q.TakeCmd,
			Variables: q.Variables, Defaults: q.Defaults,
			MaxAttempts: q.MaxAttempts, BackoffBase: q.BackoffBase, BackoffCap: q.BackoffCap,
		}); err != nil {
			return fmt.Errorf("runbook: define queue %q: %w", q.Name, err)
		}
	}
	for _, w := range def.Workers {
		if !w.AutoStart {
			continue
		}
		steps, ok := def.Command(w.Handler)
		if !ok {
			return fmt.Errorf("runbook: worker %q references unknown command %q", w.Name, w.Handler)
		}
		if _, err := pub.Publish(models.EventWorkerStart, project, models.WorkerStartPayload{
			Name: w.Name, Queue: w.Queue, Handler: w.Handler, HandlerSteps: steps, Concurrency: w.Concurrency,
		}); err != nil {
			return fmt.Errorf("runbook: start worker %q: %w", w.Name, err)
		}
	}
	for _, c := range def.Crons {
		if !c.AutoStart {
			continue
		}
		steps, ok := def.Command(c.Command)
		if !ok {
			return fmt.Errorf("runbook: cron %q references unknown command %q", c.Name, c.Command)
		}
		if _, err := pub.Publish(models.EventCronCreate, project, models.CronCreatePayload{
			Name: c.Name, Command: c.Command, Steps: steps, Interval: c.Interval,
		}); err != nil {
			return fmt.Errorf("runbook: create cron %q: %w", c.Name, err)
		}
		if _, err := pub.Publish(models.EventCronStart, project, models.CronStartPayload{Name: c.Name}); err != nil {
			return fmt.Errorf("runbook: start cron %q: %w", c.Name, err)
		}
	}
	return nil
}
