package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/ipc"
	"github.com/sidelinehq/crewd/internal/models"
)

// mutate issues a mutating IPC request keyed by its action event tag and
// renders the result — the shared body behind every cancel/suspend/push/
// resolve-style subcommand.
func mutate(cfg *config.Config, eventType string, payload interface{}) error {
	resp, err := call(*cfg, ipc.Request{
		Type:    eventType,
		Project: cfg.Project,
		Payload: mustMarshal(payload),
	})
	if err != nil {
		return err
	}
	if err := mustOK(resp); err != nil {
		return err
	}
	return printJSON(envelope{Ok: true, Data: resp.Data})
}

func newJobCmd(cfg *config.Config) *cobra.Command {
	cmd := newResourceCmd(cfg, "job", "List or show jobs", "job")

	var restart bool
	resumeCmd := &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a suspended job",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return mutate(cfg, models.EventJobResume, models.JobResumePayload{JobID: args[0], Restart: restart})
		},
	}
	resumeCmd.Flags().BoolVar(&restart, "restart", false, "Restart the current step instead of continuing from where it left off")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "cancel <id>",
			Short: "Cancel a running job",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return mutate(cfg, models.EventJobCancel, models.JobCancelPayload{JobID: args[0]})
			},
		},
		&cobra.Command{
			Use:   "suspend <id>",
			Short: "Suspend a job before its next step",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return mutate(cfg, models.EventJobSuspend, models.JobSuspendPayload{JobID: args[0]})
			},
		},
		resumeCmd,
		newJobLogsCmd(cfg),
	)
	return cmd
}

func newJobLogsCmd(cfg *config.Config) *cobra.Command {
	var follow bool
	var lines int
	return &cobra.Command{
		Use:   "logs <id>",
		Short: "Print a job's event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return tailJobEvents(*cfg, args[0], lines, follow)
		},
	}
}

func newAgentCmd(cfg *config.Config) *cobra.Command {
	cmd := newResourceCmd(cfg, "agent", "List or show agents", "agent")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "input <id> <text>",
			Short: "Send text to a waiting agent's stdin",
			Args:  cobra.ExactArgs(2),
			RunE: func(c *cobra.Command, args []string) error {
				return mutate(cfg, models.EventAgentInput, models.AgentInputPayload{AgentID: args[0], Text: args[1]})
			},
		},
		&cobra.Command{
			Use:   "kill <id>",
			Short: "Forcibly terminate an agent process",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return mutate(cfg, models.EventAgentKillRequest, models.AgentKillRequestPayload{AgentID: args[0]})
			},
		},
	)
	return cmd
}

func newDecisionMutationCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id> <option-id> [message]",
		Short: "Resolve an open escalation decision",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(c *cobra.Command, args []string) error {
			var message string
			if len(args) == 3 {
				message = args[2]
			}
			return mutate(cfg, models.EventDecisionResolved, models.DecisionResolvedPayload{
				DecisionID: args[0],
				OptionID:   args[1],
				Message:    message,
			})
		},
	}
}

func newWorkspaceCmd(cfg *config.Config) *cobra.Command {
	cmd := newResourceCmd(cfg, "workspace", "List or show workspaces", "workspace")
	cmd.AddCommand(&cobra.Command{
		Use:   "drop <id>",
		Short: "Request removal of a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return mutate(cfg, models.EventWorkspaceDropReq, models.WorkspaceDropRequestPayload{WorkspaceID: args[0]})
		},
	})
	return cmd
}

func newWorkerCmd(cfg *config.Config) *cobra.Command {
	cmd := newResourceCmd(cfg, "worker", "List or show worker pools", "worker")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stop <name>",
			Short: "Stop a worker pool",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return mutate(cfg, models.EventWorkerStop, models.WorkerStopPayload{Name: args[0]})
			},
		},
	)
	return cmd
}

func newCronCmd(cfg *config.Config) *cobra.Command {
	cmd := newResourceCmd(cfg, "cron", "List or show scheduled commands", "cron")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "start <name>",
			Short: "Enable a cron schedule",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return mutate(cfg, models.EventCronStart, models.CronStartPayload{Name: args[0]})
			},
		},
		&cobra.Command{
			Use:   "stop <name>",
			Short: "Disable a cron schedule",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return mutate(cfg, models.EventCronStop, models.CronStopPayload{Name: args[0]})
			},
		},
		&cobra.Command{
			Use:   "once <name>",
			Short: "Fire a cron schedule immediately, once",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return mutate(cfg, models.EventCronOnce, models.CronOncePayload{Name: args[0]})
			},
		},
	)
	return cmd
}

func newQueueMutationCmds(cfg *config.Config) []*cobra.Command {
	var payloadJSON string
	push := &cobra.Command{
		Use:   "push <queue>",
		Short: "Push an item's payload (JSON object) onto a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var body map[string]interface{}
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &body); err != nil {
					return usageErr("--payload must be a JSON object: %s", err.Error())
				}
			}
			return mutate(cfg, models.EventQueuePush, models.QueuePushPayload{Queue: args[0], Payload: body})
		},
	}
	push.Flags().StringVar(&payloadJSON, "payload", "", "JSON object carried with the queue item")

	drop := &cobra.Command{
		Use:   "drop <queue> <item-id>",
		Short: "Remove a pending item from a queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return mutate(cfg, models.EventQueueDrop, models.QueueDropPayload{Queue: args[0], ItemID: args[1]})
		},
	}

	retry := &cobra.Command{
		Use:   "retry <queue> <item-id>",
		Short: "Requeue a dead-lettered item",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return mutate(cfg, models.EventQueueRetry, models.QueueRetryPayload{Queue: args[0], ItemID: args[1]})
		},
	}

	drain := &cobra.Command{
		Use:   "drain <queue>",
		Short: "Discard every pending item in a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return mutate(cfg, models.EventQueueDrain, models.QueueDrainPayload{Queue: args[0]})
		},
	}

	return []*cobra.Command{push, drop, retry, drain}
}
