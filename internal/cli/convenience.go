package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/ipc"
	"github.com/sidelinehq/crewd/internal/models"
)

func errNoSessionLog(agentID string) error {
	return fmt.Errorf("agent %s has no session log yet", agentID)
}

// entityKindOf infers which resource kind an id belongs to from its
// NewID prefix (internal/models/id.go), so the convenience commands
// below never need the user to spell out "job" or "agent" first.
func entityKindOf(id string) (string, bool) {
	switch {
	case strings.HasPrefix(id, "job_"):
		return "job", true
	case strings.HasPrefix(id, "agent_"):
		return "agent", true
	case strings.HasPrefix(id, "ws_"):
		return "workspace", true
	case strings.HasPrefix(id, "decision_"):
		return "decision", true
	case strings.HasPrefix(id, "item_"):
		return "queue_item", true
	default:
		return "", false
	}
}

// newShowCmd and its siblings below all share the same shape: take an id,
// figure out its kind from the prefix, dispatch. One flat set of commands
// rather than nesting "job show"/"agent show" separately, for the
// common case of an operator pasting an id off a log line.

func newShowCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show any job, agent, workspace, decision, or queue item by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			kind, ok := entityKindOf(args[0])
			if !ok {
				return usageErr("unrecognized id prefix: %s", args[0])
			}
			return query(cfg, kind, args[0], "", false)
		},
	}
}

func newStatusCmd(cfg *config.Config) *cobra.Command {
	return newDaemonStatusCmd(cfg)
}

func newLogsCmd(cfg *config.Config) *cobra.Command {
	var follow bool
	var lines int
	cmd := &cobra.Command{
		Use:   "logs <id|\"daemon\">",
		Short: "Tail a job's event history, or the daemon's own log",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if args[0] == "daemon" {
				layout := config.NewLayout(cfg.StateDir)
				return genericErr(tailFile(layout.DaemonLog, lines, follow))
			}
			kind, ok := entityKindOf(args[0])
			if !ok || kind != "job" {
				return usageErr("logs needs a job id (job_...) or \"daemon\", got %s", args[0])
			}
			return tailJobEvents(*cfg, args[0], lines, follow)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines as they're written")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print")
	return cmd
}

func newCancelCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			kind, ok := entityKindOf(args[0])
			if !ok || kind != "job" {
				return usageErr("cancel needs a job id (job_...), got %s", args[0])
			}
			return mutate(cfg, models.EventJobCancel, models.JobCancelPayload{JobID: args[0]})
		},
	}
}

func newSuspendCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "suspend <id>",
		Short: "Suspend a job by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			kind, ok := entityKindOf(args[0])
			if !ok || kind != "job" {
				return usageErr("suspend needs a job id (job_...), got %s", args[0])
			}
			return mutate(cfg, models.EventJobSuspend, models.JobSuspendPayload{JobID: args[0]})
		},
	}
}

func newResumeCmd(cfg *config.Config) *cobra.Command {
	var restart bool
	cmd := &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a suspended job by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			kind, ok := entityKindOf(args[0])
			if !ok || kind != "job" {
				return usageErr("resume needs a job id (job_...), got %s", args[0])
			}
			return mutate(cfg, models.EventJobResume, models.JobResumePayload{JobID: args[0], Restart: restart})
		},
	}
	cmd.Flags().BoolVar(&restart, "restart", false, "Restart the current step instead of continuing from where it left off")
	return cmd
}

// newPeekCmd prints the oldest still-unresolved escalation decision,
// without requiring the caller to already know its id — the "what's
// blocked right now" entrypoint.
func newPeekCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "peek",
		Short: "Show the oldest unresolved decision, if any",
		RunE: func(c *cobra.Command, args []string) error {
			resp, err := call(*cfg, ipc.Request{
				Type: "query",
				Payload: mustMarshal(ipc.QueryRequest{Resource: "decision", UnresolvedOnly: true}),
			})
			if err != nil {
				return err
			}
			if err := mustOK(resp); err != nil {
				return err
			}
			var decisions []*models.Decision
			if err := json.Unmarshal(resp.Data, &decisions); err != nil {
				return genericErr(err)
			}
			if len(decisions) == 0 {
				return printData(nil)
			}
			oldest := decisions[0]
			for _, d := range decisions {
				if d.CreatedAt.Before(oldest.CreatedAt) {
					oldest = d
				}
			}
			return printData(oldest)
		},
	}
}

// newAttachCmd follows an agent's session log live, the closest a
// detached agent process gets to an interactive terminal.
func newAttachCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <agent-id>",
		Short: "Follow an agent's session log",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			kind, ok := entityKindOf(args[0])
			if !ok || kind != "agent" {
				return usageErr("attach needs an agent id (agent_...), got %s", args[0])
			}
			return attachAgent(*cfg, args[0])
		},
	}
}

// attachAgent resolves an agent's session log path via a query and then
// tails it in follow mode.
func attachAgent(cfg config.Config, agentID string) error {
	resp, err := call(cfg, ipc.Request{
		Type:    "query",
		Payload: mustMarshal(ipc.QueryRequest{Resource: "agent", ID: agentID}),
	})
	if err != nil {
		return err
	}
	if err := mustOK(resp); err != nil {
		return err
	}
	var agent models.Agent
	if err := json.Unmarshal(resp.Data, &agent); err != nil {
		return genericErr(err)
	}
	if agent.SessionLogPath == "" {
		return genericErr(errNoSessionLog(agentID))
	}
	return genericErr(tailFile(agent.SessionLogPath, 50, true))
}
