package cli

import (
	"github.com/spf13/cobra"

	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/ipc"
)

// query issues a "query" request for resource/id and renders the result
// envelope, the shared body behind every list/show subcommand.
func query(cfg *config.Config, resource, id, queue string, unresolvedOnly bool) error {
	resp, err := call(*cfg, ipc.Request{
		Type: "query",
		Payload: mustMarshal(ipc.QueryRequest{
			Resource:       resource,
			ID:             id,
			Project:        cfg.Project,
			Queue:          queue,
			UnresolvedOnly: unresolvedOnly,
		}),
	})
	if err != nil {
		return err
	}
	if err := mustOK(resp); err != nil {
		return err
	}
	return printJSON(envelope{Ok: true, Data: resp.Data})
}

// newResourceCmd builds the "job"/"agent"/"workspace"/"worker"/"cron"/
// "decision" parent command: bare form lists, with an id argument shows
// one. Queue gets its own constructor since it nests def/item.
func newResourceCmd(cfg *config.Config, use, short, resource string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return query(cfg, resource, id, "", false)
		},
	}
	return cmd
}

func newDecisionCmd(cfg *config.Config) *cobra.Command {
	var unresolvedOnly bool
	cmd := &cobra.Command{
		Use:   "decision [id]",
		Short: "List or show escalation decisions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return query(cfg, "decision", id, "", unresolvedOnly)
		},
	}
	cmd.Flags().BoolVar(&unresolvedOnly, "unresolved", false, "List only decisions with no resolution yet")
	cmd.AddCommand(newDecisionMutationCmd(cfg))
	return cmd
}

func newQueueCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect queue definitions and items",
	}
	cmd.AddCommand(newQueueDefCmd(cfg), newQueueItemCmd(cfg), newQueueMutationCmds(cfg)...)
	return cmd
}

func newQueueDefCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queue definitions",
		RunE: func(c *cobra.Command, args []string) error {
			return query(cfg, "queue_def", "", "", false)
		},
	}
}

func newQueueItemCmd(cfg *config.Config) *cobra.Command {
	var queueName string
	cmd := &cobra.Command{
		Use:   "items [id]",
		Short: "List or show queue items",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return query(cfg, "queue_item", id, queueName, false)
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", "", "Restrict the listing to one queue")
	return cmd
}
