package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/ipc"
	"github.com/sidelinehq/crewd/internal/models"
	"github.com/sidelinehq/crewd/internal/runbook"
)

func newRunCmd(cfg *config.Config) *cobra.Command {
	var runbookPath string
	var vars []string
	var labels []string
	var project string
	var crewMode bool

	cmd := &cobra.Command{
		Use:   "run <command>",
		Short: "Run a named command from the runbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			def, err := runbook.Load(runbookPath)
			if err != nil {
				return usageErr("%s", err.Error())
			}
			steps, ok := def.Command(args[0])
			if !ok {
				return usageErr("unknown command %q in %s", args[0], runbookPath)
			}

			payload := models.CommandRunPayload{
				Command:   args[0],
				Variables: keyValues(vars),
				Steps:     steps,
				CrewMode:  crewMode,
				Labels:    keyValues(labels),
			}

			resp, err := call(*cfg, ipc.Request{
				Type:    models.EventCommandRun,
				Project: config.ResolveProject(project, *cfg),
				Payload: mustMarshal(payload),
			})
			if err != nil {
				return err
			}
			if err := mustOK(resp); err != nil {
				return err
			}

			if cfg.RunWait <= 0 {
				return printJSON(envelope{Ok: true, Data: resp.Data})
			}

			var ev models.Event
			if err := json.Unmarshal(resp.Data, &ev); err != nil {
				return genericErr(err)
			}
			var job models.Job
			if err := json.Unmarshal(ev.Payload, &job); err != nil {
				return genericErr(err)
			}
			final, err := waitForJob(*cfg, job.ID)
			if err != nil {
				return err
			}
			return printData(final)
		},
	}

	cmd.Flags().StringVar(&runbookPath, "runbook", "crewd.yaml", "Path to the runbook file defining this command")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "key=value variable, repeatable")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "key=value label, repeatable")
	cmd.Flags().StringVar(&project, "project", "", "Project scope override")
	cmd.Flags().BoolVar(&crewMode, "crew", false, "Mark this job as crew-mode")
	return cmd
}

// waitForJob polls job status until it reaches a terminal state or
// cfg.RunWait elapses — the blocking mode for scripts that need the
// job's outcome rather than just its id.
func waitForJob(cfg config.Config, jobID string) (*models.Job, error) {
	deadline := time.Now().Add(cfg.RunWait)
	for {
		resp, err := call(cfg, ipc.Request{
			Type:    "query",
			Payload: mustMarshal(ipc.QueryRequest{Resource: "job", ID: jobID}),
		})
		if err != nil {
			return nil, err
		}
		if err := mustOK(resp); err != nil {
			return nil, err
		}
		var job models.Job
		if err := json.Unmarshal(resp.Data, &job); err != nil {
			return nil, genericErr(err)
		}
		if job.Terminal {
			return &job, nil
		}
		if time.Now().After(deadline) {
			return nil, timeoutErr(fmt.Errorf("job %s did not finish within %s", jobID, cfg.RunWait))
		}
		time.Sleep(cfg.WaitPoll)
	}
}

// keyValues parses a repeated --flag key=value slice into a map, silently
// dropping any entry without an "=" rather than erroring on it.
func keyValues(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
