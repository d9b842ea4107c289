// Package cli implements the crew command-line client: a thin layer over
// internal/ipc that resolves configuration, dials the daemon's control
// socket, and renders responses as a stable JSON envelope.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidelinehq/crewd/internal/config"
)

// Execute builds and runs the root command, returning the process exit
// code its documented CLI contract promises (0 success, 1 generic
// failure, 2 usage error, 3 daemon unreachable, 4 timeout). main.go's
// only job is os.Exit(Execute(version)).
func Execute(version string) int {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", "error", err.Error())
		return ExitGeneric
	}

	root := &cobra.Command{
		Use:           "crew",
		Short:         "Control and inspect a crewd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				return printData(map[string]string{"version": version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if stateDir, _ := cmd.Flags().GetString("state-dir"); stateDir != "" {
				config.SetStateDirOverride(stateDir)
				cfg.StateDir = stateDir
			}
			if project, _ := cmd.Flags().GetString("project"); project != "" {
				cfg.Project = project
			}
			if err := config.NewLayout(cfg.StateDir).EnsureDirs(); err != nil {
				return genericErr(err)
			}
			if cmd.Name() != "start" && cmd.Name() != "restart" && cmd.Name() != "status" {
				checkVersion(cfg, version)
			}
			return nil
		},
	}

	root.PersistentFlags().String("state-dir", "", "Override the daemon state directory (default: $CREWD_STATE_DIR or a config file)")
	root.PersistentFlags().String("project", "", "Project scope override (default: $CREWD_PROJECT or the working directory's basename)")
	root.Flags().BoolP("version", "v", false, "Print client version")

	root.AddCommand(
		newRunCmd(&cfg),
		newJobCmd(&cfg),
		newAgentCmd(&cfg),
		newWorkspaceCmd(&cfg),
		newWorkerCmd(&cfg),
		newCronCmd(&cfg),
		newQueueCmd(&cfg),
		newDecisionCmd(&cfg),
		newStartCmd(&cfg, version),
		newStopCmd(&cfg),
		newRestartCmd(&cfg, version),
		newShowCmd(&cfg),
		newPeekCmd(&cfg),
		newAttachCmd(&cfg),
		newLogsCmd(&cfg),
		newCancelCmd(&cfg),
		newSuspendCmd(&cfg),
		newResumeCmd(&cfg),
		newStatusCmd(&cfg),
	)

	err = root.Execute()
	code := exitCode(err)
	if err != nil && code == ExitGeneric {
		slog.Default().Error("command failed", "error", err.Error())
	}
	return code
}
