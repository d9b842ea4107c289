package cli

import (
	"testing"

	"github.com/spf13/cobra"

	"github.com/sidelinehq/crewd/internal/config"
)

// newTestConfig returns a config pointing at a scratch state directory, so
// a test that never reaches the point of dialing the control socket never
// touches a real one.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	return &cfg
}

// execCmd runs cmd with args the way root.go's Execute does — usage and
// errors silenced, since the caller asserts on the returned error directly.
func execCmd(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetArgs(args)
	return cmd.Execute()
}
