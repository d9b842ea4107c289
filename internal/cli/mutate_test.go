package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueuePush_RejectsNonObjectPayload(t *testing.T) {
	cfg := newTestConfig(t)
	cmds := newQueueMutationCmds(cfg)
	for _, c := range cmds {
		if c.Name() == "push" {
			err := execCmd(c, []string{"default", "--payload", "not-json"})
			require.Error(t, err)
			require.Equal(t, ExitUsage, exitCode(err))
			return
		}
	}
	t.Fatal("push command not found")
}
