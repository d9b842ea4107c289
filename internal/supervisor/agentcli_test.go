package supervisor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveAgentRunner_RecognizesClaudeAndOpencode(t *testing.T) {
	r, ok := resolveAgentRunner("claude:fix the bug")
	require.True(t, ok)
	require.Equal(t, "claude", r.command)

	r, ok = resolveAgentRunner("opencode")
	require.True(t, ok)
	require.Equal(t, "opencode", r.command)

	_, ok = resolveAgentRunner("bash script.sh")
	require.False(t, ok)
}

func TestAgentRunnerPrompt_ExtractsAfterColon(t *testing.T) {
	require.Equal(t, "fix the bug", agentRunnerPrompt("claude:fix the bug"))
	require.Equal(t, "", agentRunnerPrompt("claude"))
}

func TestBuildAgentCmd_RejectsOversizedPrompt(t *testing.T) {
	huge := "claude:" + strings.Repeat("a", maxAgentPromptBytes+1)
	_, err := buildAgentCmd(huge)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds")
}

func TestBuildAgentCmd_RejectsNullByteInPrompt(t *testing.T) {
	_, err := buildAgentCmd("claude:danger\x00ous")
	require.Error(t, err)
	require.Contains(t, err.Error(), "null byte")
}

func TestBuildAgentCmd_RejectsEmptyLiteralCommand(t *testing.T) {
	_, err := buildAgentCmd("   ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}

func TestBuildAgentCmd_LiteralShellCommandPassesThrough(t *testing.T) {
	cmd, err := buildAgentCmd("echo hello")
	require.NoError(t, err)
	require.Equal(t, []string{"sh", "-c", "echo hello"}, cmd.Args)
}
