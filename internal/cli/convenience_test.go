package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntityKindOf(t *testing.T) {
	cases := []struct {
		id   string
		kind string
		ok   bool
	}{
		{"job_20260731abcd", "job", true},
		{"agent_20260731abcd", "agent", true},
		{"ws_20260731abcd", "workspace", true},
		{"decision_20260731abcd", "decision", true},
		{"item_20260731abcd", "queue_item", true},
		{"bogus_20260731abcd", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		kind, ok := entityKindOf(tc.id)
		require.Equal(t, tc.ok, ok, "id=%s", tc.id)
		require.Equal(t, tc.kind, kind, "id=%s", tc.id)
	}
}

func TestNewShowCmd_RejectsUnrecognizedPrefix(t *testing.T) {
	cfg := newTestConfig(t)
	cmd := newShowCmd(cfg)
	err := execCmd(cmd, []string{"nope_123"})
	require.Error(t, err)
	require.Equal(t, ExitUsage, exitCode(err))
}

func TestNewCancelCmd_RejectsNonJobID(t *testing.T) {
	cfg := newTestConfig(t)
	cmd := newCancelCmd(cfg)
	err := execCmd(cmd, []string{"agent_123"})
	require.Error(t, err)
	require.Equal(t, ExitUsage, exitCode(err))
}

func TestNewAttachCmd_RejectsNonAgentID(t *testing.T) {
	cfg := newTestConfig(t)
	cmd := newAttachCmd(cfg)
	err := execCmd(cmd, []string{"job_123"})
	require.Error(t, err)
	require.Equal(t, ExitUsage, exitCode(err))
}

func TestNewLogsCmd_RejectsNonJobNonDaemonID(t *testing.T) {
	cfg := newTestConfig(t)
	cmd := newLogsCmd(cfg)
	err := execCmd(cmd, []string{"agent_123"})
	require.Error(t, err)
	require.Equal(t, ExitUsage, exitCode(err))
}
