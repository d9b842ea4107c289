package eventlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sidelinehq/crewd/internal/config"
)

func testLayout(t *testing.T) config.Layout {
	t.Helper()
	dir := t.TempDir()
	layout := config.NewLayout(dir)
	require.NoError(t, layout.EnsureDirs())
	return layout
}

func TestAppend_AssignsMonotonicSeq(t *testing.T) {
	layout := testLayout(t)
	log, err := Open(layout)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	log.SetCommitWindow(0)

	ev1, err := log.Append("job:created", "demo", map[string]string{"id": "1"})
	require.NoError(t, err)
	ev2, err := log.Append("job:created", "demo", map[string]string{"id": "2"})
	require.NoError(t, err)

	require.Equal(t, int64(1), ev1.Seq)
	require.Equal(t, int64(2), ev2.Seq)
}

func TestReplay_RoundTripsAppendedEvents(t *testing.T) {
	layout := testLayout(t)
	log, err := Open(layout)
	require.NoError(t, err)
	log.SetCommitWindow(0)

	for i := 0; i < 5; i++ {
		_, err := log.Append("step:completed", "demo", map[string]int{"i": i})
		require.NoError(t, err)
	}
	require.NoError(t, log.Close())

	events, err := Replay(layout.WAL)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		require.Equal(t, int64(i+1), ev.Seq)
		require.Equal(t, "step:completed", ev.Type)
	}
}

func TestReplay_SkipsCorruptTailAndRotatesBackup(t *testing.T) {
	layout := testLayout(t)
	log, err := Open(layout)
	require.NoError(t, err)
	log.SetCommitWindow(0)

	_, err = log.Append("job:created", "demo", map[string]string{"id": "1"})
	require.NoError(t, err)
	_, err = log.Append("job:created", "demo", map[string]string{"id": "2"})
	require.NoError(t, err)
	require.NoError(t, log.Close())

	f, err := os.OpenFile(layout.WAL, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := Replay(layout.WAL)
	require.NoError(t, err)
	require.Len(t, events, 2, "corrupt tail is skipped, valid prefix survives")

	require.FileExists(t, layout.WAL+".bak")

	// A second corruption rotates the existing backup rather than overwriting it.
	f, err = os.OpenFile(layout.WAL, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{also not valid\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err = Replay(layout.WAL)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.FileExists(t, layout.WAL+".bak")
	require.FileExists(t, layout.WAL+".bak.1")
}

func TestTruncateUpTo_KeepsOnlyLaterEvents(t *testing.T) {
	layout := testLayout(t)
	log, err := Open(layout)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	log.SetCommitWindow(0)

	for i := 0; i < 4; i++ {
		_, err := log.Append("step:completed", "demo", map[string]int{"i": i})
		require.NoError(t, err)
	}

	require.NoError(t, log.TruncateUpTo(2))

	events, err := Replay(layout.WAL)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(3), events[0].Seq)
	require.Equal(t, int64(4), events[1].Seq)
}

func TestSnapshot_RoundTripsEnvelopeAndBody(t *testing.T) {
	layout := testLayout(t)
	body := []byte(`{"jobs":{}}`)

	require.NoError(t, WriteSnapshot(layout, 42, body))

	env, gotBody, ok, err := LoadSnapshot(layout)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), env.UpToSeq)
	require.Equal(t, body, gotBody)
}

func TestLoadSnapshot_MissingFileIsNotAnError(t *testing.T) {
	layout := testLayout(t)
	_, _, ok, err := LoadSnapshot(layout)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadSnapshot_CorruptFileIsQuarantined(t *testing.T) {
	layout := testLayout(t)
	require.NoError(t, os.WriteFile(layout.Snapshot, []byte("not zstd at all"), 0o644))

	_, _, ok, err := LoadSnapshot(layout)
	require.NoError(t, err)
	require.False(t, ok)
	require.FileExists(t, filepath.Join(layout.Root, "snapshot.zst.corrupt"))
}
