package daemon_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sidelinehq/crewd/internal/config"
	"github.com/sidelinehq/crewd/internal/daemon"
	"github.com/sidelinehq/crewd/internal/ipc"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	return cfg
}

func TestDaemon_StartAcceptsConnectionsAndShutsDown(t *testing.T) {
	cfg := testConfig(t)

	d, err := daemon.Start(cfg, daemon.Options{Version: "test"})
	require.NoError(t, err)

	layout := config.NewLayout(cfg.StateDir)
	client, err := ipc.DialUnix(layout.Socket, time.Second)
	require.NoError(t, err)
	resp, err := client.Call(ipc.Request{Type: "ping"})
	require.NoError(t, err)
	require.True(t, resp.Ok)
	client.Close()

	gotVersion, err := daemon.ReadVersionFile(layout.VersionFile)
	require.NoError(t, err)
	require.Equal(t, "test", gotVersion)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	_, err = ipc.DialUnix(layout.Socket, 100*time.Millisecond)
	require.Error(t, err)
}

func TestDaemon_ShutdownIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	d, err := daemon.Start(cfg, daemon.Options{Version: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	require.NoError(t, d.Shutdown(ctx))
}

func TestDaemon_SecondStartOnSameDirFailsWithLockHeld(t *testing.T) {
	cfg := testConfig(t)
	d, err := daemon.Start(cfg, daemon.Options{Version: "test"})
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.Shutdown(ctx)
	}()

	_, err = daemon.Start(cfg, daemon.Options{Version: "test"})
	require.Error(t, err)
}

func TestDaemon_RestartReplaysStateAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	layout := config.NewLayout(cfg.StateDir)

	d1, err := daemon.Start(cfg, daemon.Options{Version: "test"})
	require.NoError(t, err)

	client, err := ipc.DialUnix(layout.Socket, time.Second)
	require.NoError(t, err)
	resp, err := client.Call(ipc.Request{
		Type:    "command:run",
		Payload: []byte(`{"command":"noop","steps":[{"name":"step1","kind":"shell","command":"true"}]}`),
	})
	require.NoError(t, err)
	require.True(t, resp.Ok)
	client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d1.Shutdown(ctx))

	d2, err := daemon.Start(cfg, daemon.Options{Version: "test"})
	require.NoError(t, err)
	defer func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		d2.Shutdown(ctx2)
	}()

	client2, err := ipc.DialUnix(layout.Socket, time.Second)
	require.NoError(t, err)
	defer client2.Close()
	resp2, err := client2.Call(ipc.Request{
		Type:    "query",
		Payload: []byte(`{"resource":"job"}`),
	})
	require.NoError(t, err)
	require.True(t, resp2.Ok)
}
