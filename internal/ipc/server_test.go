package ipc_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sidelinehq/crewd/internal/ipc"
)

func TestServer_UnixSocketRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "control.sock")
	h := newHandler(&fakePublisher{}, newFakeQuery())
	srv := &ipc.Server{Handler: h}
	require.NoError(t, srv.ListenUnix(sockPath))
	defer func() {
		srv.Close()
		srv.Wait()
	}()

	client, err := ipc.DialUnix(sockPath, time.Second)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(ipc.Request{Type: "ping"})
	require.NoError(t, err)
	require.True(t, resp.Ok)
}

func TestServer_ReplacesStaleSocketFile(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "control.sock")
	h := newHandler(&fakePublisher{}, newFakeQuery())

	srv1 := &ipc.Server{Handler: h}
	require.NoError(t, srv1.ListenUnix(sockPath))
	srv1.Close()
	srv1.Wait()

	srv2 := &ipc.Server{Handler: h}
	require.NoError(t, srv2.ListenUnix(sockPath))
	defer func() {
		srv2.Close()
		srv2.Wait()
	}()

	client, err := ipc.DialUnix(sockPath, time.Second)
	require.NoError(t, err)
	defer client.Close()
	resp, err := client.Call(ipc.Request{Type: "ping"})
	require.NoError(t, err)
	require.True(t, resp.Ok)
}

func TestServer_TCPRequiresBearerToken(t *testing.T) {
	h := newHandler(&fakePublisher{}, newFakeQuery())
	srv := &ipc.Server{Handler: h, BearerToken: "secret"}
	require.NoError(t, srv.ListenTCP("127.0.0.1:0"))
	defer func() {
		srv.Close()
		srv.Wait()
	}()

	addr := srv.Addr()
	require.NotEmpty(t, addr)

	_, err := ipc.DialTCP(addr, "wrong", time.Second)
	require.Error(t, err)

	client, err := ipc.DialTCP(addr, "secret", time.Second)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(ipc.Request{Type: "ping"})
	require.NoError(t, err)
	require.True(t, resp.Ok)
}
