package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/internal/ipc"
)

func daemon(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "murmur-ctl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "ctl.sock")

	srv, err := ipc.Listen(path, func(_ context.Context, msg ipc.ControlMessage) ipc.Reply {
		switch msg.Cmd {
		case ipc.CmdStatus:
			return ipc.Reply{OK: true, State: "listening"}
		case ipc.CmdPlugins:
			return ipc.Reply{OK: true, Plugins: []ipc.PluginInfo{
				{Name: "weather", Runtime: "process/python", Description: "Forecasts"},
			}}
		default:
			return ipc.Reply{Error: "nope"}
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatus(t *testing.T) {
	out, err := execute(t, "--socket", daemon(t), "status")
	require.NoError(t, err)
	assert.Equal(t, "listening\n", out)
}

func TestPlugins(t *testing.T) {
	out, err := execute(t, "--socket", daemon(t), "plugins")
	require.NoError(t, err)
	assert.Contains(t, out, "weather")
	assert.Contains(t, out, "process/python")
	assert.Contains(t, out, "Forecasts")
}

func TestStopRejected(t *testing.T) {
	_, err := execute(t, "--socket", daemon(t), "stop")
	assert.EqualError(t, err, "nope")
}

func TestNoDaemon(t *testing.T) {
	_, err := execute(t, "--socket", filepath.Join(t.TempDir(), "none.sock"), "status")
	assert.ErrorContains(t, err, "murmur not running")
}
