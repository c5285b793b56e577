package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamx/teamx-server/internal/block"
	"github.com/teamx/teamx-server/internal/config"
	"github.com/teamx/teamx-server/internal/editor"
	"github.com/teamx/teamx-server/internal/errutil"
	"github.com/teamx/teamx-server/internal/packet"
	"github.com/teamx/teamx-server/internal/permission"
	"github.com/teamx/teamx-server/internal/save"
	"github.com/teamx/teamx-server/internal/server"
	"github.com/teamx/teamx-server/internal/transport/transporttest"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	for _, sub := range []string{"serve", "admin"} {
		assert.Contains(t, buf.String(), sub, "help missing %q command", sub)
	}
}

func TestAdminCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"admin", "--help"})

	require.NoError(t, cmd.Execute())

	for _, sub := range []string{"set-level", "rename", "players", "save", "status", "watch"} {
		assert.Contains(t, buf.String(), sub, "help missing %q command", sub)
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"serve", "--log-format", "xml"})

	err := cmd.Execute()
	errutil.AssertErrorCode(t, err, config.CodeInvalid)
}

func TestAdmin_BadPlayerID(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"admin", "--addr", "127.0.0.1:1", "set-level", "not-a-number", "moderator"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decimal")
}

// runningServer starts an editor server over the in-memory transport with
// the control plane on a loopback port.
func runningServer(t *testing.T) (addr string, host *transporttest.Host) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	oracle, err := permission.NewOracle(permission.NewMemStore(), logger)
	require.NoError(t, err)

	saves, err := save.NewManager(save.Config{
		LevelName: "Admin Test",
		BasePath:  t.TempDir(),
	}, logger)
	require.NoError(t, err)

	world := editor.New()
	require.NoError(t, world.Add(block.New("b1", 7, 1, nil)))

	host = transporttest.NewHost()
	srv := server.New(server.Config{ServiceTimeout: time.Millisecond}, host, oracle, logger,
		server.WithEditor(world), server.WithSaver(saves))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctl, err := startControl(logger, l, srv)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		_ = ctl.Close()
		cancel()
		<-done
	})
	return l.Addr().String(), host
}

func runCmd(t *testing.T, args ...string) string {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), buf.String())
	return buf.String()
}

func TestAdmin_AgainstRunningServer(t *testing.T) {
	addr, host := runningServer(t)

	c := host.Connect()
	host.Send(c, &packet.HandshakeResponse{SteamID: 7})
	host.Send(c, &packet.PlayerJoin{SteamID: 7, Name: "Seven"})

	require.Eventually(t, func() bool {
		cmd := NewRootCmd()
		buf := new(bytes.Buffer)
		cmd.SetOut(buf)
		cmd.SetArgs([]string{"admin", "--addr", addr, "status"})
		return cmd.Execute() == nil && bytes.Contains(buf.Bytes(), []byte("players:     1"))
	}, 2*time.Second, 10*time.Millisecond)

	out := runCmd(t, "admin", "--addr", addr, "status")
	assert.Contains(t, out, "blocks:      1")
	assert.Contains(t, out, "floor:       90")

	out = runCmd(t, "admin", "--addr", addr, "set-level", "7", "moderator")
	assert.Contains(t, out, "player 7 is now moderator")

	out = runCmd(t, "admin", "--addr", addr, "rename", "7", "Lucky")
	assert.Contains(t, out, "renamed to Lucky")

	out = runCmd(t, "admin", "--addr", addr, "players", "Luck*")
	assert.Contains(t, out, "PLAYER")
	assert.Regexp(t, `7\s+Lucky\s+moderator\s+true\s+1`, out)

	out = runCmd(t, "admin", "--addr", addr, "players", "nobody*")
	assert.NotContains(t, out, "Lucky")

	out = runCmd(t, "admin", "--addr", addr, "save")
	assert.Contains(t, out, "Admin Test_")
	assert.Contains(t, out, save.ServerExt)
}

func TestEmergencySave(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	newSaves := func(t *testing.T) *save.Manager {
		saves, err := save.NewManager(save.Config{LevelName: "Busy Port", BasePath: t.TempDir(), BackupCount: 1}, logger)
		require.NoError(t, err)
		return saves
	}
	count := func(t *testing.T, saves *save.Manager) int {
		entries, err := os.ReadDir(saves.ServerDir())
		require.NoError(t, err)
		return len(entries)
	}

	t.Run("skipped for an empty level that was never loaded", func(t *testing.T) {
		saves := newSaves(t)
		emergencySave(logger, saves, editor.New(), false)
		assert.Equal(t, 0, count(t, saves))
	})

	t.Run("written for a loaded level", func(t *testing.T) {
		saves := newSaves(t)
		emergencySave(logger, saves, editor.New(), true)
		assert.Equal(t, 1, count(t, saves))
	})

	t.Run("written when the level has blocks", func(t *testing.T) {
		saves := newSaves(t)
		world := editor.New()
		require.NoError(t, world.Add(block.New("b1", 7, 1, nil)))
		emergencySave(logger, saves, world, false)
		assert.Equal(t, 1, count(t, saves))
	})
}
