package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/quarry/internal/db"
	"github.com/energizer-project/quarry/internal/game"
	"github.com/energizer-project/quarry/internal/network"
	"github.com/energizer-project/quarry/internal/server"
)

type fakeController struct {
	kicked    []string
	bans      []string
	durations []time.Duration
	broadcast string
	motd      string
	shutdown  string
}

func (f *fakeController) Overview() server.Overview {
	return server.Overview{MOTD: "A Quarry Server", PlayersOnline: 1, MaxPlayers: 20, Version: "1.16.5", Protocol: 754}
}

func (f *fakeController) Connections() []network.ConnectionInfo {
	return []network.ConnectionInfo{{ID: 7, Remote: "10.0.0.1:5000", State: "play", Player: "Steve", ConnectedAt: time.Now()}}
}

func (f *fakeController) Players() []game.Member {
	return []game.Member{{Player: game.Player{ConnID: 7, Name: "Steve", UUID: uuid.New()}, JoinedAt: time.Now()}}
}

func (f *fakeController) RecentPlayers(context.Context, int) ([]db.PlayerRecord, error) {
	return []db.PlayerRecord{{Name: "Alex", UUID: "u-1", Joins: 4, LastSeen: time.Now()}}, nil
}

func (f *fakeController) Kick(id uint64, reason, _ string) error {
	if id != 7 {
		return network.ErrNoSuchConnection
	}
	f.kicked = append(f.kicked, reason)
	return nil
}

func (f *fakeController) KickPlayer(name, reason, by string) (uint64, error) {
	if name != "Steve" {
		return 0, network.ErrNoSuchConnection
	}
	return 7, f.Kick(7, reason, by)
}

func (f *fakeController) Broadcast(msg string) int {
	f.broadcast = msg
	return 1
}

func (f *fakeController) SetMOTD(motd string) error {
	f.motd = motd
	return nil
}

func (f *fakeController) Bans(context.Context) ([]db.Ban, error) {
	return []db.Ban{{Kind: db.BanIP, Target: "10.0.0.9", Reason: "spam", Source: "api"}}, nil
}

func (f *fakeController) Ban(_ context.Context, kind db.BanKind, target, reason, by string, d time.Duration) (*db.Ban, []uint64, error) {
	f.bans = append(f.bans, string(kind)+":"+target+":"+reason)
	f.durations = append(f.durations, d)
	ban := &db.Ban{Kind: kind, Target: target, Reason: reason, Source: by}
	if d > 0 {
		exp := time.Now().Add(d)
		ban.ExpiresAt = &exp
	}
	return ban, nil, nil
}

func (f *fakeController) Unban(_ context.Context, _ db.BanKind, target, _ string) error {
	if target != "griefer" {
		return db.ErrBanNotFound
	}
	return nil
}

func (f *fakeController) Shutdown(by string) { f.shutdown = by }

func runConsole(t *testing.T, ctl Controller, input string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	done := make(chan struct{})
	go func() {
		NewCLI(ctl, strings.NewReader(input), &out).Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("console did not exit")
	}
	return out.String()
}

func TestConsoleCommands(t *testing.T) {
	ctl := &fakeController{}
	out := runConsole(t, ctl, strings.Join([]string{
		"status",
		"",
		"list",
		"players",
		"history 5",
		"kick Steve griefing again",
		"kick #7",
		"kick Herobrine",
		"ban name griefer 30m tnt everywhere",
		"ban ip 10.0.0.9",
		"ban uuid x",
		"bans",
		"unban name nobody",
		"say hello world",
		"motd Welcome back",
		"dance",
	}, "\n"))

	assert.Contains(t, out, "A Quarry Server")
	assert.Contains(t, out, "1/20")
	assert.Contains(t, out, "10.0.0.1:5000")
	assert.Contains(t, out, "Steve")
	assert.Contains(t, out, "Alex")

	assert.Equal(t, []string{"griefing again", "Kicked by an operator"}, ctl.kicked)
	assert.Contains(t, out, "Error: Herobrine is not online")

	assert.Equal(t, []string{"name:griefer:tnt everywhere", "ip:10.0.0.9:"}, ctl.bans)
	assert.Equal(t, []time.Duration{30 * time.Minute, 0}, ctl.durations)
	assert.Contains(t, out, "Banned ip 10.0.0.9 permanently")
	assert.Contains(t, out, `Error: unknown ban kind "uuid"`)
	assert.Contains(t, out, "spam")
	assert.Contains(t, out, "Error: ban not found")

	assert.Equal(t, "hello world", ctl.broadcast)
	assert.Equal(t, "Welcome back", ctl.motd)
	assert.Contains(t, out, "Unknown command: 'dance'")
	assert.Empty(t, ctl.shutdown)
}

func TestConsoleStopShutsDown(t *testing.T) {
	ctl := &fakeController{}
	out := runConsole(t, ctl, "stop\nsay too late\n")

	assert.Equal(t, operatorName, ctl.shutdown)
	assert.Empty(t, ctl.broadcast)
	assert.Contains(t, out, "Shutting down Quarry...")
}

func TestConsoleExitsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, w := io.Pipe()
	defer w.Close()

	done := make(chan struct{})
	go func() {
		NewCLI(&fakeController{}, r, &bytes.Buffer{}).Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.Fail(t, "console ignored cancellation")
	}
}
