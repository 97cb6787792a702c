package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/discordbridge/internal/commands"
	"github.com/roelfdiedericks/discordbridge/internal/host"
	"github.com/roelfdiedericks/discordbridge/internal/host/hosttest"
	"github.com/roelfdiedericks/discordbridge/internal/state"
	"github.com/roelfdiedericks/discordbridge/internal/store"
)

type fakeAgent struct {
	*hosttest.Host
	mu       sync.Mutex
	sessions int
	newErr   error
}

func (f *fakeAgent) NewSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return f.newErr
	}
	f.sessions++
	return nil
}

func runConsole(t *testing.T, input string) (*bytes.Buffer, *fakeAgent, *state.State) {
	t.Helper()
	out := &bytes.Buffer{}
	st := state.New(store.NewMemoryDirectory())
	a := &fakeAgent{Host: hosttest.New(host.SessionInfo{Key: "S1"})}
	cmds := commands.NewManager()
	cmds.Register(&commands.Command{
		Name: "/echo",
		Handler: func(ctx context.Context, args *commands.CommandArgs) *commands.CommandResult {
			return &commands.CommandResult{Text: args.Session.Key + ":" + args.RawArgs}
		},
	})

	c := NewConsole(strings.NewReader(input), out)
	c.Attach(a, st, cmds)
	require.NoError(t, c.Run(context.Background(), make(chan struct{})))
	return out, a, st
}

func TestConsoleSendsTurnsByBusyState(t *testing.T) {
	_, a, st := runConsole(t, "first\n\nsecond\n")

	sent := a.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "first", sent[0].Turn.Text())
	assert.Equal(t, host.Immediate, sent[0].Delivery)
	assert.Equal(t, "second", sent[1].Turn.Text())
	assert.Equal(t, host.FollowUp, sent[1].Delivery)

	busy, _ := st.Busy()
	assert.True(t, busy)
}

func TestConsoleRunsCommands(t *testing.T) {
	out, a, _ := runConsole(t, "/echo hello there\n/new\n")

	assert.Contains(t, out.String(), "S1:hello there")
	assert.Contains(t, out.String(), "Started a new session.")
	assert.Equal(t, 1, a.sessions)
	assert.Empty(t, a.Sent())
}

func TestConsoleQuitStopsReading(t *testing.T) {
	out, a, _ := runConsole(t, "/quit\nnever sent\n")
	assert.Contains(t, out.String(), "Bye.")
	assert.Empty(t, a.Sent())
}

func TestConsoleUnknownCommand(t *testing.T) {
	out, _, _ := runConsole(t, "/nope\n")
	assert.Contains(t, out.String(), "Unknown command: /nope")
}

func TestConsoleSendFailureClearsBusy(t *testing.T) {
	out := &bytes.Buffer{}
	st := state.New(store.NewMemoryDirectory())
	a := &fakeAgent{Host: hosttest.New(host.SessionInfo{Key: "S1"})}
	a.SendErr = host.ErrNotRunning

	c := NewConsole(strings.NewReader("hello\n"), out)
	c.Attach(a, st, commands.NewManager())
	require.NoError(t, c.Run(context.Background(), make(chan struct{})))

	busy, _ := st.Busy()
	assert.False(t, busy)
	assert.Contains(t, out.String(), "agent is not running")
}

func TestConsoleStopsWhenAgentExits(t *testing.T) {
	done := make(chan struct{})
	close(done)
	out := &bytes.Buffer{}
	pr, pw := io.Pipe()
	defer pw.Close()

	c := NewConsole(pr, out)
	c.Attach(&fakeAgent{Host: hosttest.New(host.SessionInfo{})}, state.New(store.NewMemoryDirectory()), commands.NewManager())
	require.NoError(t, c.Run(context.Background(), done))
	assert.Contains(t, out.String(), "agent exited")
}

func TestConsoleNotices(t *testing.T) {
	out := &bytes.Buffer{}
	c := NewConsole(strings.NewReader(""), out)
	c.AgentText("  all done  ")
	c.AgentText("   ")
	c.Notice("token missing", host.LevelWarning)
	c.Notice("boom", host.LevelError)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{"all done", "! token missing", "✗ boom"}, lines)
}

func TestNewSessionFailure(t *testing.T) {
	out := &bytes.Buffer{}
	a := &fakeAgent{Host: hosttest.New(host.SessionInfo{}), newErr: errors.New("agent busy")}
	c := NewConsole(strings.NewReader("/new\n"), out)
	c.Attach(a, state.New(store.NewMemoryDirectory()), commands.NewManager())
	require.NoError(t, c.Run(context.Background(), make(chan struct{})))
	assert.Contains(t, out.String(), "New session failed: agent busy")
}
