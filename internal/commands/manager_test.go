package commands

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/discordbridge/internal/host"
)

func TestExecuteRoutesArgs(t *testing.T) {
	m := NewManager()
	var got *CommandArgs
	m.Register(&Command{
		Name:    "/discord-rename",
		Usage:   "[name]",
		Aliases: []string{"/rename"},
		Handler: func(ctx context.Context, args *CommandArgs) *CommandResult {
			got = args
			return &CommandResult{Text: "ok"}
		},
	})

	sess := host.SessionInfo{Key: "S1"}
	res := m.Execute(context.Background(), "/Discord-Rename   fix the login flow ", sess)
	assert.Equal(t, "ok", res.Text)
	require.NotNil(t, got)
	assert.Equal(t, "fix the login flow", got.RawArgs)
	assert.Equal(t, "[name]", got.Usage)
	assert.Equal(t, sess, got.Session)

	res = m.Execute(context.Background(), "/rename", sess)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, "", got.RawArgs)
}

func TestUnknownCommand(t *testing.T) {
	m := NewManager()
	res := m.Execute(context.Background(), "/nope", host.SessionInfo{})
	assert.Error(t, res.Error)
	assert.Contains(t, res.Text, "Unknown command: /nope")
}

func TestHelpListsCommandsOnce(t *testing.T) {
	m := NewManager()
	m.Register(&Command{Name: "/discord-test", Description: "Send a test notification", Aliases: []string{"/dt"},
		Handler: func(ctx context.Context, args *CommandArgs) *CommandResult { return nil }})

	assert.Len(t, m.List(), 2)
	res := m.Execute(context.Background(), "/help", host.SessionInfo{})
	assert.Contains(t, res.Text, "/discord-test")
	assert.Contains(t, res.Text, "Send a test notification")

	// nil results are normalised
	res = m.Execute(context.Background(), "/dt", host.SessionInfo{})
	require.NotNil(t, res)
	assert.NoError(t, res.Error)
}

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand("  /help"))
	assert.False(t, IsCommand("hello /help"))
}

func TestErrorf(t *testing.T) {
	res := Errorf("bad channel %q", "x")
	assert.Equal(t, `bad channel "x"`, res.Text)
	assert.Error(t, res.Error)
}
