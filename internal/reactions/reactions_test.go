package reactions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/discordbridge/internal/discord"
	"github.com/roelfdiedericks/discordbridge/internal/discord/discordtest"
	"github.com/roelfdiedericks/discordbridge/internal/host"
	"github.com/roelfdiedericks/discordbridge/internal/state"
	"github.com/roelfdiedericks/discordbridge/internal/store"
	"github.com/roelfdiedericks/discordbridge/internal/threads"
)

type fixture struct {
	dir    *store.Directory
	st     *state.State
	client *discordtest.Client
	ctl    *Controller
	slept  []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dir: store.NewMemoryDirectory(), client: discordtest.New()}
	f.st = state.New(f.dir)
	f.client.AddThread(discord.Thread{ID: "T1", Name: "widget — new session"})
	require.NoError(t, f.st.Bind("S1", "T1"))
	f.ctl = New(f.st, f.client, 0)
	f.ctl.sleep = func(ctx context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	return f
}

func reaction(emoji string) discord.Reaction {
	return discord.Reaction{UserID: "human", ChannelID: "T1", MessageID: "M7", Emoji: emoji}
}

func TestMuteReaction(t *testing.T) {
	f := newFixture(t)
	f.ctl.HandleReaction(context.Background(), reaction(MuteEmoji))

	assert.Equal(t, []string{"T1"}, f.st.Muted())
	saved, ok := f.dir.Muted.Load()
	require.True(t, ok)
	assert.Equal(t, store.Muted{"T1"}, saved)

	// binding kept
	id, ok := f.st.Binding("S1")
	require.True(t, ok)
	assert.Equal(t, "T1", id)

	msgs := f.client.SentTo("T1")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "muted")
	assert.Equal(t, []string{"T1/M7/" + AckEmoji}, f.client.Reactions)

	// the session's thread no longer resolves
	r := threads.NewResolver(f.st, f.client)
	th, _, err := r.Resolve(context.Background(), host.SessionInfo{Key: "S1"}, nil)
	require.NoError(t, err)
	assert.Nil(t, th)
}

func TestDeleteReaction(t *testing.T) {
	for _, emoji := range []string{DeleteEmoji, deleteEmojiBare} {
		t.Run(emoji, func(t *testing.T) {
			f := newFixture(t)
			f.ctl.HandleReaction(context.Background(), reaction(emoji))
			f.ctl.Wait()

			assert.Equal(t, []string{"T1"}, f.st.Muted())
			_, ok := f.st.Binding("S1")
			assert.False(t, ok)
			_, ok = f.st.SessionForThread("T1")
			assert.False(t, ok)
			saved, _ := f.dir.Bindings.Load()
			assert.Empty(t, saved)

			msgs := f.client.SentTo("T1")
			require.Len(t, msgs, 1)
			assert.Contains(t, msgs[0].Content, "5 seconds")
			assert.Equal(t, []time.Duration{DefaultGrace}, f.slept)
			assert.Equal(t, []string{"T1"}, f.client.Deleted)
		})
	}
}

func TestDeleteWaitsForGrace(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.ctl.sleep = func(ctx context.Context, d time.Duration) error {
		<-release
		return nil
	}

	f.ctl.HandleReaction(context.Background(), reaction(DeleteEmoji))
	_, _, deleted := f.client.Snapshot()
	assert.Empty(t, deleted, "thread survives until the grace period ends")

	close(release)
	f.ctl.Wait()
	_, _, deleted = f.client.Snapshot()
	assert.Equal(t, []string{"T1"}, deleted)
}

func TestDeleteCancelled(t *testing.T) {
	f := newFixture(t)
	f.ctl.sleep = sleepCtx
	f.ctl.grace = time.Hour
	ctx, cancel := context.WithCancel(context.Background())

	f.ctl.HandleReaction(ctx, reaction(DeleteEmoji))
	cancel()
	f.ctl.Wait()

	assert.Empty(t, f.client.Deleted)
}

func TestIgnoredReactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctl.HandleReaction(ctx, reaction("👍"))
	f.ctl.HandleReaction(ctx, discord.Reaction{UserID: "bot", ChannelID: "T1", MessageID: "M1", Emoji: MuteEmoji})
	f.ctl.HandleReaction(ctx, discord.Reaction{UserID: "human", ChannelID: "C-other", MessageID: "M1", Emoji: DeleteEmoji})
	f.ctl.Wait()

	assert.Empty(t, f.st.Muted())
	sent, _, deleted := f.client.Snapshot()
	assert.Empty(t, sent)
	assert.Empty(t, deleted)
}

func TestUnmute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ctl.HandleReaction(ctx, reaction(MuteEmoji))

	id, was, err := f.ctl.Unmute(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "T1", id)
	assert.True(t, was)
	assert.Empty(t, f.st.Muted())

	msgs := f.client.SentTo("T1")
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "resumed")

	// not muted: no confirmation
	_, was, err = f.ctl.Unmute(ctx, "S1")
	require.NoError(t, err)
	assert.False(t, was)
	assert.Len(t, f.client.SentTo("T1"), 2)

	_, _, err = f.ctl.Unmute(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNoThread)
}

func TestUnmuteOffline(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.st.Mute("T1"))
	f.client.SetConnected(false)

	_, was, err := f.ctl.Unmute(context.Background(), "S1")
	require.NoError(t, err)
	assert.True(t, was)
	assert.Empty(t, f.client.Sent)
}

func TestActionFor(t *testing.T) {
	assert.Equal(t, ActionMute, ActionFor("🔇"))
	assert.Equal(t, ActionDelete, ActionFor("🗑️"))
	assert.Equal(t, ActionDelete, ActionFor("🗑"))
	assert.Equal(t, ActionNone, ActionFor("🔈"))
}
