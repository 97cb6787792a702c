package threads

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/discordbridge/internal/discord"
	"github.com/roelfdiedericks/discordbridge/internal/discord/discordtest"
	"github.com/roelfdiedericks/discordbridge/internal/host"
	"github.com/roelfdiedericks/discordbridge/internal/state"
	"github.com/roelfdiedericks/discordbridge/internal/store"
)

var sess1 = host.SessionInfo{Key: "S1", ProjectDir: "/home/dev/widget"}

func setup(t *testing.T) (*state.State, *store.Directory, *discordtest.Client, *Resolver) {
	t.Helper()
	dir := store.NewMemoryDirectory()
	st := state.New(dir)
	client := discordtest.New()
	return st, dir, client, NewResolver(st, client)
}

func TestResolveCreatesAndPersists(t *testing.T) {
	st, dir, client, r := setup(t)

	th, created, err := r.Resolve(context.Background(), sess1, nil)
	require.NoError(t, err)
	require.NotNil(t, th)
	assert.True(t, created)
	assert.Equal(t, "widget — new session", th.Name)

	saved, ok := dir.Bindings.Load()
	require.True(t, ok)
	assert.Equal(t, store.Bindings{"S1": th.ID}, saved)
	key, ok := st.SessionForThread(th.ID)
	assert.True(t, ok)
	assert.Equal(t, "S1", key)

	seed := client.SentTo(th.ID)
	require.Len(t, seed, 1)
	assert.Contains(t, seed[0].Content, "widget")
}

func TestResolveReusesExisting(t *testing.T) {
	_, _, client, r := setup(t)

	first, _, err := r.Resolve(context.Background(), sess1, nil)
	require.NoError(t, err)
	second, created, err := r.Resolve(context.Background(), sess1, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	_, created2, _ := client.Snapshot()
	assert.Len(t, created2, 1)
}

func TestResolveUsesSeed(t *testing.T) {
	_, _, client, r := setup(t)
	seed := &discord.Message{Embed: &discord.Embed{Title: "Waiting for input"}}

	th, _, err := r.Resolve(context.Background(), sess1, seed)
	require.NoError(t, err)
	sent := client.SentTo(th.ID)
	require.Len(t, sent, 1)
	assert.Equal(t, "Waiting for input", sent[0].Embed.Title)
}

func TestResolveMutedReturnsNil(t *testing.T) {
	st, _, client, r := setup(t)
	require.NoError(t, st.Bind("S1", "T1"))
	client.AddThread(discord.Thread{ID: "T1"})
	require.NoError(t, st.Mute("T1"))

	th, created, err := r.Resolve(context.Background(), sess1, nil)
	require.NoError(t, err)
	assert.Nil(t, th)
	assert.False(t, created)
	_, createdIDs, _ := client.Snapshot()
	assert.Empty(t, createdIDs, "muted session must not get a new thread")
	id, _ := st.Binding("S1")
	assert.Equal(t, "T1", id)
}

func TestResolveUnarchives(t *testing.T) {
	st, _, client, r := setup(t)
	require.NoError(t, st.Bind("S1", "T7"))
	client.AddThread(discord.Thread{ID: "T7", Archived: true})

	th, created, err := r.Resolve(context.Background(), sess1, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "T7", th.ID)
	assert.False(t, th.Archived)
	assert.Equal(t, []string{"T7"}, client.Unarchived)
}

func TestResolveEvictsStaleBinding(t *testing.T) {
	st, dir, client, r := setup(t)
	require.NoError(t, st.Bind("S1", "stale"))

	th, created, err := r.Resolve(context.Background(), sess1, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, "stale", th.ID)

	_, ok := st.SessionForThread("stale")
	assert.False(t, ok)
	saved, _ := dir.Bindings.Load()
	assert.Equal(t, store.Bindings{"S1": th.ID}, saved)
	_ = client
}

func TestResolveTransientFetchErrorKeepsBinding(t *testing.T) {
	st, _, client, r := setup(t)
	require.NoError(t, st.Bind("S1", "T1"))
	client.FetchErr = errors.New("502 bad gateway")

	_, _, err := r.Resolve(context.Background(), sess1, nil)
	assert.Error(t, err)
	id, ok := st.Binding("S1")
	assert.True(t, ok)
	assert.Equal(t, "T1", id)
}

func TestResolveConcurrentCreatesOnce(t *testing.T) {
	_, _, client, r := setup(t)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			th, _, err := r.Resolve(context.Background(), sess1, nil)
			if err == nil {
				ids[i] = th.ID
			}
		}(i)
	}
	wg.Wait()

	_, created, _ := client.Snapshot()
	assert.Len(t, created, 1)
	for _, id := range ids {
		assert.Equal(t, created[0], id)
	}
}

func TestResolveNamedSessionMarksNamed(t *testing.T) {
	st, _, _, r := setup(t)
	sess := sess1
	sess.Name = "parser rewrite"

	th, _, err := r.Resolve(context.Background(), sess, nil)
	require.NoError(t, err)
	assert.Equal(t, "widget — parser rewrite", th.Name)
	assert.True(t, st.Named("S1"))
}

func TestThreadName(t *testing.T) {
	assert.Equal(t, "widget — new session", ThreadName("/x/widget", ""))
	assert.Equal(t, "agent — hi", ThreadName("", "hi"))

	long := ThreadName("/x/widget", strings.Repeat("w", 200))
	assert.Equal(t, discord.MaxThreadNameLength, len([]rune(long)))
	assert.True(t, strings.HasPrefix(long, "widget — www"))
	assert.True(t, strings.HasSuffix(long, discord.Ellipsis))
}

type fakeTitler struct {
	reply string
	err   error
	calls int
	last  string
}

func (f *fakeTitler) SimpleMessage(ctx context.Context, user, system string) (string, error) {
	f.calls++
	f.last = user
	return f.reply, f.err
}

var convo = []host.Message{
	{Role: "user", Text: "the csv parser drops quoted commas"},
	{Role: "assistant", Text: "I'll fix the tokenizer."},
}

func TestRenameManual(t *testing.T) {
	st, _, client, r := setup(t)
	n := NewNamer(st, r, client, nil)

	name, err := n.Rename(context.Background(), sess1, "  csv fixes ", nil)
	require.NoError(t, err)
	assert.Equal(t, "widget — csv fixes", name)
	assert.True(t, st.Named("S1"))

	id, _ := st.Binding("S1")
	assert.Equal(t, name, client.Renamed[id])
}

func TestRenameWithoutTextUsesModel(t *testing.T) {
	st, _, client, r := setup(t)
	titler := &fakeTitler{reply: "\"Fix CSV Quoted Commas.\""}
	n := NewNamer(st, r, client, titler)

	name, err := n.Rename(context.Background(), sess1, "", convo)
	require.NoError(t, err)
	assert.Equal(t, "widget — Fix CSV Quoted Commas", name)
	assert.Contains(t, titler.last, "User: the csv parser")
}

func TestRenameWithoutTextOrModel(t *testing.T) {
	st, _, client, r := setup(t)
	n := NewNamer(st, r, client, nil)
	_, err := n.Rename(context.Background(), sess1, "", convo)
	assert.ErrorIs(t, err, ErrNoTitler)
}

func TestRenameMuted(t *testing.T) {
	st, _, client, r := setup(t)
	require.NoError(t, st.Bind("S1", "T1"))
	require.NoError(t, st.Mute("T1"))
	n := NewNamer(st, r, client, nil)
	_, err := n.Rename(context.Background(), sess1, "x", nil)
	assert.ErrorIs(t, err, ErrMuted)
}

func TestAutoNameOnce(t *testing.T) {
	st, _, client, r := setup(t)
	th, _, err := r.Resolve(context.Background(), sess1, nil)
	require.NoError(t, err)

	titler := &fakeTitler{reply: "CSV parser fix"}
	n := NewNamer(st, r, client, titler)

	n.AutoName(context.Background(), sess1, convo)
	n.AutoName(context.Background(), sess1, convo)

	assert.Equal(t, 1, titler.calls)
	assert.Equal(t, "widget — CSV parser fix", client.Renamed[th.ID])
}

func TestAutoNameSkipsWhenNamedOrNoThread(t *testing.T) {
	st, _, client, r := setup(t)
	titler := &fakeTitler{reply: "x"}
	n := NewNamer(st, r, client, titler)

	// no thread yet
	n.AutoName(context.Background(), sess1, convo)
	assert.Zero(t, titler.calls)
	assert.False(t, st.Named("S1"))

	_, err := n.Rename(context.Background(), sess1, "manual", nil)
	require.NoError(t, err)
	n.AutoName(context.Background(), sess1, convo)
	assert.Zero(t, titler.calls)
}

func TestSyncSessionName(t *testing.T) {
	st, _, client, r := setup(t)
	th, _, err := r.Resolve(context.Background(), sess1, nil)
	require.NoError(t, err)
	n := NewNamer(st, r, client, nil)

	n.SyncSessionName(context.Background(), sess1) // unset: nothing
	assert.Empty(t, client.Renamed)

	named := sess1
	named.Name = "tokenizer work"
	n.SyncSessionName(context.Background(), named)
	assert.Equal(t, "widget — tokenizer work", client.Renamed[th.ID])
	assert.True(t, st.Named("S1"))

	delete(client.Renamed, th.ID)
	n.SyncSessionName(context.Background(), named) // unchanged
	assert.Empty(t, client.Renamed)
}

func TestRecentTranscriptBudget(t *testing.T) {
	msgs := []host.Message{
		{Role: "user", Text: strings.Repeat("a", 50)},
		{Role: "toolResult", Text: "ignored"},
		{Role: "assistant", Text: strings.Repeat("b", 50)},
		{Role: "user", Text: "latest"},
	}
	out := recentTranscript(msgs, 80)
	assert.Equal(t, "Assistant: "+strings.Repeat("b", 50)+"\nUser: latest", out)
	assert.NotContains(t, out, "ignored")

	single := recentTranscript([]host.Message{{Role: "user", Text: strings.Repeat("z", 100)}}, 20)
	assert.Equal(t, 20, len([]rune(single)))
}

func TestCleanTitle(t *testing.T) {
	tests := map[string]string{
		"Fix parser":                          "Fix parser",
		"\"Quoted Title.\"":                   "Quoted Title",
		"Title: Bridge setup\nmore text":      "Bridge setup",
		"one two three four five six seven":   "one two three four five six",
		"  ":                                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanTitle(in), in)
	}
}
