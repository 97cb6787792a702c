package discord

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	channels map[string]*discordgo.Channel
	openErr  error
	opened   int
	closed   int
	handlers []interface{}
	sends    []*discordgo.MessageSend
	edits    map[string]*discordgo.ChannelEdit
	forum    []*discordgo.ThreadStart
	threads  []*discordgo.ThreadStart
	deleted  []string
	reacts   []string
	nextID   int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		channels: map[string]*discordgo.Channel{
			"text":  {ID: "text", Name: "agents", Type: discordgo.ChannelTypeGuildText},
			"forum": {ID: "forum", Name: "sessions", Type: discordgo.ChannelTypeGuildForum},
			"voice": {ID: "voice", Name: "lobby", Type: discordgo.ChannelTypeGuildVoice},
		},
		edits: make(map[string]*discordgo.ChannelEdit),
	}
}

func (f *fakeAPI) id(prefix string) string {
	f.nextID++
	return prefix + string(rune('0'+f.nextID))
}

func (f *fakeAPI) Open() error {
	f.opened++
	return f.openErr
}

func (f *fakeAPI) Close() error {
	f.closed++
	return nil
}

func (f *fakeAPI) AddHandler(h interface{}) func() {
	f.handlers = append(f.handlers, h)
	return func() {}
}

func (f *fakeAPI) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	return &discordgo.User{ID: "bot", Username: "bridge", Bot: true}, nil
}

func (f *fakeAPI) Channel(id string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		return nil, &discordgo.RESTError{
			Response: &http.Response{StatusCode: http.StatusNotFound},
			Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownChannel, Message: "Unknown Channel"},
		}
	}
	return ch, nil
}

func (f *fakeAPI) ChannelEdit(id string, data *discordgo.ChannelEdit, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[id] = data
	return f.channels[id], nil
}

func (f *fakeAPI) ChannelDelete(id string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	delete(f.channels, id)
	return nil, nil
}

func (f *fakeAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, data)
	return &discordgo.Message{ID: f.id("m"), ChannelID: channelID}, nil
}

func (f *fakeAPI) ForumThreadStartComplex(channelID string, td *discordgo.ThreadStart, md *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forum = append(f.forum, td)
	f.sends = append(f.sends, md)
	ch := &discordgo.Channel{ID: f.id("t"), Name: td.Name, ParentID: channelID, Type: discordgo.ChannelTypeGuildPublicThread}
	f.channels[ch.ID] = ch
	return ch, nil
}

func (f *fakeAPI) MessageThreadStartComplex(channelID, messageID string, td *discordgo.ThreadStart, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads = append(f.threads, td)
	ch := &discordgo.Channel{ID: f.id("t"), Name: td.Name, ParentID: channelID, Type: discordgo.ChannelTypeGuildPublicThread}
	f.channels[ch.ID] = ch
	return ch, nil
}

func (f *fakeAPI) MessageReactionAdd(channelID, messageID, emoji string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reacts = append(f.reacts, messageID+":"+emoji)
	return nil
}

type countingIndex struct{ n int }

func (c *countingIndex) RebuildIndex() { c.n++ }

func newTestGateway(f *fakeAPI, idx IndexRebuilder) *Gateway {
	g := NewGateway(idx)
	g.dial = func(token string) (api, error) { return f, nil }
	return g
}

func TestStartTextChannel(t *testing.T) {
	f := newFakeAPI()
	idx := &countingIndex{}
	g := newTestGateway(f, idx)

	res := g.Start(context.Background(), "tok", "text")
	require.True(t, res.OK, res.Error)
	assert.Equal(t, StatusConnected, g.Status())
	assert.Equal(t, "bot", g.BotID())
	assert.False(t, g.IsForum())
	assert.Equal(t, 1, idx.n)
	assert.Len(t, f.handlers, 5)

	// second start is a no-op
	res = g.Start(context.Background(), "tok", "text")
	assert.True(t, res.OK)
	assert.Equal(t, 1, f.opened)
	assert.Equal(t, 1, idx.n)
}

func TestStartForumChannel(t *testing.T) {
	g := newTestGateway(newFakeAPI(), nil)
	res := g.Start(context.Background(), "tok", "forum")
	require.True(t, res.OK)
	assert.True(t, g.IsForum())
}

func TestStartFailuresAreResults(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		channel string
		openErr error
		want    string
	}{
		{"no token", "", "text", nil, "no bot token"},
		{"no channel", "tok", "", nil, "no channel"},
		{"auth rejected", "tok", "text", errors.New("401 Unauthorized"), "connect"},
		{"missing channel", "tok", "nope", nil, "not found"},
		{"wrong type", "tok", "voice", nil, "not a text or forum channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeAPI()
			f.openErr = tt.openErr
			g := newTestGateway(f, nil)

			res := g.Start(context.Background(), tt.token, tt.channel)
			assert.False(t, res.OK)
			assert.Contains(t, res.Error, tt.want)
			assert.Equal(t, StatusDisconnected, g.Status())
		})
	}
}

func TestGatewayDropAndRestore(t *testing.T) {
	f := newFakeAPI()
	g := newTestGateway(f, nil)
	require.True(t, g.Start(context.Background(), "tok", "text").OK)

	g.handleDisconnect(nil, &discordgo.Disconnect{})
	assert.Equal(t, StatusDisconnected, g.Status())
	_, err := g.SendMessage(context.Background(), "t1", Message{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)

	g.handleResumed(nil, &discordgo.Resumed{})
	assert.Equal(t, StatusConnected, g.Status())

	// a Ready without a preceding drop changes nothing
	g.handleReady(nil, &discordgo.Ready{})
	assert.Equal(t, StatusConnected, g.Status())

	g.handleDisconnect(nil, &discordgo.Disconnect{})
	require.True(t, g.Start(context.Background(), "tok", "text").OK)
	assert.Equal(t, 1, f.closed, "dropped session closed before redial")
	assert.Equal(t, 2, f.opened)

	require.NoError(t, g.Stop())
	g.handleDisconnect(nil, &discordgo.Disconnect{})
	g.handleReady(nil, &discordgo.Ready{})
	assert.Equal(t, StatusDisconnected, g.Status())
}

func TestCallsRequireConnection(t *testing.T) {
	g := newTestGateway(newFakeAPI(), nil)
	_, err := g.FetchThread(context.Background(), "t1")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = g.SendMessage(context.Background(), "t1", Message{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCreateThreadTextChannel(t *testing.T) {
	f := newFakeAPI()
	g := newTestGateway(f, nil)
	require.True(t, g.Start(context.Background(), "tok", "text").OK)

	long := strings.Repeat("x", 150)
	th, err := g.CreateThread(context.Background(), long, Message{Content: "started"})
	require.NoError(t, err)
	assert.Equal(t, "text", th.ParentID)
	require.Len(t, f.threads, 1)
	assert.Equal(t, MaxThreadNameLength, len([]rune(f.threads[0].Name)))
	assert.True(t, strings.HasSuffix(f.threads[0].Name, Ellipsis))
	assert.Empty(t, f.forum)
	assert.Equal(t, "started", f.sends[0].Content)
}

func TestCreateThreadForum(t *testing.T) {
	f := newFakeAPI()
	g := newTestGateway(f, nil)
	require.True(t, g.Start(context.Background(), "tok", "forum").OK)

	th, err := g.CreateThread(context.Background(), "proj — new session", Message{Embed: &Embed{Title: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "forum", th.ParentID)
	require.Len(t, f.forum, 1)
	assert.Empty(t, f.threads)
	require.Len(t, f.sends[0].Embeds, 1)
	assert.Equal(t, "hi", f.sends[0].Embeds[0].Title)
}

func TestFetchThread(t *testing.T) {
	f := newFakeAPI()
	f.channels["t9"] = &discordgo.Channel{
		ID:             "t9",
		Type:           discordgo.ChannelTypeGuildPublicThread,
		ThreadMetadata: &discordgo.ThreadMetadata{Archived: true},
	}
	g := newTestGateway(f, nil)
	require.True(t, g.Start(context.Background(), "tok", "text").OK)

	th, err := g.FetchThread(context.Background(), "t9")
	require.NoError(t, err)
	assert.True(t, th.Archived)

	_, err = g.FetchThread(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrThreadNotFound)

	_, err = g.FetchThread(context.Background(), "text")
	assert.ErrorIs(t, err, ErrThreadNotFound, "a non-thread channel is not a thread")

	require.NoError(t, g.UnarchiveThread(context.Background(), "t9"))
	require.NotNil(t, f.edits["t9"].Archived)
	assert.False(t, *f.edits["t9"].Archived)
}

func TestSendMessageConversion(t *testing.T) {
	f := newFakeAPI()
	g := newTestGateway(f, nil)
	require.True(t, g.Start(context.Background(), "tok", "text").OK)

	_, err := g.SendMessage(context.Background(), "t1", Message{
		Content: strings.Repeat("a", 2500),
		ReplyTo: "m0",
		Files:   []File{{Name: "a.png", ContentType: "image/png", Data: []byte("png")}},
		Embed:   &Embed{Description: strings.Repeat("d", 5000), Footer: "foot", Fields: []EmbedField{{Name: "k", Value: "v"}}},
	})
	require.NoError(t, err)

	send := f.sends[0]
	assert.Equal(t, MaxMessageLength, len([]rune(send.Content)))
	assert.Equal(t, "m0", send.Reference.MessageID)
	require.Len(t, send.Files, 1)
	data, _ := io.ReadAll(send.Files[0].Reader)
	assert.Equal(t, "png", string(data))
	assert.Equal(t, MaxEmbedDescription, len([]rune(send.Embeds[0].Description)))
	assert.Equal(t, "foot", send.Embeds[0].Footer.Text)
}

func TestEventHandlersConvert(t *testing.T) {
	g := newTestGateway(newFakeAPI(), nil)

	var got IncomingMessage
	g.OnMessage(func(m IncomingMessage) { got = m })
	g.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "t1",
		Content:   "hello",
		Flags:     voiceMessageFlag,
		Author:    &discordgo.User{ID: "u1"},
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn/x.ogg", Filename: "voice-message.ogg", ContentType: "audio/ogg", Size: 10},
		},
	}})
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "u1", got.AuthorID)
	assert.True(t, got.Voice)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "audio/ogg", got.Attachments[0].ContentType)

	var r Reaction
	g.OnReaction(func(x Reaction) { r = x })
	g.handleReactionAdd(nil, &discordgo.MessageReactionAdd{MessageReaction: &discordgo.MessageReaction{
		UserID: "u1", ChannelID: "t1", MessageID: "m1", Emoji: discordgo.Emoji{Name: "🔇"},
	}})
	assert.Equal(t, Reaction{UserID: "u1", ChannelID: "t1", MessageID: "m1", Emoji: "🔇"}, r)
}

func TestStop(t *testing.T) {
	f := newFakeAPI()
	g := newTestGateway(f, nil)
	require.NoError(t, g.Stop())
	require.True(t, g.Start(context.Background(), "tok", "text").OK)
	require.NoError(t, g.Stop())
	assert.Equal(t, 1, f.closed)
	assert.False(t, g.Connected())
	assert.Empty(t, g.BotID())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab…", Truncate("abcd", 3))
	assert.Equal(t, "é…", Truncate("ééé", 2))
	assert.Equal(t, "", Truncate("abc", 0))
}
