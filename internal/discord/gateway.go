// Package discord owns the bridge's single Discord gateway connection and
// exposes the narrow Client the other components use.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	. "github.com/roelfdiedericks/discordbridge/internal/logging"
)

// IndexRebuilder rebuilds the watched-thread index on connect.
type IndexRebuilder interface {
	RebuildIndex()
}

// Gateway is the connection manager. It implements Client.
type Gateway struct {
	dial  dialFunc
	index IndexRebuilder

	mu        sync.Mutex
	status    Status
	sess      api
	botID     string
	channelID string
	forum     bool
	dropped   bool // gateway lost while sess is still reconnecting

	onMessage  func(IncomingMessage)
	onReaction func(Reaction)
}

// NewGateway returns a disconnected gateway. index may be nil.
func NewGateway(index IndexRebuilder) *Gateway {
	return &Gateway{dial: dialDiscordgo, index: index}
}

// OnMessage sets the handler for created messages. Handlers are called in
// gateway order on the event goroutine and must not block.
func (g *Gateway) OnMessage(fn func(IncomingMessage)) {
	g.mu.Lock()
	g.onMessage = fn
	g.mu.Unlock()
}

// OnReaction sets the handler for added reactions.
func (g *Gateway) OnReaction(fn func(Reaction)) {
	g.mu.Lock()
	g.onReaction = fn
	g.mu.Unlock()
}

// Start connects with token and binds to channelID. A second Start while
// connected is a no-op success.
func (g *Gateway) Start(ctx context.Context, token, channelID string) StartResult {
	g.mu.Lock()
	switch g.status {
	case StatusConnected:
		g.mu.Unlock()
		return StartResult{OK: true}
	case StatusConnecting:
		g.mu.Unlock()
		return StartResult{Error: "connection already in progress"}
	}
	if token == "" {
		g.mu.Unlock()
		return StartResult{Error: "no bot token configured"}
	}
	if channelID == "" {
		g.mu.Unlock()
		return StartResult{Error: "no channel configured"}
	}
	stale := g.sess
	g.sess = nil
	g.dropped = false
	g.status = StatusConnecting
	g.mu.Unlock()

	if stale != nil {
		if err := stale.Close(); err != nil {
			L_debug("discord: close dropped session", "error", err)
		}
	}
	L_info("discord: connecting", "channel", channelID)

	sess, err := g.dial(token)
	if err != nil {
		return g.fail(nil, fmt.Sprintf("create session: %v", err))
	}
	sess.AddHandler(g.handleMessageCreate)
	sess.AddHandler(g.handleReactionAdd)
	sess.AddHandler(g.handleDisconnect)
	sess.AddHandler(g.handleResumed)
	sess.AddHandler(g.handleReady)

	if err := sess.Open(); err != nil {
		return g.fail(nil, fmt.Sprintf("connect: %v", err))
	}

	me, err := sess.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return g.fail(sess, fmt.Sprintf("identify bot: %v", err))
	}

	ch, err := sess.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return g.fail(sess, fmt.Sprintf("channel %s not found: %v", channelID, err))
	}
	var forum bool
	switch ch.Type {
	case discordgo.ChannelTypeGuildForum:
		forum = true
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
	default:
		return g.fail(sess, fmt.Sprintf("channel %s is not a text or forum channel", channelID))
	}

	g.mu.Lock()
	g.sess = sess
	g.botID = me.ID
	g.channelID = channelID
	g.forum = forum
	g.status = StatusConnected
	g.mu.Unlock()

	if g.index != nil {
		g.index.RebuildIndex()
	}

	L_info("discord: connected", "bot", me.Username, "channel", ch.Name, "forum", forum)
	return StartResult{OK: true}
}

func (g *Gateway) fail(sess api, msg string) StartResult {
	if sess != nil {
		if err := sess.Close(); err != nil {
			L_debug("discord: close after failed start", "error", err)
		}
	}
	g.mu.Lock()
	g.status = StatusDisconnected
	g.mu.Unlock()
	L_warn("discord: start failed", "error", msg)
	return StartResult{Error: msg}
}

// Stop closes the connection. Safe to call when disconnected.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	sess := g.sess
	g.sess = nil
	g.botID = ""
	g.dropped = false
	g.status = StatusDisconnected
	g.mu.Unlock()

	if sess == nil {
		return nil
	}
	L_info("discord: disconnecting")
	return sess.Close()
}

// Status returns the connection state.
func (g *Gateway) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Connected implements Client.
func (g *Gateway) Connected() bool {
	return g.Status() == StatusConnected
}

// BotID implements Client.
func (g *Gateway) BotID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.botID
}

// IsForum reports whether the bound channel is a forum channel.
func (g *Gateway) IsForum() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.forum
}

func (g *Gateway) live() (api, string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusConnected || g.sess == nil {
		return nil, "", false, ErrNotConnected
	}
	return g.sess, g.channelID, g.forum, nil
}

// handleDisconnect marks a live connection as lost. discordgo keeps
// reconnecting in the background; Stop fires this too, but by then sess is
// already cleared.
func (g *Gateway) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sess == nil || g.status != StatusConnected {
		return
	}
	g.status = StatusDisconnected
	g.dropped = true
	L_warn("discord: gateway connection lost", "channel", g.channelID)
}

func (g *Gateway) handleResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	g.restored("resumed")
}

func (g *Gateway) handleReady(_ *discordgo.Session, _ *discordgo.Ready) {
	g.restored("ready")
}

func (g *Gateway) restored(how string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sess == nil || !g.dropped {
		return
	}
	g.status = StatusConnected
	g.dropped = false
	L_info("discord: gateway connection restored", "via", how)
}

func (g *Gateway) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	g.mu.Lock()
	fn := g.onMessage
	g.mu.Unlock()
	if fn != nil {
		fn(toIncoming(m.Message))
	}
}

func (g *Gateway) handleReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r == nil || r.MessageReaction == nil {
		return
	}
	g.mu.Lock()
	fn := g.onReaction
	g.mu.Unlock()
	if fn != nil {
		fn(Reaction{
			UserID:    r.UserID,
			ChannelID: r.ChannelID,
			MessageID: r.MessageID,
			Emoji:     r.Emoji.Name,
		})
	}
}

// FetchThread implements Client.
func (g *Gateway) FetchThread(ctx context.Context, threadID string) (*Thread, error) {
	sess, _, _, err := g.live()
	if err != nil {
		return nil, err
	}
	ch, err := sess.Channel(threadID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}
		return nil, fmt.Errorf("fetch thread %s: %w", threadID, err)
	}
	if !ch.IsThread() {
		return nil, fmt.Errorf("%w: %s is not a thread", ErrThreadNotFound, threadID)
	}
	return toThread(ch), nil
}

// UnarchiveThread implements Client.
func (g *Gateway) UnarchiveThread(ctx context.Context, threadID string) error {
	sess, _, _, err := g.live()
	if err != nil {
		return err
	}
	archived := false
	if _, err := sess.ChannelEdit(threadID, &discordgo.ChannelEdit{Archived: &archived}, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("unarchive thread %s: %w", threadID, err)
	}
	return nil
}

// CreateThread implements Client.
func (g *Gateway) CreateThread(ctx context.Context, name string, seed Message) (*Thread, error) {
	sess, channelID, forum, err := g.live()
	if err != nil {
		return nil, err
	}
	name = Truncate(name, MaxThreadNameLength)

	if forum {
		ch, err := sess.ForumThreadStartComplex(channelID, &discordgo.ThreadStart{
			Name:                name,
			AutoArchiveDuration: threadArchiveMinutes,
		}, toMessageSend(seed), discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("create forum post: %w", err)
		}
		return toThread(ch), nil
	}

	msg, err := sess.ChannelMessageSendComplex(channelID, toMessageSend(seed), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("send thread starter: %w", err)
	}
	ch, err := sess.MessageThreadStartComplex(channelID, msg.ID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: threadArchiveMinutes,
		Type:                discordgo.ChannelTypeGuildPublicThread,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("start thread: %w", err)
	}
	return toThread(ch), nil
}

// RenameThread implements Client.
func (g *Gateway) RenameThread(ctx context.Context, threadID, name string) error {
	sess, _, _, err := g.live()
	if err != nil {
		return err
	}
	edit := &discordgo.ChannelEdit{Name: Truncate(name, MaxThreadNameLength)}
	if _, err := sess.ChannelEdit(threadID, edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("rename thread %s: %w", threadID, err)
	}
	return nil
}

// DeleteThread implements Client.
func (g *Gateway) DeleteThread(ctx context.Context, threadID string) error {
	sess, _, _, err := g.live()
	if err != nil {
		return err
	}
	if _, err := sess.ChannelDelete(threadID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	return nil
}

// SendMessage implements Client.
func (g *Gateway) SendMessage(ctx context.Context, channelID string, msg Message) (string, error) {
	sess, _, _, err := g.live()
	if err != nil {
		return "", err
	}
	sent, err := sess.ChannelMessageSendComplex(channelID, toMessageSend(msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return sent.ID, nil
}

// React implements Client.
func (g *Gateway) React(ctx context.Context, channelID, messageID, emoji string) error {
	sess, _, _, err := g.live()
	if err != nil {
		return err
	}
	if err := sess.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("react %s: %w", emoji, err)
	}
	return nil
}
