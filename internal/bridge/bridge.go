// Package bridge is the extension instance. It owns the shared state and
// every component, maps agent lifecycle events to handlers, feeds gateway
// events to the inbound router and reaction controller, and registers the
// /discord-* commands.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roelfdiedericks/discordbridge/internal/discord"
	"github.com/roelfdiedericks/discordbridge/internal/host"
	"github.com/roelfdiedericks/discordbridge/internal/inbound"
	. "github.com/roelfdiedericks/discordbridge/internal/logging"
	"github.com/roelfdiedericks/discordbridge/internal/notify"
	"github.com/roelfdiedericks/discordbridge/internal/reactions"
	"github.com/roelfdiedericks/discordbridge/internal/state"
	"github.com/roelfdiedericks/discordbridge/internal/threads"
)

// Conn is the gateway as the bridge drives it. *discord.Gateway implements it.
type Conn interface {
	discord.Client
	Start(ctx context.Context, token, channelID string) discord.StartResult
	Stop() error
	Status() discord.Status
	OnMessage(fn func(discord.IncomingMessage))
	OnReaction(fn func(discord.Reaction))
}

// Options wires a Bridge.
type Options struct {
	State *state.State
	Conn  Conn
	Host  host.Host

	// Token is the bot token. Empty leaves the bridge disconnected and
	// reports TokenEnv to the user.
	Token    string
	TokenEnv string

	Voice       inbound.Transcriber  // nil disables voice messages
	Images      inbound.ImageFetcher // required
	Titler      threads.Titler       // nil disables generated titles
	DeleteGrace time.Duration
}

// Bridge connects one agent host to one Discord channel.
type Bridge struct {
	state *state.State
	conn  Conn
	host  host.Host

	token    string
	tokenEnv string

	resolver  *threads.Resolver
	namer     *threads.Namer
	router    *inbound.Router
	notifier  *notify.Notifier
	reactions *reactions.Controller

	handlers map[host.EventKind]host.Handler

	// ctx scopes work started from gateway callbacks.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu  sync.Mutex
	channel string // channel the live connection was started for
}

// New builds the bridge and hooks it to the gateway's event callbacks.
func New(opts Options) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	resolver := threads.NewResolver(opts.State, opts.Conn)

	b := &Bridge{
		state:     opts.State,
		conn:      opts.Conn,
		host:      opts.Host,
		token:     opts.Token,
		tokenEnv:  opts.TokenEnv,
		resolver:  resolver,
		namer:     threads.NewNamer(opts.State, resolver, opts.Conn, opts.Titler),
		router:    inbound.NewRouter(opts.State, opts.Conn, opts.Host, opts.Voice, opts.Images),
		notifier:  notify.New(opts.State, resolver, opts.Conn),
		reactions: reactions.New(opts.State, opts.Conn, opts.DeleteGrace),
		ctx:       ctx,
		cancel:    cancel,
	}
	if b.tokenEnv == "" {
		b.tokenEnv = "the bot token variable"
	}

	b.handlers = map[host.EventKind]host.Handler{
		host.EventSessionStart:    b.onSessionStart,
		host.EventSessionSwitch:   b.onSessionSwitch,
		host.EventSessionShutdown: b.onSessionShutdown,
		host.EventTurnStart:       b.onTurnStart,
		host.EventTurnEnd:         b.onTurnEnd,
		host.EventToolResult:      b.onToolResult,
	}

	opts.Conn.OnMessage(func(m discord.IncomingMessage) {
		b.router.HandleMessage(b.ctx, m)
	})
	opts.Conn.OnReaction(func(r discord.Reaction) {
		// Reaction handling makes REST calls; keep the event goroutine free.
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.reactions.HandleReaction(b.ctx, r)
		}()
	})
	return b
}

// HandleEvent dispatches a lifecycle event. Handler errors are logged and
// never returned, so a Discord problem cannot fail the agent session.
func (b *Bridge) HandleEvent(ctx context.Context, ev host.Event) error {
	h, ok := b.handlers[ev.Kind]
	if !ok {
		L_trace("bridge: unhandled event", "kind", ev.Kind)
		return nil
	}
	if err := h(ctx, ev); err != nil {
		L_warn("bridge: event handler failed", "kind", ev.Kind, "session", ev.Session.Key, "error", err)
	}
	return nil
}

// Close stops the gateway and waits for in-flight inbound work.
func (b *Bridge) Close() error {
	b.cancel()
	b.router.Wait()
	b.wg.Wait()
	b.reactions.Wait()
	return b.disconnect()
}

// Status is the gateway connection state.
func (b *Bridge) Status() discord.Status {
	return b.conn.Status()
}

// connect brings the connection in line with the config: stopped when
// disabled or unconfigured, started (or restarted on a channel change)
// otherwise.
func (b *Bridge) connect(ctx context.Context) discord.StartResult {
	cfg := b.state.Config()
	if !cfg.Enabled || cfg.ChannelID == "" {
		if err := b.disconnect(); err != nil {
			L_warn("bridge: disconnect failed", "error", err)
		}
		if cfg.ChannelID == "" {
			return discord.StartResult{Error: "no channel configured"}
		}
		return discord.StartResult{Error: "notifications are disabled"}
	}
	if b.token == "" {
		return discord.StartResult{Error: fmt.Sprintf("%s is not set", b.tokenEnv)}
	}

	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn.Connected() && b.channel != cfg.ChannelID {
		L_info("bridge: channel changed, reconnecting", "from", b.channel, "to", cfg.ChannelID)
		if err := b.conn.Stop(); err != nil {
			L_warn("bridge: stop before reconnect failed", "error", err)
		}
	}
	res := b.conn.Start(ctx, b.token, cfg.ChannelID)
	if res.OK {
		b.channel = cfg.ChannelID
	}
	return res
}

func (b *Bridge) disconnect() error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	b.channel = ""
	// Stop even when not connected: a dropped gateway may still be
	// reconnecting in the background.
	return b.conn.Stop()
}

// configChanged is called when the config file was edited outside the
// process.
func (b *Bridge) configChanged() {
	cfg, changed := b.state.ReloadConfig()
	if !changed {
		return
	}
	L_info("bridge: config reloaded", "channel", cfg.ChannelID, "enabled", cfg.Enabled)
	res := b.connect(b.ctx)
	if !res.OK && cfg.Enabled && cfg.ChannelID != "" {
		b.host.Notify("Discord: "+res.Error, host.LevelWarning)
	}
}
