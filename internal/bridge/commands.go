package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/discordbridge/internal/commands"
	"github.com/roelfdiedericks/discordbridge/internal/discord"
	"github.com/roelfdiedericks/discordbridge/internal/host"
	. "github.com/roelfdiedericks/discordbridge/internal/logging"
	"github.com/roelfdiedericks/discordbridge/internal/notify"
	"github.com/roelfdiedericks/discordbridge/internal/reactions"
	"github.com/roelfdiedericks/discordbridge/internal/store"
	"github.com/roelfdiedericks/discordbridge/internal/threads"
)

// RegisterCommands adds the /discord-* commands to m.
func (b *Bridge) RegisterCommands(m *commands.Manager) {
	m.Register(&commands.Command{
		Name:        "/discord-setup",
		Description: "Set the Discord channel and connect",
		Usage:       "<channelId>",
		Handler:     b.cmdSetup,
	})
	m.Register(&commands.Command{
		Name:        "/discord-test",
		Description: "Send a test notification to this session's thread",
		Handler:     b.cmdTest,
	})
	m.Register(&commands.Command{
		Name:        "/discord-toggle",
		Description: "Turn Discord notifications on or off",
		Handler:     b.cmdToggle,
	})
	m.Register(&commands.Command{
		Name:        "/discord-config",
		Description: "Show the Discord configuration",
		Handler:     b.cmdConfig,
	})
	m.Register(&commands.Command{
		Name:        "/discord-rename",
		Description: "Rename this session's thread (no name: generate one)",
		Usage:       "[name]",
		Handler:     b.cmdRename,
	})
	m.Register(&commands.Command{
		Name:        "/discord-unmute",
		Description: "Resume notifications for this session's thread",
		Handler:     b.cmdUnmute,
	})
}

func (b *Bridge) cmdSetup(ctx context.Context, args *commands.CommandArgs) *commands.CommandResult {
	channelID := strings.TrimSpace(args.RawArgs)
	if channelID == "" || strings.ContainsAny(channelID, " \t") {
		return commands.Errorf("Usage: /discord-setup %s", args.Usage)
	}

	if _, err := b.state.UpdateConfig(func(c *store.BridgeConfig) {
		c.ChannelID = channelID
		c.Enabled = true
	}); err != nil {
		return commands.Errorf("Could not save config: %v", err)
	}
	L_info("bridge: channel configured", "channel", channelID)

	res := b.connect(ctx)
	if !res.OK {
		return &commands.CommandResult{
			Text:  fmt.Sprintf("Discord channel set to %s, but not connected: %s", channelID, res.Error),
			Error: errors.New(res.Error),
		}
	}
	b.namer.SyncSessionName(ctx, args.Session)
	return &commands.CommandResult{Text: fmt.Sprintf("Discord channel set to %s. Connected.", channelID)}
}

func (b *Bridge) cmdTest(ctx context.Context, args *commands.CommandArgs) *commands.CommandResult {
	threadID, err := b.notifier.SendTest(ctx, args.Session)
	switch {
	case errors.Is(err, notify.ErrNotConfigured):
		return commands.Errorf("No Discord channel configured. Run /discord-setup <channelId> first.")
	case errors.Is(err, discord.ErrNotConnected):
		return commands.Errorf("Discord is not connected.")
	case errors.Is(err, threads.ErrMuted):
		return commands.Errorf("This session's thread is muted. Run /discord-unmute first.")
	case err != nil:
		return commands.Errorf("Test notification failed: %v", err)
	}
	return &commands.CommandResult{Text: fmt.Sprintf("Test notification sent to thread %s.", threadID)}
}

func (b *Bridge) cmdToggle(ctx context.Context, args *commands.CommandArgs) *commands.CommandResult {
	cfg, err := b.state.UpdateConfig(func(c *store.BridgeConfig) {
		c.Enabled = !c.Enabled
	})
	if err != nil {
		return commands.Errorf("Could not save config: %v", err)
	}

	if !cfg.Enabled {
		if err := b.disconnect(); err != nil {
			L_warn("bridge: disconnect failed", "error", err)
		}
		return &commands.CommandResult{Text: "Discord notifications disabled."}
	}
	if cfg.ChannelID == "" {
		return &commands.CommandResult{Text: "Discord notifications enabled. No channel set yet; run /discord-setup <channelId>."}
	}
	if res := b.connect(ctx); !res.OK {
		return &commands.CommandResult{
			Text:  "Discord notifications enabled, but not connected: " + res.Error,
			Error: errors.New(res.Error),
		}
	}
	return &commands.CommandResult{Text: "Discord notifications enabled."}
}

func (b *Bridge) cmdConfig(ctx context.Context, args *commands.CommandArgs) *commands.CommandResult {
	cfg := b.state.Config()

	channel := cfg.ChannelID
	if channel == "" {
		channel = "(not set)"
	}
	token := "set"
	if b.token == "" {
		token = "missing (" + b.tokenEnv + ")"
	}
	thread := "(none)"
	if id, ok := b.state.Binding(args.Session.Key); ok {
		thread = id
		if b.state.IsMuted(id) {
			thread += " (muted)"
		}
	}

	var text strings.Builder
	text.WriteString("Discord configuration:\n")
	fmt.Fprintf(&text, "  Channel:        %s\n", channel)
	fmt.Fprintf(&text, "  Enabled:        %t\n", cfg.Enabled)
	fmt.Fprintf(&text, "  Min duration:   %s\n", notify.FormatDuration(time.Duration(cfg.MinDurationMs)*time.Millisecond))
	fmt.Fprintf(&text, "  Preview:        %t\n", cfg.IncludePreview)
	fmt.Fprintf(&text, "  Token:          %s\n", token)
	fmt.Fprintf(&text, "  Connection:     %s\n", b.conn.Status())
	fmt.Fprintf(&text, "  This thread:    %s\n", thread)
	fmt.Fprintf(&text, "  Muted threads:  %d", len(b.state.Muted()))
	return &commands.CommandResult{Text: text.String()}
}

func (b *Bridge) cmdRename(ctx context.Context, args *commands.CommandArgs) *commands.CommandResult {
	if !b.conn.Connected() {
		return commands.Errorf("Discord is not connected.")
	}

	var msgs []host.Message
	if args.RawArgs == "" {
		m, err := b.host.RecentMessages(ctx)
		if err != nil {
			return commands.Errorf("Could not read the conversation: %v", err)
		}
		msgs = m
	}

	name, err := b.namer.Rename(ctx, args.Session, args.RawArgs, msgs)
	switch {
	case errors.Is(err, threads.ErrMuted):
		return commands.Errorf("This session's thread is muted. Run /discord-unmute first.")
	case errors.Is(err, threads.ErrNoTitler):
		return commands.Errorf("No name given and no title model configured. Usage: /discord-rename %s", args.Usage)
	case err != nil:
		return commands.Errorf("Rename failed: %v", err)
	}
	return &commands.CommandResult{Text: fmt.Sprintf("Thread renamed to %q.", name)}
}

func (b *Bridge) cmdUnmute(ctx context.Context, args *commands.CommandArgs) *commands.CommandResult {
	threadID, was, err := b.reactions.Unmute(ctx, args.Session.Key)
	switch {
	case errors.Is(err, reactions.ErrNoThread):
		return commands.Errorf("This session has no Discord thread.")
	case err != nil:
		return commands.Errorf("Unmute failed: %v", err)
	case !was:
		return &commands.CommandResult{Text: fmt.Sprintf("Thread %s is not muted.", threadID)}
	}
	return &commands.CommandResult{Text: fmt.Sprintf("Notifications resumed for thread %s.", threadID)}
}
