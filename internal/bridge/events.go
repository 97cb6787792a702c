package bridge

import (
	"context"

	"github.com/roelfdiedericks/discordbridge/internal/host"
	. "github.com/roelfdiedericks/discordbridge/internal/logging"
)

func (b *Bridge) onSessionStart(ctx context.Context, ev host.Event) error {
	cfg := b.state.Config()
	if !cfg.Enabled || cfg.ChannelID == "" {
		L_debug("bridge: not configured, staying offline", "enabled", cfg.Enabled, "channel", cfg.ChannelID)
		return nil
	}
	if b.token == "" {
		b.host.Notify("Discord: "+b.tokenEnv+" is not set; notifications are off for this session.", host.LevelWarning)
		return nil
	}

	res := b.connect(ctx)
	if !res.OK {
		b.host.Notify("Discord: connection failed: "+res.Error, host.LevelWarning)
		return nil
	}
	b.namer.SyncSessionName(ctx, ev.Session)
	return nil
}

func (b *Bridge) onSessionSwitch(ctx context.Context, ev host.Event) error {
	b.state.SetBusy(false, ev.At)
	if !b.conn.Connected() {
		return nil
	}
	b.namer.SyncSessionName(ctx, ev.Session)
	return nil
}

func (b *Bridge) onSessionShutdown(ctx context.Context, ev host.Event) error {
	b.state.SetBusy(false, ev.At)
	return b.disconnect()
}

func (b *Bridge) onTurnStart(ctx context.Context, ev host.Event) error {
	b.state.SetBusy(true, ev.At)
	return nil
}

func (b *Bridge) onTurnEnd(ctx context.Context, ev host.Event) error {
	b.state.SetBusy(false, ev.At)
	if ev.TurnEnd == nil {
		return nil
	}

	err := b.notifier.TurnEnded(ctx, ev.Session, ev.TurnEnd)

	if b.conn.Connected() {
		b.namer.SyncSessionName(ctx, ev.Session)
		msgs := ev.TurnEnd.Messages
		if len(msgs) == 0 {
			if m, rerr := b.host.RecentMessages(ctx); rerr == nil {
				msgs = m
			} else {
				L_debug("bridge: no messages for auto naming", "error", rerr)
			}
		}
		b.namer.AutoName(ctx, ev.Session, msgs)
	}
	return err
}

func (b *Bridge) onToolResult(ctx context.Context, ev host.Event) error {
	if ev.Tool == nil {
		return nil
	}
	return b.notifier.ToolFinished(ctx, ev.Session, ev.Tool)
}
