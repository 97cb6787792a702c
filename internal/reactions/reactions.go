// Package reactions turns emoji reactions in watched threads into mute and
// delete commands.
package reactions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roelfdiedericks/discordbridge/internal/discord"
	. "github.com/roelfdiedericks/discordbridge/internal/logging"
	"github.com/roelfdiedericks/discordbridge/internal/state"
)

// Control emoji.
const (
	MuteEmoji   = "🔇"
	DeleteEmoji = "🗑️"
	AckEmoji    = "✅"

	deleteEmojiBare = "🗑" // without the variation selector
)

// DefaultGrace is how long a thread stays up after a delete reaction.
const DefaultGrace = 5 * time.Second

// ErrNoThread means the session has no bound thread.
var ErrNoThread = errors.New("no Discord thread is bound to this session")

// Action is what a reaction asks for.
type Action int

const (
	ActionNone Action = iota
	ActionMute
	ActionDelete
)

// ActionFor maps an emoji to its action.
func ActionFor(emoji string) Action {
	switch emoji {
	case MuteEmoji:
		return ActionMute
	case DeleteEmoji, deleteEmojiBare:
		return ActionDelete
	}
	return ActionNone
}

// Controller applies reaction commands.
type Controller struct {
	state  *state.State
	client discord.Client
	grace  time.Duration
	sleep  func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

// New returns a controller. grace <= 0 uses DefaultGrace.
func New(st *state.State, client discord.Client, grace time.Duration) *Controller {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Controller{state: st, client: client, grace: grace, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleReaction is the gateway's reaction callback. Thread deletion runs in
// the background after the grace period; Wait blocks for it.
func (c *Controller) HandleReaction(ctx context.Context, r discord.Reaction) {
	action := ActionFor(r.Emoji)
	if action == ActionNone {
		return
	}
	if r.UserID == "" || r.UserID == c.client.BotID() {
		return
	}
	sessionKey, ok := c.state.SessionForThread(r.ChannelID)
	if !ok {
		return
	}

	switch action {
	case ActionMute:
		c.mute(ctx, r)
	case ActionDelete:
		c.delete(ctx, r, sessionKey)
	}
}

func (c *Controller) mute(ctx context.Context, r discord.Reaction) {
	if err := c.state.Mute(r.ChannelID); err != nil {
		L_error("reactions: failed to persist mute", "thread", r.ChannelID, "error", err)
	}
	L_info("reactions: thread muted", "thread", r.ChannelID, "by", r.UserID)

	c.post(ctx, r.ChannelID, "🔇 Notifications muted for this thread. Run `/discord-unmute` in the session to resume.")
	if err := c.client.React(ctx, r.ChannelID, r.MessageID, AckEmoji); err != nil {
		L_debug("reactions: ack failed", "error", err)
	}
}

func (c *Controller) delete(ctx context.Context, r discord.Reaction, sessionKey string) {
	if err := c.state.Mute(r.ChannelID); err != nil {
		L_error("reactions: failed to persist mute", "thread", r.ChannelID, "error", err)
	}
	if _, err := c.state.Unbind(sessionKey); err != nil {
		L_error("reactions: failed to persist unbind", "session", sessionKey, "error", err)
	}
	L_info("reactions: thread scheduled for deletion", "thread", r.ChannelID, "session", sessionKey, "grace", c.grace)

	secs := int(c.grace.Round(time.Second) / time.Second)
	c.post(ctx, r.ChannelID, fmt.Sprintf("🗑️ Deleting this thread in %d seconds…", secs))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.sleep(ctx, c.grace); err != nil {
			L_warn("reactions: deletion cancelled", "thread", r.ChannelID, "error", err)
			return
		}
		if err := c.client.DeleteThread(ctx, r.ChannelID); err != nil {
			L_error("reactions: failed to delete thread", "thread", r.ChannelID, "error", err)
			return
		}
		L_info("reactions: thread deleted", "thread", r.ChannelID)
	}()
}

// Wait blocks until scheduled deletions have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Unmute resumes notifications for the session's thread. The binding is
// untouched, so the same thread is used again. Returns the thread id and
// whether it had been muted.
func (c *Controller) Unmute(ctx context.Context, sessionKey string) (string, bool, error) {
	id, ok := c.state.Binding(sessionKey)
	if !ok {
		return "", false, ErrNoThread
	}
	was, err := c.state.Unmute(id)
	if err != nil {
		return id, was, fmt.Errorf("save muted set: %w", err)
	}
	if was && c.client.Connected() {
		c.post(ctx, id, "🔔 Notifications resumed for this thread.")
	}
	L_info("reactions: thread unmuted", "thread", id, "wasMuted", was)
	return id, was, nil
}

func (c *Controller) post(ctx context.Context, threadID, text string) {
	if _, err := c.client.SendMessage(ctx, threadID, discord.Message{Content: text}); err != nil {
		L_warn("reactions: confirmation failed", "thread", threadID, "error", err)
	}
}
