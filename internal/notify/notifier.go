// Package notify mirrors agent output into the session's Discord thread.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roelfdiedericks/discordbridge/internal/discord"
	"github.com/roelfdiedericks/discordbridge/internal/host"
	. "github.com/roelfdiedericks/discordbridge/internal/logging"
	"github.com/roelfdiedericks/discordbridge/internal/media"
	"github.com/roelfdiedericks/discordbridge/internal/state"
	"github.com/roelfdiedericks/discordbridge/internal/threads"
)

const (
	colorAttention = 0xF5A623
	colorTest      = 0x5865F2

	previewLength  = 1000
	maxUploadBytes = 8 * 1024 * 1024
)

// ErrNotConfigured means no channel is set up or notifications are off.
var ErrNotConfigured = errors.New("discord notifications are not configured")

// Notifier sends turn results and attention notices to the bound thread.
type Notifier struct {
	state    *state.State
	resolver *threads.Resolver
	client   discord.Client
}

// New returns a notifier.
func New(st *state.State, resolver *threads.Resolver, client discord.Client) *Notifier {
	return &Notifier{state: st, resolver: resolver, client: client}
}

func (n *Notifier) ready() bool {
	cfg := n.state.Config()
	return cfg.Enabled && cfg.ChannelID != "" && n.client.Connected()
}

// TurnEnded mirrors a finished turn. A thread that already existed gets the
// agent's last reply; a turn that ran longer than the configured minimum also
// gets an attention notice. A thread created here is seeded with the notice.
func (n *Notifier) TurnEnded(ctx context.Context, sess host.SessionInfo, te *host.TurnEnd) error {
	if te == nil || !n.ready() {
		return nil
	}
	cfg := n.state.Config()

	text := te.LastAssistantText
	if text == "" {
		text = host.LastAssistantText(te.Messages)
	}
	dur := te.Duration()
	attention := dur > time.Duration(cfg.MinDurationMs)*time.Millisecond

	var notice *discord.Message
	if attention {
		notice = &discord.Message{Embed: attentionEmbed(sess, dur, text, cfg.IncludePreview)}
	}

	thread, created, err := n.resolver.Resolve(ctx, sess, notice)
	if err != nil {
		return fmt.Errorf("resolve thread: %w", err)
	}
	if thread == nil {
		L_debug("notify: thread muted, skipping turn", "session", sess.Key)
		return nil
	}
	if created {
		L_debug("notify: new thread seeded", "thread", thread.ID, "attention", attention)
		return nil
	}

	if strings.TrimSpace(text) != "" {
		n.send(ctx, thread.ID, discord.Message{Content: discord.Truncate(text, discord.MaxMessageLength)})
	}
	if notice != nil {
		n.send(ctx, thread.ID, *notice)
	}
	return nil
}

// ToolFinished uploads an image file the agent read or wrote. Only an
// existing, unmuted thread receives uploads.
func (n *Notifier) ToolFinished(ctx context.Context, sess host.SessionInfo, tr *host.ToolResult) error {
	if tr == nil || tr.IsError || tr.Path == "" {
		return nil
	}
	label := toolLabel(tr.ToolName)
	if label == "" || !n.ready() {
		return nil
	}
	threadID, ok := n.resolver.Existing(sess.Key)
	if !ok {
		return nil
	}

	path := tr.Path
	if !filepath.IsAbs(path) && sess.ProjectDir != "" {
		path = filepath.Join(sess.ProjectDir, path)
	}
	mimeType, ok := media.IsImageFile(path)
	if !ok {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxUploadBytes {
		L_warn("notify: image too large to upload", "path", path, "bytes", len(data))
		return nil
	}

	name := filepath.Base(path)
	n.send(ctx, threadID, discord.Message{
		Content: fmt.Sprintf("%s `%s`", label, name),
		Files:   []discord.File{{Name: name, ContentType: mimeType, Data: data}},
	})
	return nil
}

// SendTest posts a test notice to the session's thread, creating it if
// needed, and returns the thread id.
func (n *Notifier) SendTest(ctx context.Context, sess host.SessionInfo) (string, error) {
	cfg := n.state.Config()
	if cfg.ChannelID == "" {
		return "", ErrNotConfigured
	}
	if !n.client.Connected() {
		return "", discord.ErrNotConnected
	}
	msg := discord.Message{Embed: &discord.Embed{
		Title:       "🔔 Test notification",
		Description: "Discord notifications are working for this session.",
		Color:       colorTest,
		Fields: []discord.EmbedField{
			{Name: "Project", Value: threads.ProjectName(sess.ProjectDir), Inline: true},
			{Name: "Enabled", Value: fmt.Sprint(cfg.Enabled), Inline: true},
		},
	}}
	thread, created, err := n.resolver.Resolve(ctx, sess, &msg)
	if err != nil {
		return "", err
	}
	if thread == nil {
		return "", threads.ErrMuted
	}
	if !created {
		if _, err := n.client.SendMessage(ctx, thread.ID, msg); err != nil {
			return "", fmt.Errorf("send test message: %w", err)
		}
	}
	return thread.ID, nil
}

func (n *Notifier) send(ctx context.Context, threadID string, msg discord.Message) {
	if _, err := n.client.SendMessage(ctx, threadID, msg); err != nil {
		L_warn("notify: send failed", "thread", threadID, "error", err)
	}
}

func attentionEmbed(sess host.SessionInfo, d time.Duration, text string, includePreview bool) *discord.Embed {
	e := &discord.Embed{
		Title: "⏳ Waiting for input",
		Color: colorAttention,
		Fields: []discord.EmbedField{
			{Name: "Project", Value: threads.ProjectName(sess.ProjectDir), Inline: true},
			{Name: "Duration", Value: FormatDuration(d), Inline: true},
		},
		Footer: sess.Name,
	}
	if sess.ProjectDir != "" {
		e.Fields = append(e.Fields, discord.EmbedField{Name: "Directory", Value: "`" + sess.ProjectDir + "`"})
	}
	if includePreview && strings.TrimSpace(text) != "" {
		e.Description = discord.Truncate(PlainText(text), previewLength)
	}
	return e
}

// FormatDuration renders d as "45s", "3m 5s" or "1h 2m".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func toolLabel(tool string) string {
	switch strings.ToLower(tool) {
	case "read", "read_file", "view":
		return "📖 Read"
	case "write", "write_file", "edit", "edit_file":
		return "✏️ Wrote"
	}
	return ""
}
