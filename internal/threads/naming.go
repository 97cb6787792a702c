package threads

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roelfdiedericks/discordbridge/internal/discord"
	"github.com/roelfdiedericks/discordbridge/internal/host"
	. "github.com/roelfdiedericks/discordbridge/internal/logging"
	"github.com/roelfdiedericks/discordbridge/internal/state"
)

// ErrMuted is returned when an operation needs the thread of a muted session.
var ErrMuted = errors.New("thread is muted")

// ErrNoTitler is returned when a title is requested with no model configured.
var ErrNoTitler = errors.New("no language model configured for titles")

// Titler generates text from a prompt. llm.Provider satisfies it.
type Titler interface {
	SimpleMessage(ctx context.Context, userMessage, systemPrompt string) (string, error)
}

const (
	titleContextBudget = 2000 // characters of conversation sent for titling
	titleMaxWords      = 6
)

const titleSystemPrompt = "You write short titles for coding sessions. " +
	"Reply with a title of at most 6 words describing what the user is working on. " +
	"No quotes, no trailing punctuation, nothing else."

// Namer assigns names to session threads.
type Namer struct {
	state    *state.State
	resolver *Resolver
	client   discord.Client
	titler   Titler
}

// NewNamer returns a namer. titler may be nil, which disables LLM titles.
func NewNamer(st *state.State, resolver *Resolver, client discord.Client, titler Titler) *Namer {
	return &Namer{state: st, resolver: resolver, client: client, titler: titler}
}

// Rename sets the session thread's name from user text, creating the
// thread if needed. Empty text asks the model for a title from msgs.
func (n *Namer) Rename(ctx context.Context, sess host.SessionInfo, text string, msgs []host.Message) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		t, err := n.title(ctx, msgs)
		if err != nil {
			return "", err
		}
		text = t
	}

	thread, _, err := n.resolver.Resolve(ctx, sess, nil)
	if err != nil {
		return "", err
	}
	if thread == nil {
		return "", ErrMuted
	}

	name := ThreadName(sess.ProjectDir, text)
	if err := n.client.RenameThread(ctx, thread.ID, name); err != nil {
		return "", err
	}
	n.state.MarkNamed(sess.Key)
	L_info("threads: renamed", "thread", thread.ID, "name", name)
	return name, nil
}

// AutoName titles the session's existing thread from the conversation,
// once per session and only if nothing has named it yet.
func (n *Namer) AutoName(ctx context.Context, sess host.SessionInfo, msgs []host.Message) {
	if n.titler == nil || n.state.Named(sess.Key) {
		return
	}
	threadID, ok := n.resolver.Existing(sess.Key)
	if !ok {
		return
	}
	if !n.state.ClaimNaming(sess.Key) {
		return
	}

	title, err := n.title(ctx, msgs)
	if err != nil {
		L_warn("threads: auto title failed", "session", sess.Key, "error", err)
		return
	}
	name := ThreadName(sess.ProjectDir, title)
	if err := n.client.RenameThread(ctx, threadID, name); err != nil {
		L_warn("threads: auto rename failed", "thread", threadID, "error", err)
		return
	}
	L_info("threads: auto named", "thread", threadID, "name", name)
}

// SyncSessionName renames the thread when the agent's own session name
// changes to a new non-empty value.
func (n *Namer) SyncSessionName(ctx context.Context, sess host.SessionInfo) {
	if !n.state.ObserveSessionName(sess.Key, sess.Name) {
		return
	}
	n.state.MarkNamed(sess.Key)

	threadID, ok := n.resolver.Existing(sess.Key)
	if !ok {
		return
	}
	name := ThreadName(sess.ProjectDir, sess.Name)
	if err := n.client.RenameThread(ctx, threadID, name); err != nil {
		L_warn("threads: session-name rename failed", "thread", threadID, "error", err)
		return
	}
	L_info("threads: renamed from session name", "thread", threadID, "name", name)
}

func (n *Namer) title(ctx context.Context, msgs []host.Message) (string, error) {
	if n.titler == nil {
		return "", ErrNoTitler
	}
	convo := recentTranscript(msgs, titleContextBudget)
	if convo == "" {
		return "", fmt.Errorf("no conversation to title yet")
	}
	raw, err := n.titler.SimpleMessage(ctx, convo, titleSystemPrompt)
	if err != nil {
		return "", err
	}
	title := cleanTitle(raw)
	if title == "" {
		return "", fmt.Errorf("model returned an empty title")
	}
	return title, nil
}

// recentTranscript renders the newest user/assistant messages that fit in
// budget characters, oldest first.
func recentTranscript(msgs []host.Message, budget int) string {
	var lines []string
	used := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		var role string
		switch m.Role {
		case "user":
			role = "User"
		case "assistant":
			role = "Assistant"
		default:
			continue
		}
		line := role + ": " + text
		if used+len(line) > budget {
			if used == 0 {
				lines = append(lines, discord.Truncate(line, budget))
			}
			break
		}
		lines = append(lines, line)
		used += len(line) + 1
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

// cleanTitle keeps the first line, strips quotes and trailing punctuation,
// and caps the word count.
func cleanTitle(raw string) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimPrefix(line, "Title:")
	line = strings.Trim(line, " \t\"'`*")
	line = strings.TrimRight(line, ".!?:;,")
	words := strings.Fields(line)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	return strings.Join(words, " ")
}
