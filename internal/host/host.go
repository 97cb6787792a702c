// Package host defines the narrow contract between the bridge and the
// coding agent it is attached to: lifecycle events flowing in, user turns
// and UI notifications flowing out.
package host

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotRunning is returned when the agent is not available to take a turn.
var ErrNotRunning = errors.New("agent is not running")

// SessionInfo identifies the agent's current conversation.
type SessionInfo struct {
	Key        string // stable per-conversation key
	Name       string // agent-assigned session name, may be empty
	ProjectDir string // working directory of the session
}

// EventKind enumerates the agent lifecycle events.
type EventKind string

const (
	EventSessionStart    EventKind = "session_start"
	EventSessionSwitch   EventKind = "session_switch"
	EventSessionShutdown EventKind = "session_shutdown"
	EventTurnStart       EventKind = "turn_start"
	EventTurnEnd         EventKind = "turn_end"
	EventToolResult      EventKind = "tool_result"
)

// Event is one lifecycle event. Session is the session the event belongs
// to; TurnEnd and Tool are set for their respective kinds.
type Event struct {
	Kind    EventKind
	Session SessionInfo
	At      time.Time
	TurnEnd *TurnEnd
	Tool    *ToolResult
}

// TurnEnd describes a completed agent turn.
type TurnEnd struct {
	Messages          []Message
	LastAssistantText string
	StartedAt         time.Time
	EndedAt           time.Time
}

// Duration is the wall-clock length of the turn.
func (t *TurnEnd) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.EndedAt.Before(t.StartedAt) {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}

// ToolResult describes a finished tool execution.
type ToolResult struct {
	ToolName string
	Path     string // file path argument, if the tool took one
	IsError  bool
}

// Message is a flattened conversation message.
type Message struct {
	Role string // "user" or "assistant"
	Text string
}

// PartType distinguishes turn parts.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one piece of a user turn.
type Part struct {
	Type     PartType
	Text     string // PartText
	Data     string // PartImage, base64
	MimeType string // PartImage
}

// Turn is user input for the agent: ordered text and image parts.
type Turn struct {
	Parts []Part
}

// TextTurn builds a single-part text turn.
func TextTurn(text string) Turn {
	return Turn{Parts: []Part{{Type: PartText, Text: text}}}
}

// Text joins the turn's text parts.
func (t Turn) Text() string {
	var texts []string
	for _, p := range t.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Images returns the image parts in order.
func (t Turn) Images() []Part {
	var imgs []Part
	for _, p := range t.Parts {
		if p.Type == PartImage {
			imgs = append(imgs, p)
		}
	}
	return imgs
}

// Delivery selects how a turn is handed to the agent.
type Delivery int

const (
	// Immediate starts a new turn now.
	Immediate Delivery = iota
	// FollowUp queues the turn after the one in progress.
	FollowUp
)

func (d Delivery) String() string {
	if d == FollowUp {
		return "follow_up"
	}
	return "immediate"
}

// Level is the severity of a UI notification.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

// Host is the agent side of the bridge.
type Host interface {
	// Session returns the currently active session.
	Session() SessionInfo
	// SendUserMessage hands a user turn to the agent.
	SendUserMessage(ctx context.Context, turn Turn, delivery Delivery) error
	// Notify shows text in the agent's UI.
	Notify(text string, level Level)
	// RecentMessages returns the session's conversation so far, oldest first.
	RecentMessages(ctx context.Context) ([]Message, error)
}

// Handler reacts to a lifecycle event.
type Handler func(ctx context.Context, ev Event) error

// LastAssistantText returns the text of the last assistant message.
func LastAssistantText(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" && strings.TrimSpace(msgs[i].Text) != "" {
			return msgs[i].Text
		}
	}
	return ""
}
