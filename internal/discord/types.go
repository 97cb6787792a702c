package discord

import (
	"errors"
	"unicode/utf8"
)

// Platform limits.
const (
	MaxMessageLength     = 2000
	MaxThreadNameLength  = 100
	MaxEmbedDescription  = 4096
	MaxEmbedTitle        = 256
	threadArchiveMinutes = 10080 // one week
)

// Ellipsis is appended to anything truncated to a platform limit.
const Ellipsis = "…"

var (
	// ErrNotConnected is returned by Client calls while the gateway is down.
	ErrNotConnected = errors.New("discord: not connected")
	// ErrThreadNotFound means the thread was deleted or is not accessible.
	ErrThreadNotFound = errors.New("discord: thread not found")
)

// Status is the gateway connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StartResult reports the outcome of Gateway.Start. Start never returns an
// error value so that a bot failure cannot take down the agent session.
type StartResult struct {
	OK    bool
	Error string
}

// Thread is a Discord thread (or forum post).
type Thread struct {
	ID       string
	Name     string
	ParentID string
	Archived bool
}

// Message is an outbound message.
type Message struct {
	Content string
	Embed   *Embed
	Files   []File
	ReplyTo string // message id to reply to, optional
}

// Embed is a rich message card.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
}

// EmbedField is one name/value row in an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// File is an outbound attachment.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// IncomingMessage is a message created in a channel the bot can see.
type IncomingMessage struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorBot   bool
	Content     string
	Voice       bool // sent as a Discord voice message
	Attachments []Attachment
}

// Attachment is a file attached to an incoming message.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
	Size        int
}

// Reaction is an emoji added to a message.
type Reaction struct {
	UserID    string
	ChannelID string
	MessageID string
	Emoji     string
}

// Truncate shortens s to at most limit characters, keeping the prefix and
// ending with Ellipsis when anything was cut.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + Ellipsis
}
