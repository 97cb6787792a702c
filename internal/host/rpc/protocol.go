package rpc

import (
	"encoding/json"
	"strings"

	"github.com/roelfdiedericks/discordbridge/internal/host"
)

// Command types.
const (
	cmdPrompt      = "prompt"
	cmdFollowUp    = "follow_up"
	cmdAbort       = "abort"
	cmdNewSession  = "new_session"
	cmdGetState    = "get_state"
	cmdGetMessages = "get_messages"
)

// Event types.
const (
	evAgentStart     = "agent_start"
	evAgentEnd       = "agent_end"
	evMessageEnd     = "message_end"
	evToolStart      = "tool_execution_start"
	evToolEnd        = "tool_execution_end"
	typeResponse     = "response"
	followUpBehavior = "followUp"
)

// dispatched reports whether the dispatcher acts on an event type. Anything
// else (streaming deltas, queue updates) is dropped by the reader.
func dispatched(typ string) bool {
	switch typ {
	case evAgentStart, evAgentEnd, evMessageEnd, evToolStart, evToolEnd:
		return true
	}
	return false
}

type command struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type promptData struct {
	Message           string         `json:"message"`
	StreamingBehavior string         `json:"streamingBehavior,omitempty"`
	Images            []imageContent `json:"images,omitempty"`
}

type imageContent struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type response struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Command string          `json:"command"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type event struct {
	Type       string         `json:"type"`
	Message    *agentMessage  `json:"message,omitempty"`
	Messages   []agentMessage `json:"messages,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	IsError    bool           `json:"isError,omitempty"`
}

type agentMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (m agentMessage) text() string {
	var parts []string
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type sessionState struct {
	SessionID    string `json:"sessionId,omitempty"`
	SessionName  string `json:"sessionName,omitempty"`
	AIWorkingDir string `json:"aiWorkingDir,omitempty"`
	IsStreaming  bool   `json:"isStreaming"`
}

type messagesData struct {
	Messages []agentMessage `json:"messages"`
}

// toMessages keeps the user and assistant messages that carry text.
func toMessages(in []agentMessage) []host.Message {
	var out []host.Message
	for _, m := range in {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if t := m.text(); t != "" {
			out = append(out, host.Message{Role: m.Role, Text: t})
		}
	}
	return out
}

// pathArg pulls the file path out of a tool's arguments.
func pathArg(args map[string]any) string {
	for _, key := range []string{"path", "file_path", "filePath", "file"} {
		if s, ok := args[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
