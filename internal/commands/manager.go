// Package commands is the registry behind the host's slash-command surface.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roelfdiedericks/discordbridge/internal/host"
)

// Command represents a slash command
type Command struct {
	Name        string   // e.g., "/discord-setup"
	Description string   // e.g., "Set the notification channel"
	Usage       string   // argument usage, e.g. "<channelId>" (optional)
	Aliases     []string // e.g., ["/discord-test"]
	Handler     CommandHandler
}

// CommandHandler is the function signature for command handlers
type CommandHandler func(ctx context.Context, args *CommandArgs) *CommandResult

// CommandArgs contains the arguments passed to a command handler
type CommandArgs struct {
	Session host.SessionInfo // session the command was typed in
	RawArgs string           // everything after the command name
	Usage   string           // copy of Command.Usage for error messages
}

// CommandResult is the status text shown to the user. Commands never fail
// the host; Error is informational.
type CommandResult struct {
	Text  string
	Error error
}

// Errorf builds a failed result whose text is the formatted message.
func Errorf(format string, a ...any) *CommandResult {
	err := fmt.Errorf(format, a...)
	return &CommandResult{Text: err.Error(), Error: err}
}

// Manager is a command registry
type Manager struct {
	mu       sync.RWMutex
	commands map[string]*Command // keyed by name (lowercase)
}

// NewManager returns a registry with /help already registered.
func NewManager() *Manager {
	m := &Manager{commands: make(map[string]*Command)}
	m.Register(&Command{
		Name:        "/help",
		Description: "Show this help",
		Handler:     m.handleHelp,
	})
	return m
}

// Register adds a command to the manager
func (m *Manager) Register(cmd *Command) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.commands[strings.ToLower(cmd.Name)] = cmd
	for _, alias := range cmd.Aliases {
		m.commands[strings.ToLower(alias)] = cmd
	}
}

// Get returns a command by name (or alias)
func (m *Manager) Get(name string) *Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commands[strings.ToLower(name)]
}

// List returns all unique commands (no aliases), sorted by name
func (m *Manager) List() []*Command {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[*Command]bool)
	var list []*Command
	for _, cmd := range m.commands {
		if !seen[cmd] {
			seen[cmd] = true
			list = append(list, cmd)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// Execute runs a command line such as "/discord-rename fix login".
func (m *Manager) Execute(ctx context.Context, line string, sess host.SessionInfo) *CommandResult {
	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, " ", 2)
	name := strings.ToLower(parts[0])
	rawArgs := ""
	if len(parts) > 1 {
		rawArgs = strings.TrimSpace(parts[1])
	}

	cmd := m.Get(name)
	if cmd == nil {
		return &CommandResult{
			Text:  fmt.Sprintf("Unknown command: %s\nType /help for available commands.", name),
			Error: fmt.Errorf("unknown command %s", name),
		}
	}

	res := cmd.Handler(ctx, &CommandArgs{Session: sess, RawArgs: rawArgs, Usage: cmd.Usage})
	if res == nil {
		res = &CommandResult{}
	}
	return res
}

func (m *Manager) handleHelp(ctx context.Context, args *CommandArgs) *CommandResult {
	var text strings.Builder
	text.WriteString("Available commands:\n")
	for _, cmd := range m.List() {
		name := cmd.Name
		if cmd.Usage != "" {
			name += " " + cmd.Usage
		}
		text.WriteString(fmt.Sprintf("  %-28s %s\n", name, cmd.Description))
	}
	return &CommandResult{Text: strings.TrimRight(text.String(), "\n")}
}

// IsCommand checks if text is a command
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}
