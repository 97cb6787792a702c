package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/roelfdiedericks/discordbridge/internal/commands"
	"github.com/roelfdiedericks/discordbridge/internal/host"
	. "github.com/roelfdiedericks/discordbridge/internal/logging"
	"github.com/roelfdiedericks/discordbridge/internal/state"
)

// agent is the host as the console drives it.
type agent interface {
	host.Host
	NewSession(ctx context.Context) error
}

// Console is the local UI of `run`: stdin lines are commands or user turns,
// agent replies and bridge notifications go to out.
type Console struct {
	in    io.Reader
	out   io.Writer
	style styles
	now   func() time.Time

	mu sync.Mutex // serializes writes to out

	agent agent
	state *state.State
	cmds  *commands.Manager
}

// NewConsole returns a console reading in and writing out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:    in,
		out:   out,
		style: newStyles(lipgloss.NewRenderer(out)),
		now:   time.Now,
	}
}

// Attach connects the console to the agent, the shared state (for busy
// tracking) and the command registry. /new and /quit are added to cmds.
func (c *Console) Attach(a agent, st *state.State, cmds *commands.Manager) {
	c.agent = a
	c.state = st
	c.cmds = cmds
	cmds.Register(&commands.Command{
		Name:        "/new",
		Description: "Start a new agent session",
		Handler: func(ctx context.Context, args *commands.CommandArgs) *commands.CommandResult {
			if err := a.NewSession(ctx); err != nil {
				return commands.Errorf("New session failed: %v", err)
			}
			return &commands.CommandResult{Text: "Started a new session."}
		},
	})
	cmds.Register(&commands.Command{
		Name:        "/quit",
		Description: "Stop the agent and exit",
		Aliases:     []string{"/exit"},
		Handler: func(ctx context.Context, args *commands.CommandArgs) *commands.CommandResult {
			return &commands.CommandResult{Text: "Bye."}
		},
	})
}

// AgentText prints an assistant reply.
func (c *Console) AgentText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.println(c.style.assistant.Render(text))
}

// Notice prints a bridge notification.
func (c *Console) Notice(text string, level host.Level) {
	switch level {
	case host.LevelError:
		c.println(c.style.err.Render("✗ " + text))
	case host.LevelWarning:
		c.println(c.style.warn.Render("! " + text))
	default:
		c.println(c.style.info.Render(text))
	}
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

// Run reads lines until EOF, /quit, ctx cancellation or done closing.
func (c *Console) Run(ctx context.Context, done <-chan struct{}) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	c.println(c.style.help.Render("Type a message for the agent, or /help for commands."))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			c.Notice("agent exited", host.LevelWarning)
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if c.handleLine(ctx, line) {
				return nil
			}
		}
	}
}

// handleLine processes one input line and reports whether to quit.
func (c *Console) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if commands.IsCommand(line) {
		res := c.cmds.Execute(ctx, line, c.agent.Session())
		c.printResult(res)
		name := strings.ToLower(strings.Fields(line)[0])
		return name == "/quit" || name == "/exit"
	}

	now := c.now()
	delivery := host.Immediate
	if !c.state.MarkBusy(now) {
		delivery = host.FollowUp
	}
	if err := c.agent.SendUserMessage(ctx, host.TextTurn(line), delivery); err != nil {
		if delivery == host.Immediate {
			c.state.SetBusy(false, now)
		}
		L_warn("console: send failed", "error", err)
		c.Notice(fmt.Sprintf("Couldn't send that to the agent: %v", err), host.LevelError)
		return false
	}
	if delivery == host.FollowUp {
		c.println(c.style.help.Render("(queued after the current turn)"))
	}
	return false
}

func (c *Console) printResult(res *commands.CommandResult) {
	if res.Text == "" {
		return
	}
	if res.Error != nil {
		c.println(c.style.err.Render(res.Text))
		return
	}
	c.println(c.style.command.Render(res.Text))
}
