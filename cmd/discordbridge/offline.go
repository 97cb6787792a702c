package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/roelfdiedericks/discordbridge/internal/commands"
	"github.com/roelfdiedericks/discordbridge/internal/host"
	"github.com/roelfdiedericks/discordbridge/internal/store"
)

// cliHost stands in for the agent when a command runs outside a session.
type cliHost struct {
	sess host.SessionInfo
}

func (h *cliHost) Session() host.SessionInfo { return h.sess }

func (h *cliHost) SendUserMessage(ctx context.Context, turn host.Turn, d host.Delivery) error {
	return host.ErrNotRunning
}

func (h *cliHost) Notify(text string, level host.Level) {
	fmt.Fprintln(os.Stderr, text)
}

func (h *cliHost) RecentMessages(ctx context.Context) ([]host.Message, error) {
	return nil, nil
}

// SessionFlags name the session a thread command applies to.
type SessionFlags struct {
	Session string `required:"" help:"Session key the thread is bound to." placeholder:"KEY"`
	Project string `help:"Project directory used in thread names." type:"path" default:"." placeholder:"DIR"`
}

func (f SessionFlags) info() host.SessionInfo {
	return host.SessionInfo{Key: f.Session, ProjectDir: f.Project}
}

// report prints a command result and turns failure into an exit code.
func report(res *commands.CommandResult) error {
	if res.Error != nil {
		fmt.Fprintln(os.Stderr, res.Text)
		return exitError{code: 1}
	}
	fmt.Println(res.Text)
	return nil
}

// SetupCmd stores the channel id. A running bridge picks it up through its
// config watch.
type SetupCmd struct {
	ChannelID string `arg:"" name:"channel-id" help:"Discord text or forum channel id."`
}

func (c *SetupCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	id := strings.TrimSpace(c.ChannelID)
	if id == "" {
		return fmt.Errorf("channel id is empty")
	}
	if _, err := a.state.UpdateConfig(func(cfg *store.BridgeConfig) {
		cfg.ChannelID = id
		cfg.Enabled = true
	}); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Discord channel set to %s.\n", id)
	if _, ok := a.settings.Token(); !ok {
		fmt.Printf("Note: %s is not set; the bridge will stay offline until it is.\n", a.settings.TokenEnv)
	}
	return nil
}

// ToggleCmd flips the enabled flag.
type ToggleCmd struct{}

func (c *ToggleCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	cfg, err := a.state.UpdateConfig(func(cfg *store.BridgeConfig) {
		cfg.Enabled = !cfg.Enabled
	})
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if cfg.Enabled {
		fmt.Println("Discord notifications enabled.")
	} else {
		fmt.Println("Discord notifications disabled.")
	}
	return nil
}

// ConfigCmd shows the configuration, optionally for one session.
type ConfigCmd struct {
	Session string `help:"Also show this session's thread." placeholder:"KEY"`
}

func (c *ConfigCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	t := a.attach(&cliHost{})
	defer t.close()
	res := t.cmds.Execute(context.Background(), "/discord-config", host.SessionInfo{Key: c.Session})
	if err := report(res); err != nil {
		return err
	}
	fmt.Printf("  Bound sessions: %d\n", len(a.state.Bindings()))
	return nil
}

// UnmuteCmd unmutes by session key or thread id.
type UnmuteCmd struct {
	Target string `arg:"" help:"Session key or thread id."`
}

func (c *UnmuteCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	threadID := c.Target
	if id, ok := a.state.Binding(c.Target); ok {
		threadID = id
	}
	was, err := a.state.Unmute(threadID)
	if err != nil {
		return fmt.Errorf("save muted set: %w", err)
	}
	if !was {
		fmt.Printf("Thread %s is not muted.\n", threadID)
		return nil
	}
	fmt.Printf("Notifications resumed for thread %s.\n", threadID)
	return nil
}

// TestNotifyCmd connects and posts a test notice to a session's thread.
type TestNotifyCmd struct {
	SessionFlags
}

func (c *TestNotifyCmd) Run(g *Globals) error {
	return runOnline(g, c.info(), "/discord-test")
}

// RenameCmd connects and renames a session's thread.
type RenameCmd struct {
	SessionFlags
	Name []string `arg:"" help:"New thread name."`
}

func (c *RenameCmd) Run(g *Globals) error {
	return runOnline(g, c.info(), "/discord-rename "+strings.Join(c.Name, " "))
}

// runOnline connects the gateway for sess, runs one bridge command and
// disconnects.
func runOnline(g *Globals, sess host.SessionInfo, line string) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	t := a.attach(&cliHost{sess: sess})
	defer t.close()

	t.connect(ctx, sess)
	return report(t.cmds.Execute(ctx, line, sess))
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("discordbridge %s\n", version)
	return nil
}
